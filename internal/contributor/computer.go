package contributor

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Computer turns a challenge into a contribution. Compute may take hours and
// should return when ctx is done: a cancelled contribution waits for it.
type Computer interface {
	Compute(ctx context.Context, challenge, challengeHash []byte) ([]byte, error)
	// ContributionSize returns the length a contribution to a challenge of
	// challengeLen bytes must have.
	ContributionSize(challengeLen int) int
}

// DevComputer derives a contribution of the same length as the challenge by
// expanding the challenge with fresh randomness. It exercises the protocol
// without any cryptographic meaning and must not be used in a real ceremony.
type DevComputer struct {
	// Rand is the randomness source, crypto/rand when nil.
	Rand io.Reader
}

func (DevComputer) ContributionSize(challengeLen int) int {
	return challengeLen
}

func (d DevComputer) Compute(ctx context.Context, challenge, challengeHash []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := d.Rand
	if r == nil {
		r = rand.Reader
	}
	secret := make([]byte, 32)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("reading randomness: %w", err)
	}

	out := make([]byte, len(challenge))
	// the response starts with the hash of the challenge it answers
	n := copy(out, challengeHash)

	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, secret)
	if err != nil {
		return nil, err
	}
	if _, err := xof.Write(challenge); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(xof, out[n:]); err != nil {
		return nil, err
	}
	return out, nil
}

// ExecComputer runs an external program. The challenge is written to its
// standard input and the contribution read from its standard output. The
// hex challenge hash is passed in CEREMONY_CHALLENGE_HASH.
type ExecComputer struct {
	Path string
	Args []string
	// OutputSize maps a challenge length to the expected contribution
	// length. Contributions are as long as their challenge when nil.
	OutputSize func(challengeLen int) int
}

func (e *ExecComputer) ContributionSize(challengeLen int) int {
	if e.OutputSize == nil {
		return challengeLen
	}
	return e.OutputSize(challengeLen)
}

func (e *ExecComputer) Compute(ctx context.Context, challenge, challengeHash []byte) ([]byte, error) {
	//nolint:gosec
	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	cmd.Env = append(os.Environ(), "CEREMONY_CHALLENGE_HASH="+hex.EncodeToString(challengeHash))
	cmd.Stdin = bytes.NewReader(challenge)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("running %s: %w: %s", e.Path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
