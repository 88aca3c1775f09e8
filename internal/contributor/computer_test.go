package contributor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drand/ceremony/crypto"
)

func TestDevComputer(t *testing.T) {
	challenge := bytes.Repeat([]byte{9}, 1024)
	hash := crypto.Hash(challenge)

	var c DevComputer
	out1, err := c.Compute(context.Background(), challenge, hash)
	require.NoError(t, err)
	require.Len(t, out1, c.ContributionSize(len(challenge)))
	require.Equal(t, hash, out1[:crypto.HashSize])

	out2, err := c.Compute(context.Background(), challenge, hash)
	require.NoError(t, err)
	require.NotEqual(t, out1, out2)

	seeded := DevComputer{Rand: bytes.NewReader(bytes.Repeat([]byte{1}, 64))}
	short, err := seeded.Compute(context.Background(), challenge[:16], hash)
	require.NoError(t, err)
	require.Equal(t, hash[:16], short)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compute(ctx, challenge, hash)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecComputer(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	challenge := []byte("challenge bytes")
	c := &ExecComputer{Path: "cat"}
	out, err := c.Compute(context.Background(), challenge, crypto.Hash(challenge))
	require.NoError(t, err)
	require.Equal(t, challenge, out)
	require.Equal(t, len(challenge), c.ContributionSize(len(challenge)))

	double := &ExecComputer{Path: "sh", Args: []string{"-c", "cat; cat"}, OutputSize: func(n int) int { return 2 * n }}
	out, err = double.Compute(context.Background(), challenge, nil)
	require.NoError(t, err)
	require.Len(t, out, double.ContributionSize(len(challenge)))

	failing := &ExecComputer{Path: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}}
	_, err = failing.Compute(context.Background(), challenge, nil)
	require.ErrorContains(t, err, "broken")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sleeping := &ExecComputer{Path: "sleep", Args: []string{"10"}}
	_, err = sleeping.Compute(ctx, challenge, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestArtifactNames(t *testing.T) {
	kp := crypto.NewKeypair()
	name := ChallengeFileName(5, kp.PublicKey())
	require.True(t, strings.HasPrefix(name, "challenge_round_5_public_key_"))
	require.True(t, strings.HasSuffix(name, ".params"))
	require.NotContains(t, name, "/")
	require.NotContains(t, name, "=")
	require.Equal(t, "contributor_info_round_5.json", SummaryFileName(5))
}

func TestEstimateWait(t *testing.T) {
	require.Equal(t, 15*time.Minute, EstimateWait(3, DefaultSlotDuration))
	require.Equal(t, "15 min", FormatWait(15*time.Minute))
	require.Equal(t, "1 min", FormatWait(time.Minute+10*time.Second))
	require.Equal(t, "0 min", FormatWait(0))
}
