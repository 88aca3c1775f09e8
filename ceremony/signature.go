package ceremony

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/nikkolasg/hexjson"

	"github.com/drand/ceremony/crypto"
)

// ErrInvalidHash is returned when a hash does not have crypto.HashSize bytes.
var ErrInvalidHash = errors.New("invalid hash length")

// ContributionState binds a contribution to the challenge it was computed
// from.
type ContributionState struct {
	ChallengeHash     []byte `json:"challenge_hash"`
	ContributionHash  []byte `json:"contribution_hash"`
	NextChallengeHash []byte `json:"next_challenge_hash"`
}

// NewContributionState checks the hash lengths. nextChallengeHash may be nil.
func NewContributionState(challengeHash, contributionHash, nextChallengeHash []byte) (*ContributionState, error) {
	if len(challengeHash) != crypto.HashSize {
		return nil, fmt.Errorf("%w: challenge hash has %d bytes", ErrInvalidHash, len(challengeHash))
	}
	if len(contributionHash) != crypto.HashSize {
		return nil, fmt.Errorf("%w: contribution hash has %d bytes", ErrInvalidHash, len(contributionHash))
	}
	if nextChallengeHash != nil && len(nextChallengeHash) != crypto.HashSize {
		return nil, fmt.Errorf("%w: next challenge hash has %d bytes", ErrInvalidHash, len(nextChallengeHash))
	}
	return &ContributionState{
		ChallengeHash:     challengeHash,
		ContributionHash:  contributionHash,
		NextChallengeHash: nextChallengeHash,
	}, nil
}

// SignatureMessage returns the canonical bytes that get signed.
func (s *ContributionState) SignatureMessage() ([]byte, error) {
	return json.Marshal(s)
}

// Equal reports whether both states bind the same hashes.
func (s *ContributionState) Equal(o *ContributionState) bool {
	return bytes.Equal(s.ChallengeHash, o.ChallengeHash) &&
		bytes.Equal(s.ContributionHash, o.ContributionHash) &&
		bytes.Equal(s.NextChallengeHash, o.NextChallengeHash)
}

// ContributionFileSignature is the signed ContributionState uploaded along
// with a contribution.
type ContributionFileSignature struct {
	Signature         string             `json:"signature"`
	ContributionState *ContributionState `json:"contribution_state"`
}

// NewContributionFileSignature checks both parts are present.
func NewContributionFileSignature(signature string, state *ContributionState) (*ContributionFileSignature, error) {
	if signature == "" {
		return nil, errors.New("empty contribution file signature")
	}
	if state == nil {
		return nil, errors.New("missing contribution state")
	}
	return &ContributionFileSignature{Signature: signature, ContributionState: state}, nil
}

// SignContributionState signs state with kp.
func SignContributionState(kp *crypto.Keypair, state *ContributionState) (*ContributionFileSignature, error) {
	msg, err := state.SignatureMessage()
	if err != nil {
		return nil, err
	}
	sig, err := kp.Sign(msg)
	if err != nil {
		return nil, err
	}
	return NewContributionFileSignature(sig, state)
}

// Verify checks the signature against pubkey.
func (s *ContributionFileSignature) Verify(pubkey string) error {
	if s.ContributionState == nil {
		return errors.New("missing contribution state")
	}
	msg, err := s.ContributionState.SignatureMessage()
	if err != nil {
		return err
	}
	return crypto.Verify(pubkey, msg, s.Signature)
}
