package ceremony

import (
	"errors"

	json "github.com/nikkolasg/hexjson"

	"github.com/drand/ceremony/crypto"
)

// ContributionInfo is the summary a contributor posts once its contribution
// has been accepted.
type ContributionInfo struct {
	PublicKey                 string     `json:"public_key"`
	FullName                  string     `json:"full_name,omitempty"`
	Email                     string     `json:"email,omitempty"`
	IsIncentivized            bool       `json:"is_incentivized"`
	IsContestParticipant      bool       `json:"is_contest_participant"`
	CeremonyRound             uint64     `json:"ceremony_round"`
	AttemptID                 string     `json:"attempt_id,omitempty"`
	ContributionHash          string     `json:"contribution_hash"`
	ContributionHashSignature string     `json:"contribution_hash_signature"`
	Timestamps                Timestamps `json:"timestamps"`
	ContributorInfoSignature  string     `json:"contributor_info_signature,omitempty"`
}

// SignatureMessage returns the serialized record without its own signature.
func (c *ContributionInfo) SignatureMessage() ([]byte, error) {
	unsigned := *c
	unsigned.ContributorInfoSignature = ""
	return json.Marshal(&unsigned)
}

// Sign sets ContributorInfoSignature with kp. The record must belong to kp.
func (c *ContributionInfo) Sign(kp *crypto.Keypair) error {
	if c.PublicKey != kp.PublicKey() {
		return errors.New("contribution info belongs to another public key")
	}
	msg, err := c.SignatureMessage()
	if err != nil {
		return err
	}
	sig, err := kp.Sign(msg)
	if err != nil {
		return err
	}
	c.ContributorInfoSignature = sig
	return nil
}

// VerifySignature checks both the record signature and the contribution hash
// signature against PublicKey.
func (c *ContributionInfo) VerifySignature() error {
	if c.ContributorInfoSignature == "" {
		return errors.New("contribution info is not signed")
	}
	msg, err := c.SignatureMessage()
	if err != nil {
		return err
	}
	if err := crypto.Verify(c.PublicKey, msg, c.ContributorInfoSignature); err != nil {
		return err
	}
	return crypto.Verify(c.PublicKey, []byte(c.ContributionHash), c.ContributionHashSignature)
}
