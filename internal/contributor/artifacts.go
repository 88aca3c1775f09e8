package contributor

import (
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/mr-tron/base58"
	json "github.com/nikkolasg/hexjson"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/internal/fs"
)

// ChallengeFileName is the name of the challenge snapshot of a round. The
// public key is base58 encoded since base64 may contain '/'.
func ChallengeFileName(round uint64, pubkey string) string {
	name := pubkey
	if raw, err := base64.StdEncoding.DecodeString(pubkey); err == nil {
		name = base58.Encode(raw)
	}
	return fmt.Sprintf("challenge_round_%d_public_key_%s.params", round, name)
}

// SummaryFileName is the name of the contribution summary of a round.
func SummaryFileName(round uint64) string {
	return fmt.Sprintf("contributor_info_round_%d.json", round)
}

// saveChallenge and saveSummary are best effort: a failure is logged and
// the contribution goes on.

func (c *Contributor) saveChallenge(round uint64, challenge []byte) {
	if c.conf.artifactsFolder == "" {
		return
	}
	path := filepath.Join(c.conf.artifactsFolder, ChallengeFileName(round, c.keypair.PublicKey()))
	if err := fs.WriteSecureFile(path, challenge); err != nil {
		c.l.Warnw("could not save challenge snapshot", "path", path, "err", err)
		return
	}
	c.l.Debugw("saved challenge snapshot", "path", path)
}

func (c *Contributor) saveSummary(info *ceremony.ContributionInfo) {
	if c.conf.artifactsFolder == "" {
		return
	}
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		c.l.Warnw("could not encode contribution summary", "err", err)
		return
	}
	path := filepath.Join(c.conf.artifactsFolder, SummaryFileName(info.CeremonyRound))
	if err := fs.WriteSecureFile(path, b); err != nil {
		c.l.Warnw("could not save contribution summary", "path", path, "err", err)
		return
	}
	c.l.Debugw("saved contribution summary", "path", path)
}
