package contributor

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/crypto"
	"github.com/drand/ceremony/internal/metrics"
)

// attempt runs one active cycle: lock a chunk, download its challenge,
// compute, upload and have the contribution accepted, then post the signed
// summary. info is this attempt's own copy.
//
// A non nil summary means the coordinator accepted the contribution, even
// if a later step failed.
func (c *Contributor) attempt(ctx context.Context, info ceremony.ContributionInfo) (*ceremony.ContributionInfo, error) {
	info.AttemptID = uuid.NewString()
	l := c.l.With("attempt", info.AttemptID)
	stamp := func(p ceremony.Phase) error {
		if err := info.Timestamps.Stamp(p, c.now()); err != nil {
			return fmt.Errorf("recording %s: %w", p, err)
		}
		return nil
	}

	c.conf.reporter.Stage("Locking chunk")
	locked, err := c.coord.LockChunk(ctx)
	if err != nil {
		return nil, fmt.Errorf("locking chunk: %w", err)
	}
	if err := stamp(ceremony.ChallengeLocked); err != nil {
		return nil, err
	}
	next := locked.NextContribution()
	info.CeremonyRound = next.RoundHeight
	l = l.With("round", next.RoundHeight, "chunk", next.ChunkID, "contribution", next.ContributionID)
	l.Infow("locked chunk")

	expected := ceremony.TaskFromLocators(locked)
	task, err := c.coord.GetTask(ctx, locked)
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	if task != expected {
		return nil, common.NewError(common.UnknownTask, "get-task",
			fmt.Sprintf("coordinator returned task %s, locked chunk designates %s", task, expected))
	}

	c.conf.reporter.Stage("Downloading challenge")
	challenge, err := c.coord.DownloadChallenge(ctx, locked)
	if err != nil {
		return nil, fmt.Errorf("downloading challenge: %w", err)
	}
	if err := stamp(ceremony.ChallengeDownloaded); err != nil {
		return nil, err
	}
	c.saveChallenge(next.RoundHeight, challenge)
	challengeHash := crypto.Hash(challenge)
	l.Debugw("downloaded challenge", "size", len(challenge), "hash", crypto.PrettyHash(challengeHash))

	c.conf.reporter.Stage("Computing contribution")
	if err := stamp(ceremony.StartComputation); err != nil {
		return nil, err
	}
	contribution, err := c.compute(ctx, challenge, challengeHash)
	if err != nil {
		return nil, err
	}
	if err := stamp(ceremony.EndComputation); err != nil {
		return nil, err
	}
	computation := info.Timestamps.ComputationTime()
	metrics.ComputationDuration.Observe(computation.Seconds())
	l.Infow("computed contribution", "took", computation)

	contributionHash := crypto.Hash(contribution)
	info.ContributionHash = hex.EncodeToString(contributionHash)
	if info.ContributionHashSignature, err = c.keypair.Sign([]byte(info.ContributionHash)); err != nil {
		return nil, fmt.Errorf("signing contribution hash: %w", err)
	}
	state, err := ceremony.NewContributionState(challengeHash, contributionHash, nil)
	if err != nil {
		return nil, err
	}
	fileSig, err := ceremony.SignContributionState(c.keypair, state)
	if err != nil {
		return nil, fmt.Errorf("signing contribution state: %w", err)
	}

	c.conf.reporter.Stage("Uploading contribution")
	upload := &ceremony.PostChunkRequest{
		ContributionLocator:              next,
		Contribution:                     contribution,
		ContributionFileSignatureLocator: locked.NextContributionFileSignature(),
		ContributionFileSignature:        fileSig,
	}
	if err := c.coord.UploadContribution(ctx, upload); err != nil {
		return nil, fmt.Errorf("uploading contribution: %w", err)
	}

	accepted, err := c.coord.NotifyContribution(ctx, task.ChunkID)
	if err != nil {
		return nil, fmt.Errorf("notifying contribution: %w", err)
	}
	if err := stamp(ceremony.EndContribution); err != nil {
		return nil, err
	}
	l.Infow("contribution accepted", "next_contribution", accepted.ContributionID)

	if err := info.Timestamps.Validate(); err != nil {
		return &info, err
	}
	if err := info.Sign(c.keypair); err != nil {
		return &info, fmt.Errorf("signing contribution summary: %w", err)
	}
	c.saveSummary(&info)
	if err := c.coord.PostContributionInfo(ctx, &info); err != nil {
		return &info, fmt.Errorf("posting contribution summary: %w", err)
	}
	return &info, nil
}

// compute runs the computation on its own goroutine. On cancellation it
// still waits for the computer to return, so no computation outlives the
// lifecycle.
func (c *Contributor) compute(ctx context.Context, challenge, challengeHash []byte) ([]byte, error) {
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.conf.computer.Compute(ctx, challenge, challengeHash)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		c.l.Infow("waiting for the computation to stop")
		<-done
		return nil, context.Cause(ctx)
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, common.WrapError(common.ComputationFailure, "compute", res.err)
		}
		if want := c.conf.computer.ContributionSize(len(challenge)); len(res.out) != want {
			return nil, common.NewError(common.ComputationFailure, "compute",
				fmt.Sprintf("contribution has %d bytes, expected %d", len(res.out), want))
		}
		return res.out, nil
	}
}
