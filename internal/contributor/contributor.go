// Package contributor drives a participant through a ceremony: it joins the
// coordinator's queue, waits for its turn, computes and uploads its
// contributions and keeps the coordinator informed that it is alive.
package contributor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/client"
	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/crypto"
	"github.com/drand/ceremony/internal/metrics"
)

// State is where a contributor stands in the ceremony.
type State int

const (
	NotQueued State = iota
	Queued
	Active
	AwaitingNextPoll
	Done
)

func (s State) String() string {
	switch s {
	case NotQueued:
		return "NotQueued"
	case Queued:
		return "Queued"
	case Active:
		return "Active"
	case AwaitingNextPoll:
		return "AwaitingNextPoll"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Contributor runs the contribution lifecycle of one keypair against one
// coordinator.
type Contributor struct {
	conf    *Config
	coord   client.Coordinator
	keypair *crypto.Keypair
	l       log.Logger

	mu    sync.Mutex
	state State
}

// New returns a contributor acting as kp. coord must be bound to the same
// keypair.
func New(coord client.Coordinator, kp *crypto.Keypair, opts ...ConfigOption) *Contributor {
	conf := NewConfig(opts...)
	return &Contributor{
		conf:    conf,
		coord:   coord,
		keypair: kp,
		l:       conf.logger.Named("contributor").With("pubkey", kp.PublicKey()),
	}
}

// State returns the current lifecycle state.
func (c *Contributor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Contributor) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.l.Debugw("state transition", "from", prev, "to", s)
	}
}

func (c *Contributor) now() time.Time {
	return c.conf.clock.Now()
}

// Contribute joins the queue and contributes every time the coordinator
// hands the contributor a round, until the coordinator reports it finished.
// info supplies the contributor's details; the returned summaries are the
// ones posted for each accepted contribution, also when an error is
// returned.
func (c *Contributor) Contribute(ctx context.Context, info ceremony.ContributionInfo) ([]*ceremony.ContributionInfo, error) {
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	info.PublicKey = c.keypair.PublicKey()
	info.ContributorInfoSignature = ""
	if info.Timestamps.StartContribution.IsZero() {
		if err := info.Timestamps.Stamp(ceremony.StartContribution, c.now()); err != nil {
			return nil, err
		}
	}

	if err := c.coord.JoinQueue(ctx); err != nil {
		return nil, c.failure(ctx, fmt.Errorf("joining queue: %w", err))
	}
	if err := info.Timestamps.Stamp(ceremony.JoinedQueue, c.now()); err != nil {
		return nil, err
	}
	c.setState(Queued)
	c.l.Infow("joined queue")

	hb := c.startHeartbeat(ctx, abort)
	defer func() {
		hb.Stop()
	}()

	var contributed []*ceremony.ContributionInfo
	lost := 0
	for {
		status, err := c.coord.QueueStatus(ctx)
		if err != nil {
			return contributed, c.failure(ctx, fmt.Errorf("polling queue status: %w", err))
		}
		c.l.Debugw("queue status", "status", status)

		switch status.Kind {
		case ceremony.StatusQueue:
			if hb.Stopped() {
				hb = c.startHeartbeat(ctx, abort)
			}
			c.setState(Queued)
			metrics.QueuePosition.Set(float64(status.Position))
			c.conf.reporter.Queued(status.Position, status.Size, EstimateWait(status.Position, c.conf.slotDuration))

		case ceremony.StatusRound:
			if hb.Stopped() {
				hb = c.startHeartbeat(ctx, abort)
			}
			c.setState(Active)
			summary, err := c.attempt(ctx, info)
			switch {
			case err == nil:
				metrics.ContributionAttempts.WithLabelValues("accepted").Inc()
				hb.Stop()
				contributed = append(contributed, summary)
				ts := &summary.Timestamps
				c.conf.reporter.Contributed(summary.CeremonyRound, ts.EndContribution.Sub(ts.ChallengeLocked))
				c.setState(AwaitingNextPoll)
			case summary == nil && ctx.Err() == nil && common.IsOwnershipFailure(err):
				metrics.ContributionAttempts.WithLabelValues("lost").Inc()
				lost++
				if lost >= c.conf.maxAttempts {
					return contributed, fmt.Errorf("giving up after %d attempts: %w", lost, err)
				}
				c.l.Warnw("attempt lost its chunk, waiting in the queue again", "attempts", lost, "err", err)
				c.setState(Queued)
			default:
				metrics.ContributionAttempts.WithLabelValues("failed").Inc()
				if summary != nil {
					contributed = append(contributed, summary)
				}
				return contributed, c.failure(ctx, err)
			}

		case ceremony.StatusFinished:
			c.setState(Done)
			c.l.Infow("ceremony finished for contributor", "contributions", len(contributed))
			c.conf.reporter.Finished()
			return contributed, nil

		default:
			c.l.Warnw("unexpected status from coordinator", "status", status)
			c.conf.reporter.Anomaly()
		}

		select {
		case <-ctx.Done():
			return contributed, context.Cause(ctx)
		case <-c.conf.clock.After(c.conf.pollInterval):
		}
	}
}

// failure prefers the reason the lifecycle was cancelled, such as a dead
// heartbeat, over the error of the request that was interrupted.
func (c *Contributor) failure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		c.l.Debugw("request interrupted", "err", err)
		return context.Cause(ctx)
	}
	return err
}

func (c *Contributor) startHeartbeat(ctx context.Context, abort context.CancelCauseFunc) *Heartbeat {
	return StartHeartbeat(ctx, &HeartbeatConfig{
		Log:         c.l.Named("heartbeat"),
		Clock:       c.conf.clock,
		Target:      c.coord,
		Frequency:   c.conf.heartbeatInterval,
		MaxFailures: c.conf.maxHeartbeatFailures,
		OnFatal: func(err error) {
			abort(fmt.Errorf("lost contact with the coordinator: %w", err))
		},
	})
}
