package contributor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	clock "github.com/jonboulle/clockwork"

	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/internal/metrics"
)

// Beater is the part of the coordinator the heartbeat talks to.
type Beater interface {
	Heartbeat(ctx context.Context) error
}

// HeartbeatConfig holds all the required information for the heartbeat to
// proceed.
type HeartbeatConfig struct {
	// Log where failed heartbeats are reported
	Log log.Logger
	// Clock to regulate the heartbeats
	Clock clock.Clock
	// Target receives the heartbeats
	Target Beater
	// Frequency at which heartbeats are sent
	Frequency time.Duration
	// MaxFailures is the number of consecutive failures after which the
	// heartbeat gives up. Zero or less means it never does.
	MaxFailures int
	// OnFatal is called once, from the heartbeat goroutine, when it gives up.
	OnFatal func(error)
}

// Heartbeat periodically tells the coordinator the contributor is alive,
// from its own goroutine.
type Heartbeat struct {
	c        *HeartbeatConfig
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartHeartbeat sends a first heartbeat right away and then one every
// c.Frequency until Stop is called or ctx is done.
func StartHeartbeat(ctx context.Context, c *HeartbeatConfig) *Heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{
		c:      c,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

func (h *Heartbeat) run(ctx context.Context) {
	defer close(h.done)

	ticker := h.c.Clock.NewTicker(h.c.Frequency)
	defer ticker.Stop()

	var failures *multierror.Error
	for {
		if err := h.c.Target.Heartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.HeartbeatFailures.Inc()
			failures = multierror.Append(failures, err)
			h.c.Log.Warnw("heartbeat failed", "consecutive", failures.Len(), "err", err)
			if h.c.MaxFailures > 0 && failures.Len() >= h.c.MaxFailures {
				h.c.Log.Errorw("giving up on heartbeats", "failures", failures.Len())
				if h.c.OnFatal != nil {
					h.c.OnFatal(fmt.Errorf("%d consecutive heartbeats failed: %w", failures.Len(), failures))
				}
				return
			}
		} else {
			failures = nil
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// Stop ends the heartbeat and waits for its goroutine to exit. It may be
// called any number of times.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the heartbeat goroutine has exited.
func (h *Heartbeat) Done() <-chan struct{} {
	return h.done
}

// Stopped reports whether the heartbeat goroutine has exited.
func (h *Heartbeat) Stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
