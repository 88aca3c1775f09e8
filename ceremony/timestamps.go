package ceremony

import (
	"fmt"
	"time"
)

// Phase names one of the timestamped steps of a contribution, in the order
// they happen.
type Phase int

const (
	StartContribution Phase = iota
	JoinedQueue
	ChallengeLocked
	ChallengeDownloaded
	StartComputation
	EndComputation
	EndContribution
)

var phaseNames = [...]string{
	"start_contribution",
	"joined_queue",
	"challenge_locked",
	"challenge_downloaded",
	"start_computation",
	"end_computation",
	"end_contribution",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Timestamps records when each phase of a contribution happened. A zero
// value means the phase has not happened.
type Timestamps struct {
	StartContribution   time.Time `json:"start_contribution"`
	JoinedQueue         time.Time `json:"joined_queue"`
	ChallengeLocked     time.Time `json:"challenge_locked"`
	ChallengeDownloaded time.Time `json:"challenge_downloaded"`
	StartComputation    time.Time `json:"start_computation"`
	EndComputation      time.Time `json:"end_computation"`
	EndContribution     time.Time `json:"end_contribution"`
}

func (t *Timestamps) field(p Phase) *time.Time {
	switch p {
	case StartContribution:
		return &t.StartContribution
	case JoinedQueue:
		return &t.JoinedQueue
	case ChallengeLocked:
		return &t.ChallengeLocked
	case ChallengeDownloaded:
		return &t.ChallengeDownloaded
	case StartComputation:
		return &t.StartComputation
	case EndComputation:
		return &t.EndComputation
	case EndContribution:
		return &t.EndContribution
	}
	return nil
}

// Get returns the time recorded for p.
func (t *Timestamps) Get(p Phase) time.Time {
	if f := t.field(p); f != nil {
		return *f
	}
	return time.Time{}
}

// Stamp records p at the given time. Each phase is stamped once, after every
// earlier phase, and never before them.
func (t *Timestamps) Stamp(p Phase, at time.Time) error {
	f := t.field(p)
	if f == nil {
		return fmt.Errorf("unknown phase %d", int(p))
	}
	if !f.IsZero() {
		return fmt.Errorf("%s already recorded", p)
	}
	if at.IsZero() {
		return fmt.Errorf("%s stamped with a zero time", p)
	}
	for prev := StartContribution; prev < p; prev++ {
		pt := t.Get(prev)
		if pt.IsZero() {
			return fmt.Errorf("%s stamped before %s", p, prev)
		}
		if at.Before(pt) {
			return fmt.Errorf("%s at %s is earlier than %s at %s", p, at, prev, pt)
		}
	}
	*f = at
	return nil
}

// Validate checks that the recorded phases form a prefix of the phase order
// and are non decreasing.
func (t *Timestamps) Validate() error {
	var last time.Time
	lastPhase := Phase(-1)
	gap := Phase(-1)
	for p := StartContribution; p <= EndContribution; p++ {
		cur := t.Get(p)
		if cur.IsZero() {
			if gap < 0 {
				gap = p
			}
			continue
		}
		if gap >= 0 {
			return fmt.Errorf("%s is set but %s is not", p, gap)
		}
		if lastPhase >= 0 && cur.Before(last) {
			return fmt.Errorf("%s at %s is earlier than %s at %s", p, cur, lastPhase, last)
		}
		last, lastPhase = cur, p
	}
	return nil
}

// ComputationTime returns how long the computation took, zero if unknown.
func (t *Timestamps) ComputationTime() time.Duration {
	if t.StartComputation.IsZero() || t.EndComputation.IsZero() {
		return 0
	}
	return t.EndComputation.Sub(t.StartComputation)
}
