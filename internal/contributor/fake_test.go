package contributor

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/common"
)

// scriptedCoordinator plays back a fixed sequence of statuses and records
// every request it gets. Like the real coordinator it keeps a granted lock
// until the contribution is accepted, and hands the same locators back to a
// lock request made while holding it.
type scriptedCoordinator struct {
	mu sync.Mutex

	pubkey     string
	statuses   []ceremony.ContributorStatus
	statusErr  error
	locked     ceremony.LockedLocators
	lockErr    error
	lockErrs   []error
	task       *ceremony.Task
	wrongTasks []ceremony.Task
	held       bool
	renewals   int
	challenge  []byte
	heartbeat  error
	heartbeats int
	joined     int
	locks      int
	uploads    []*ceremony.PostChunkRequest
	notified   []uint64
	infos      []*ceremony.ContributionInfo
}

func newScriptedCoordinator(pubkey string, statuses ...ceremony.ContributorStatus) *scriptedCoordinator {
	return &scriptedCoordinator{
		pubkey:   pubkey,
		statuses: statuses,
		locked: ceremony.LockedLocators{
			Current:           ceremony.ContributionLocator{RoundHeight: 5, ChunkID: 0, ContributionID: 1, IsVerified: true},
			Next:              ceremony.ContributionLocator{RoundHeight: 5, ChunkID: 0, ContributionID: 2},
			NextFileSignature: ceremony.ContributionSignatureLocator{RoundHeight: 5, ChunkID: 0, ContributionID: 2},
		},
		challenge: bytes.Repeat([]byte{0x42}, 1024),
	}
}

func (s *scriptedCoordinator) JoinQueue(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined++
	return nil
}

func (s *scriptedCoordinator) QueueStatus(_ context.Context) (ceremony.ContributorStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return ceremony.ContributorStatus{}, s.statusErr
	}
	st := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return st, nil
}

func (s *scriptedCoordinator) LockChunk(_ context.Context) (*ceremony.LockedLocators, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks++
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	if len(s.lockErrs) > 0 {
		err := s.lockErrs[0]
		s.lockErrs = s.lockErrs[1:]
		return nil, err
	}
	if s.held {
		s.renewals++
	}
	s.held = true
	locked := s.locked
	return &locked, nil
}

func (s *scriptedCoordinator) GetTask(_ context.Context, locked *ceremony.LockedLocators) (ceremony.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return ceremony.Task{}, common.NewError(common.CoordinatorRejected, "get-task", "chunk not locked")
	}
	if len(s.wrongTasks) > 0 {
		task := s.wrongTasks[0]
		s.wrongTasks = s.wrongTasks[1:]
		return task, nil
	}
	if s.task != nil {
		return *s.task, nil
	}
	return ceremony.TaskFromLocators(locked), nil
}

func (s *scriptedCoordinator) TasksLeft(_ context.Context) ([]ceremony.Task, error) {
	return []ceremony.Task{ceremony.TaskFromLocators(&s.locked)}, nil
}

func (s *scriptedCoordinator) DownloadChallenge(_ context.Context, _ *ceremony.LockedLocators) ([]byte, error) {
	return append([]byte(nil), s.challenge...), nil
}

func (s *scriptedCoordinator) UploadContribution(_ context.Context, req *ceremony.PostChunkRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := req.ContributionFileSignature.Verify(s.pubkey); err != nil {
		return common.WrapError(common.CoordinatorRejected, "upload", err)
	}
	s.uploads = append(s.uploads, req)
	return nil
}

func (s *scriptedCoordinator) NotifyContribution(_ context.Context, chunkID uint64) (*ceremony.ContributionLocator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return nil, common.NewError(common.CoordinatorRejected, "notify", "chunk not locked")
	}
	s.held = false
	s.notified = append(s.notified, chunkID)
	next := s.locked.Next
	next.ContributionID++
	return &next, nil
}

func (s *scriptedCoordinator) Heartbeat(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return s.heartbeat
}

func (s *scriptedCoordinator) PostContributionInfo(_ context.Context, info *ceremony.ContributionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, info)
	return nil
}

func (s *scriptedCoordinator) heartbeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}

// sizedComputer returns contributions of a fixed size.
type sizedComputer struct {
	size int
}

func (c sizedComputer) ContributionSize(n int) int { return n }

func (c sizedComputer) Compute(_ context.Context, _, _ []byte) ([]byte, error) {
	return make([]byte, c.size), nil
}

// blockingComputer never finishes on its own.
type blockingComputer struct {
	started chan struct{}
}

func (blockingComputer) ContributionSize(n int) int { return n }

func (b blockingComputer) Compute(ctx context.Context, _, _ []byte) ([]byte, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

// stubbornComputer ignores cancellation until released.
type stubbornComputer struct {
	started  chan struct{}
	release  chan struct{}
	finished *atomic.Bool
}

func (stubbornComputer) ContributionSize(n int) int { return n }

func (s stubbornComputer) Compute(_ context.Context, challenge, _ []byte) ([]byte, error) {
	close(s.started)
	<-s.release
	s.finished.Store(true)
	return make([]byte, len(challenge)), nil
}
