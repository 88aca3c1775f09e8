package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/crypto"
	"github.com/drand/ceremony/internal/metrics"
)

type participant struct {
	pubkey   string
	lastSeen time.Time
	// chunks still to contribute to, in order
	pending []uint64
	locked  *uint64
}

type chunk struct {
	id uint64
	// id of the latest accepted contribution, 0 is the initial challenge
	current uint64
	holder  string
	staged  *Record
}

// State is the coordinator's view of the ceremony: who waits, who
// contributes to which chunk, and what was accepted. All methods are safe
// for concurrent use.
type State struct {
	sync.RWMutex
	conf     *Config
	l        log.Logger
	store    Store
	round    uint64
	chunks   []*chunk
	queue    []*participant
	current  map[string]*participant
	finished map[string]bool
	// accepted is the answer to each contributor's last notification
	accepted map[string]ceremony.ContributionLocator
	closed   bool
}

// NewState loads the accepted contributions of the configured round from
// the store and seeds the initial challenges that are missing.
func NewState(ctx context.Context, conf *Config) (*State, error) {
	if conf.chunks == 0 {
		return nil, errors.New("a round needs at least one chunk")
	}
	s := &State{
		conf:     conf,
		l:        conf.logger.Named("coordinator"),
		store:    conf.store,
		round:    conf.roundHeight,
		current:  make(map[string]*participant),
		finished: make(map[string]bool),
		accepted: make(map[string]ceremony.ContributionLocator),
	}
	for id := uint64(0); id < conf.chunks; id++ {
		s.chunks = append(s.chunks, &chunk{id: id})
	}

	records, err := s.store.Contributions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading contributions: %w", err)
	}
	seeded := make(map[uint64]bool)
	for _, r := range records {
		loc := r.Locator
		if loc.RoundHeight != s.round || loc.ChunkID >= conf.chunks {
			continue
		}
		if loc.ContributionID == 0 {
			seeded[loc.ChunkID] = true
		}
		if ch := s.chunks[loc.ChunkID]; loc.ContributionID > ch.current {
			ch.current = loc.ContributionID
		}
		if r.Contributor != "" {
			s.finished[r.Contributor] = true
		}
	}
	for _, ch := range s.chunks {
		if seeded[ch.id] {
			continue
		}
		r := &Record{
			Locator: ceremony.ContributionLocator{RoundHeight: s.round, ChunkID: ch.id, IsVerified: true},
			Data:    conf.initialChallenge(ch.id),
		}
		if err := s.store.PutContribution(ctx, r); err != nil {
			return nil, fmt.Errorf("seeding chunk %d: %w", ch.id, err)
		}
	}
	s.l.Infow("coordinator state ready", "round", s.round, "chunks", len(s.chunks), "contributors_done", len(s.finished))
	return s, nil
}

func rejected(op, format string, args ...interface{}) error {
	return common.NewError(common.CoordinatorRejected, op, fmt.Sprintf(format, args...))
}

func unknownContributor(op, pubkey string) error {
	return common.NewError(common.UnknownContributor, op, pubkey)
}

// participantOf returns the contributor taking part in the round, or the
// error explaining why pubkey does not.
func (s *State) participantOf(op, pubkey string) (*participant, error) {
	if p, ok := s.current[pubkey]; ok {
		return p, nil
	}
	if s.queueIndex(pubkey) >= 0 {
		return nil, rejected(op, "contributor is not in the current round")
	}
	if s.finished[pubkey] {
		return nil, rejected(op, "contributor has no task left")
	}
	return nil, unknownContributor(op, pubkey)
}

func (s *State) queueIndex(pubkey string) int {
	for i, p := range s.queue {
		if p.pubkey == pubkey {
			return i
		}
	}
	return -1
}

func (s *State) chunk(op string, id uint64) (*chunk, error) {
	if id >= uint64(len(s.chunks)) {
		return nil, common.NewError(common.UnknownTask, op, fmt.Sprintf("chunk %d does not exist", id))
	}
	return s.chunks[id], nil
}

func (s *State) nextLocator(ch *chunk) ceremony.ContributionLocator {
	return ceremony.ContributionLocator{RoundHeight: s.round, ChunkID: ch.id, ContributionID: ch.current + 1}
}

func (s *State) task(id uint64) ceremony.Task {
	return ceremony.Task{ChunkID: id, ContributionID: s.chunks[id].current + 1}
}

// promote moves queued contributors into the round while there is room.
func (s *State) promote() {
	for len(s.current) < s.conf.maxContributors && len(s.queue) > 0 {
		p := s.queue[0]
		s.queue = s.queue[1:]
		p.pending = make([]uint64, 0, len(s.chunks))
		for _, ch := range s.chunks {
			p.pending = append(p.pending, ch.id)
		}
		s.current[p.pubkey] = p
		s.l.Infow("contributor joins the round", "pubkey", p.pubkey, "tasks", len(p.pending))
	}
	metrics.QueueSize.Set(float64(len(s.queue)))
	metrics.ActiveContributors.Set(float64(len(s.current)))
}

// AddToQueue appends pubkey to the queue.
func (s *State) AddToQueue(pubkey string) error {
	const op = "join-queue"
	if _, err := crypto.ParsePublicKey(pubkey); err != nil {
		return rejected(op, "invalid public key: %v", err)
	}
	s.Lock()
	defer s.Unlock()
	switch {
	case s.closed:
		return rejected(op, "ceremony is closed")
	case s.current[pubkey] != nil || s.queueIndex(pubkey) >= 0:
		return rejected(op, "contributor already in queue")
	case s.finished[pubkey]:
		return rejected(op, "contributor already contributed")
	}
	s.queue = append(s.queue, &participant{pubkey: pubkey, lastSeen: s.conf.clock.Now()})
	s.l.Infow("contributor joined the queue", "pubkey", pubkey, "position", len(s.queue))
	s.promote()
	return nil
}

// Status returns where pubkey stands.
func (s *State) Status(pubkey string) (ceremony.ContributorStatus, error) {
	s.RLock()
	defer s.RUnlock()
	if _, ok := s.current[pubkey]; ok {
		return ceremony.Round(), nil
	}
	if i := s.queueIndex(pubkey); i >= 0 {
		return ceremony.Queue(uint64(i+1), uint64(len(s.queue))), nil
	}
	if s.finished[pubkey] {
		return ceremony.Finished(), nil
	}
	return ceremony.ContributorStatus{}, unknownContributor("get-queue-status", pubkey)
}

// TryLock locks the first pending chunk of pubkey that nobody holds. A
// contributor already holding a lock gets the same locators back and any
// contribution it staged for that chunk is discarded.
func (s *State) TryLock(pubkey string) (*ceremony.LockedLocators, error) {
	const op = "lock-chunk"
	s.Lock()
	defer s.Unlock()
	p, err := s.participantOf(op, pubkey)
	if err != nil {
		return nil, err
	}
	if p.locked != nil {
		ch := s.chunks[*p.locked]
		ch.staged = nil
		p.lastSeen = s.conf.clock.Now()
		s.l.Infow("chunk lock renewed", "pubkey", pubkey, "chunk", ch.id)
		return s.lockedLocators(ch), nil
	}
	for _, id := range p.pending {
		ch := s.chunks[id]
		if ch.holder != "" {
			continue
		}
		ch.holder = pubkey
		locked := id
		p.locked = &locked
		p.lastSeen = s.conf.clock.Now()
		s.l.Debugw("chunk locked", "pubkey", pubkey, "chunk", id, "contribution", ch.current+1)
		return s.lockedLocators(ch), nil
	}
	return nil, rejected(op, "no chunk available to lock")
}

func (s *State) lockedLocators(ch *chunk) *ceremony.LockedLocators {
	next := s.nextLocator(ch)
	return &ceremony.LockedLocators{
		Current: ceremony.ContributionLocator{
			RoundHeight:    s.round,
			ChunkID:        ch.id,
			ContributionID: ch.current,
			IsVerified:     true,
		},
		Next: next,
		NextFileSignature: ceremony.ContributionSignatureLocator{
			RoundHeight:    next.RoundHeight,
			ChunkID:        next.ChunkID,
			ContributionID: next.ContributionID,
		},
	}
}

// PendingTasks lists the tasks pubkey still has to complete.
func (s *State) PendingTasks(pubkey string) ([]ceremony.Task, error) {
	s.RLock()
	defer s.RUnlock()
	if s.finished[pubkey] && s.current[pubkey] == nil {
		return []ceremony.Task{}, nil
	}
	p, err := s.participantOf("get-tasks-left", pubkey)
	if err != nil {
		return nil, err
	}
	tasks := make([]ceremony.Task, 0, len(p.pending))
	for _, id := range p.pending {
		tasks = append(tasks, s.task(id))
	}
	return tasks, nil
}

// GetTask returns the task designated by locked if pubkey has it pending.
func (s *State) GetTask(pubkey string, locked *ceremony.LockedLocators) (ceremony.Task, error) {
	const op = "get-task"
	s.RLock()
	defer s.RUnlock()
	p, err := s.participantOf(op, pubkey)
	if err != nil {
		return ceremony.Task{}, err
	}
	want := ceremony.TaskFromLocators(locked)
	for _, id := range p.pending {
		if id == want.ChunkID && s.task(id) == want {
			return want, nil
		}
	}
	return ceremony.Task{}, common.NewError(common.UnknownTask, op, want.String())
}

// Challenge returns the challenge of the chunk pubkey locked.
func (s *State) Challenge(ctx context.Context, pubkey string, locked *ceremony.LockedLocators) ([]byte, error) {
	const op = "download-challenge"
	s.RLock()
	defer s.RUnlock()
	if _, err := s.participantOf(op, pubkey); err != nil {
		return nil, err
	}
	cur := locked.Current
	ch, err := s.chunk(op, cur.ChunkID)
	if err != nil {
		return nil, err
	}
	if ch.holder != pubkey {
		return nil, rejected(op, "chunk %d is not locked by the contributor", ch.id)
	}
	if cur.RoundHeight != s.round || cur.ContributionID != ch.current {
		return nil, rejected(op, "stale locator: %s", cur)
	}
	r, err := s.store.Contribution(ctx, s.round, ch.id, ch.current)
	if err != nil {
		return nil, rejected(op, "reading challenge: %v", err)
	}
	return r.Data, nil
}

// Upload stages a contribution for the chunk it targets. Uploading the same
// contribution again is accepted and changes nothing.
func (s *State) Upload(ctx context.Context, req *ceremony.PostChunkRequest) error {
	const op = "upload-contribution"
	s.Lock()
	defer s.Unlock()
	loc := req.ContributionLocator
	ch, err := s.chunk(op, loc.ChunkID)
	if err != nil {
		return err
	}
	if ch.holder == "" {
		return rejected(op, "chunk %d is not locked", ch.id)
	}
	if loc.RoundHeight != s.round || loc.ContributionID != ch.current+1 {
		return rejected(op, "unexpected locator: %s", loc)
	}
	sig := req.ContributionFileSignature
	if sig == nil || sig.ContributionState == nil {
		return rejected(op, "missing contribution file signature")
	}
	if err := sig.Verify(ch.holder); err != nil {
		return rejected(op, "invalid contribution file signature: %v", err)
	}
	if !bytes.Equal(sig.ContributionState.ContributionHash, crypto.Hash(req.Contribution)) {
		return rejected(op, "contribution hash does not match the contribution")
	}
	challenge, err := s.store.Contribution(ctx, s.round, ch.id, ch.current)
	if err != nil {
		return rejected(op, "reading challenge: %v", err)
	}
	if !bytes.Equal(sig.ContributionState.ChallengeHash, crypto.Hash(challenge.Data)) {
		return rejected(op, "contribution was not computed from the current challenge")
	}

	if ch.staged != nil {
		if bytes.Equal(ch.staged.Data, req.Contribution) && ch.staged.Signature.Signature == sig.Signature {
			s.l.Debugw("duplicate upload ignored", "chunk", ch.id, "contribution", loc.ContributionID)
			return nil
		}
		return rejected(op, "a different contribution was already uploaded for chunk %d", ch.id)
	}
	ch.staged = &Record{
		Locator:     ceremony.ContributionLocator{RoundHeight: s.round, ChunkID: ch.id, ContributionID: loc.ContributionID},
		Data:        append([]byte(nil), req.Contribution...),
		Signature:   sig,
		Contributor: ch.holder,
	}
	return nil
}

// Contribute accepts the contribution pubkey uploaded for chunkID and
// returns the locator of the chunk's next contribution. Repeating the
// notification of the contribution last accepted from pubkey returns the
// same locator.
func (s *State) Contribute(ctx context.Context, pubkey string, chunkID uint64) (*ceremony.ContributionLocator, error) {
	const op = "notify-contribution"
	s.Lock()
	defer s.Unlock()
	if prev, ok := s.accepted[pubkey]; ok && prev.ChunkID == chunkID && s.chunks[chunkID].holder != pubkey {
		s.l.Debugw("repeated notification", "pubkey", pubkey, "chunk", chunkID)
		return &prev, nil
	}
	p, err := s.participantOf(op, pubkey)
	if err != nil {
		return nil, err
	}
	ch, err := s.chunk(op, chunkID)
	if err != nil {
		return nil, err
	}
	if ch.holder != pubkey {
		return nil, rejected(op, "chunk %d is not locked by the contributor", ch.id)
	}
	if ch.staged == nil {
		return nil, rejected(op, "no contribution uploaded for chunk %d", ch.id)
	}
	if err := s.store.PutContribution(ctx, ch.staged); err != nil {
		return nil, rejected(op, "storing contribution: %v", err)
	}

	ch.current = ch.staged.Locator.ContributionID
	ch.holder = ""
	ch.staged = nil
	p.locked = nil
	p.lastSeen = s.conf.clock.Now()
	for i, id := range p.pending {
		if id == ch.id {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	metrics.AcceptedContributions.WithLabelValues(strconv.FormatUint(ch.id, 10)).Inc()
	s.l.Infow("contribution accepted", "pubkey", pubkey, "chunk", ch.id, "contribution", ch.current)

	if len(p.pending) == 0 {
		delete(s.current, pubkey)
		s.finished[pubkey] = true
		s.l.Infow("contributor finished", "pubkey", pubkey)
		s.promote()
	}
	next := s.nextLocator(ch)
	s.accepted[pubkey] = next
	return &next, nil
}

// Heartbeat records that pubkey is alive.
func (s *State) Heartbeat(pubkey string) error {
	s.Lock()
	defer s.Unlock()
	now := s.conf.clock.Now()
	if p, ok := s.current[pubkey]; ok {
		p.lastSeen = now
		return nil
	}
	if i := s.queueIndex(pubkey); i >= 0 {
		s.queue[i].lastSeen = now
		return nil
	}
	return unknownContributor("heartbeat", pubkey)
}

// Update drops the contributors that missed their heartbeats, releasing
// their locks, and promotes queued contributors. It returns the dropped
// public keys.
func (s *State) Update() []string {
	s.Lock()
	defer s.Unlock()
	now := s.conf.clock.Now()
	expired := func(p *participant) bool {
		return now.Sub(p.lastSeen) > s.conf.heartbeatTimeout
	}

	var dropped []string
	kept := s.queue[:0]
	for _, p := range s.queue {
		if expired(p) {
			dropped = append(dropped, p.pubkey)
			continue
		}
		kept = append(kept, p)
	}
	s.queue = kept

	for pubkey, p := range s.current {
		if !expired(p) {
			continue
		}
		if p.locked != nil {
			ch := s.chunks[*p.locked]
			ch.holder = ""
			ch.staged = nil
		}
		delete(s.current, pubkey)
		dropped = append(dropped, pubkey)
	}

	for _, pubkey := range dropped {
		metrics.DroppedContributors.Inc()
		s.l.Infow("dropped inactive contributor", "pubkey", pubkey)
	}
	s.promote()
	return dropped
}

// Close stops accepting new contributors.
func (s *State) Close() {
	s.Lock()
	defer s.Unlock()
	if !s.closed {
		s.l.Infow("ceremony closed")
	}
	s.closed = true
}

// Closed reports whether Close was called.
func (s *State) Closed() bool {
	s.RLock()
	defer s.RUnlock()
	return s.closed
}

// AddInfo stores the signed summary of a contribution.
func (s *State) AddInfo(ctx context.Context, info *ceremony.ContributionInfo) error {
	const op = "post-contribution-info"
	if err := info.VerifySignature(); err != nil {
		return rejected(op, "invalid contribution info: %v", err)
	}
	if err := info.Timestamps.Validate(); err != nil {
		return rejected(op, "invalid contribution info timestamps: %v", err)
	}
	s.RLock()
	known := s.finished[info.PublicKey] || s.current[info.PublicKey] != nil
	s.RUnlock()
	if !known {
		return unknownContributor(op, info.PublicKey)
	}
	if err := s.store.PutInfo(ctx, info); err != nil {
		return rejected(op, "storing contribution info: %v", err)
	}
	return nil
}

// Infos returns every stored summary.
func (s *State) Infos(ctx context.Context) ([]*ceremony.ContributionInfo, error) {
	return s.store.Infos(ctx)
}

// Verify checks every accepted contribution not verified yet against the
// challenge it answers and marks the valid ones verified.
func (s *State) Verify(ctx context.Context) (*ceremony.VerifyResponse, error) {
	records, err := s.store.Contributions(ctx)
	if err != nil {
		return nil, err
	}
	resp := &ceremony.VerifyResponse{
		Verified: []ceremony.ContributionLocator{},
		Failed:   []ceremony.ContributionLocator{},
	}
	for _, r := range records {
		if r.Contributor == "" || r.Locator.IsVerified {
			continue
		}
		loc := r.Locator
		if err := s.verifyRecord(ctx, r); err != nil {
			s.l.Warnw("contribution failed verification", "locator", loc.String(), "err", err)
			resp.Failed = append(resp.Failed, loc)
			continue
		}
		r.Locator.IsVerified = true
		if err := s.store.PutContribution(ctx, r); err != nil {
			return nil, err
		}
		resp.Verified = append(resp.Verified, r.Locator)
	}
	return resp, nil
}

func (s *State) verifyRecord(ctx context.Context, r *Record) error {
	if r.Signature == nil || r.Signature.ContributionState == nil {
		return errors.New("missing signature")
	}
	if err := r.Signature.Verify(r.Contributor); err != nil {
		return err
	}
	if !bytes.Equal(r.Signature.ContributionState.ContributionHash, crypto.Hash(r.Data)) {
		return errors.New("contribution hash mismatch")
	}
	loc := r.Locator
	prev, err := s.store.Contribution(ctx, loc.RoundHeight, loc.ChunkID, loc.ContributionID-1)
	if err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	if !bytes.Equal(r.Signature.ContributionState.ChallengeHash, crypto.Hash(prev.Data)) {
		return errors.New("challenge hash mismatch")
	}
	return nil
}
