package coordinator

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/drand/ceremony/ceremony"
)

// ErrNotFound is returned when a contribution is not in the store.
var ErrNotFound = errors.New("contribution not found")

// Record is a stored contribution file along with its signature. Initial
// challenges have no signature and no contributor.
type Record struct {
	Locator     ceremony.ContributionLocator        `json:"locator"`
	Data        []byte                              `json:"data"`
	Signature   *ceremony.ContributionFileSignature `json:"signature,omitempty"`
	Contributor string                              `json:"contributor,omitempty"`
}

// Store persists contributions and contribution summaries.
type Store interface {
	PutContribution(ctx context.Context, r *Record) error
	Contribution(ctx context.Context, round, chunk, contribution uint64) (*Record, error)
	// Contributions returns every record ordered by round, chunk and
	// contribution.
	Contributions(ctx context.Context) ([]*Record, error)
	PutInfo(ctx context.Context, info *ceremony.ContributionInfo) error
	// Infos returns every summary ordered by round.
	Infos(ctx context.Context) ([]*ceremony.ContributionInfo, error)
	Close() error
}

func contributionKey(round, chunk, contribution uint64) []byte {
	key := make([]byte, 24)
	binary.BigEndian.PutUint64(key, round)
	binary.BigEndian.PutUint64(key[8:], chunk)
	binary.BigEndian.PutUint64(key[16:], contribution)
	return key
}

func recordKey(r *Record) []byte {
	return contributionKey(r.Locator.RoundHeight, r.Locator.ChunkID, r.Locator.ContributionID)
}

func infoKey(info *ceremony.ContributionInfo) []byte {
	key := make([]byte, 8, 8+len(info.PublicKey)+len(info.AttemptID))
	binary.BigEndian.PutUint64(key, info.CeremonyRound)
	key = append(key, info.PublicKey...)
	return append(key, info.AttemptID...)
}

// MemStore keeps everything in memory.
type MemStore struct {
	sync.RWMutex
	records map[string]*Record
	infos   map[string]*ceremony.ContributionInfo
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]*Record),
		infos:   make(map[string]*ceremony.ContributionInfo),
	}
}

func (m *MemStore) PutContribution(_ context.Context, r *Record) error {
	m.Lock()
	defer m.Unlock()
	c := *r
	m.records[string(recordKey(r))] = &c
	return nil
}

func (m *MemStore) Contribution(_ context.Context, round, chunk, contribution uint64) (*Record, error) {
	m.RLock()
	defer m.RUnlock()
	r, ok := m.records[string(contributionKey(round, chunk, contribution))]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *MemStore) Contributions(_ context.Context) ([]*Record, error) {
	m.RLock()
	defer m.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Record, 0, len(keys))
	for _, k := range keys {
		c := *m.records[k]
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemStore) PutInfo(_ context.Context, info *ceremony.ContributionInfo) error {
	m.Lock()
	defer m.Unlock()
	c := *info
	m.infos[string(infoKey(info))] = &c
	return nil
}

func (m *MemStore) Infos(_ context.Context) ([]*ceremony.ContributionInfo, error) {
	m.RLock()
	defer m.RUnlock()
	keys := make([]string, 0, len(m.infos))
	for k := range m.infos {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*ceremony.ContributionInfo, 0, len(keys))
	for _, k := range keys {
		c := *m.infos[k]
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemStore) Close() error {
	return nil
}
