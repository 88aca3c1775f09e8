package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/common/testlogger"
	"github.com/drand/ceremony/crypto"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	kp := crypto.NewKeypair()

	_, err := s.Contribution(ctx, 1, 0, 0)
	require.ErrorIs(t, err, ErrNotFound)

	state, err := ceremony.NewContributionState(crypto.Hash([]byte("c")), crypto.Hash([]byte("r")), nil)
	require.NoError(t, err)
	sig, err := ceremony.SignContributionState(kp, state)
	require.NoError(t, err)

	records := []*Record{
		{Locator: ceremony.ContributionLocator{RoundHeight: 2, ChunkID: 0, ContributionID: 0}, Data: []byte("c2")},
		{Locator: ceremony.ContributionLocator{RoundHeight: 1, ChunkID: 1, ContributionID: 0}, Data: []byte("c1")},
		{Locator: ceremony.ContributionLocator{RoundHeight: 1, ChunkID: 0, ContributionID: 1}, Data: []byte("r"), Signature: sig, Contributor: kp.PublicKey()},
		{Locator: ceremony.ContributionLocator{RoundHeight: 1, ChunkID: 0, ContributionID: 0, IsVerified: true}, Data: []byte("c")},
	}
	for _, r := range records {
		require.NoError(t, s.PutContribution(ctx, r))
	}

	got, err := s.Contribution(ctx, 1, 0, 1)
	require.NoError(t, err)
	require.Equal(t, records[2], got)
	require.NoError(t, got.Signature.Verify(kp.PublicKey()))

	all, err := s.Contributions(ctx)
	require.NoError(t, err)
	require.Equal(t, []*Record{records[3], records[2], records[1], records[0]}, all)

	// overwriting keeps a single record
	records[2].Locator.IsVerified = true
	require.NoError(t, s.PutContribution(ctx, records[2]))
	all, err = s.Contributions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.True(t, all[1].Locator.IsVerified)

	infos := []*ceremony.ContributionInfo{
		{PublicKey: kp.PublicKey(), CeremonyRound: 2, AttemptID: "b"},
		{PublicKey: kp.PublicKey(), CeremonyRound: 1, AttemptID: "a", FullName: "Ada"},
	}
	for _, info := range infos {
		require.NoError(t, s.PutInfo(ctx, info))
	}
	gotInfos, err := s.Infos(ctx)
	require.NoError(t, err)
	require.Equal(t, []*ceremony.ContributionInfo{infos[1], infos[0]}, gotInfos)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	defer s.Close()
	testStore(t, s)
}

func TestBoltStore(t *testing.T) {
	dir := t.TempDir()
	l := testlogger.New(t)
	s, err := NewBoltStore(l, dir, nil)
	require.NoError(t, err)
	testStore(t, s)
	require.NoError(t, s.Close())

	// data survives a reopen
	s, err = NewBoltStore(l, dir, nil)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.Contributions(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)
	infos, err := s.Infos(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	require.Error(t, s.PutContribution(canceledContext(), all[0]))
}

func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
