package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/drand/ceremony/ceremony"
	chttp "github.com/drand/ceremony/client/http"
	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/common/testlogger"
	"github.com/drand/ceremony/crypto"
)

type testServer struct {
	state *State
	url   string
	admin *crypto.Keypair
}

func newTestServer(t *testing.T, opts ...ConfigOption) *testServer {
	t.Helper()
	admin := crypto.NewKeypair()
	conf := NewConfig(append([]ConfigOption{
		WithLogger(testlogger.New(t)),
		WithChallengeSize(256),
		WithAdminKey(admin.PublicKey()),
	}, opts...)...)
	state, err := NewState(context.Background(), conf)
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(state, conf))
	t.Cleanup(srv.Close)
	return &testServer{state: state, url: srv.URL, admin: admin}
}

func (s *testServer) client(t *testing.T, kp *crypto.Keypair, opts ...chttp.Option) *chttp.Client {
	t.Helper()
	c, err := chttp.New(testlogger.New(t), s.url, kp, append([]chttp.Option{
		chttp.WithMaxTries(2),
		chttp.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestHandlerContribution(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	kp := crypto.NewKeypair()
	c := srv.client(t, kp)

	require.NoError(t, c.Ping(ctx))
	_, err := c.QueueStatus(ctx)
	requireKind(t, common.UnknownContributor, err)

	require.NoError(t, c.JoinQueue(ctx))
	requireKind(t, common.CoordinatorRejected, c.JoinQueue(ctx))
	status, err := c.QueueStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, ceremony.Round(), status)
	require.NoError(t, c.Heartbeat(ctx))

	tasks, err := c.TasksLeft(ctx)
	require.NoError(t, err)
	require.Equal(t, []ceremony.Task{{ChunkID: 0, ContributionID: 1}}, tasks)

	locked, err := c.LockChunk(ctx)
	require.NoError(t, err)
	task, err := c.GetTask(ctx, locked)
	require.NoError(t, err)
	require.Equal(t, ceremony.TaskFromLocators(locked), task)

	stale := *locked
	stale.Next.ContributionID = 9
	_, err = c.GetTask(ctx, &stale)
	requireKind(t, common.UnknownTask, err)

	challenge, err := c.DownloadChallenge(ctx, locked)
	require.NoError(t, err)
	require.Equal(t, GenerateChallenge(0, 256), challenge)

	req := respond(t, kp, locked, challenge, []byte("contribution"))
	require.NoError(t, c.UploadContribution(ctx, req))
	require.NoError(t, c.UploadContribution(ctx, req))

	next, err := c.NotifyContribution(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, ceremony.ContributionLocator{RoundHeight: DefaultRoundHeight, ContributionID: 2}, *next)

	status, err = c.QueueStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, ceremony.Finished(), status)
}

func TestHandlerRejectsImpersonation(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	victim, intruder := crypto.NewKeypair(), crypto.NewKeypair()
	require.NoError(t, srv.client(t, victim).JoinQueue(ctx))

	// a body naming another key than the signer is refused
	body := strings.NewReader(strconv.Quote(victim.PublicKey()))
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.url+ceremony.PathHeartbeat, body)
	require.NoError(t, err)
	ts := time.Now().Unix()
	sig, err := intruder.Sign(ceremony.AdminMessage(http.MethodPost, ceremony.PathHeartbeat, ts))
	require.NoError(t, err)
	hreq.Header.Set(ceremony.HeaderPublicKey, intruder.PublicKey())
	hreq.Header.Set(ceremony.HeaderTimestamp, strconv.FormatInt(ts, 10))
	hreq.Header.Set(ceremony.HeaderSignature, sig)
	resp, err := http.DefaultClient.Do(hreq)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// unsigned requests are refused
	resp, err = http.Post(srv.url+ceremony.PathHeartbeat, "application/json", strings.NewReader(strconv.Quote(victim.PublicKey())))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.url + ceremony.PathHealth)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerStaleTimestamp(t *testing.T) {
	srv := newTestServer(t, WithMaxClockSkew(time.Second))
	kp := crypto.NewKeypair()

	ts := time.Now().Add(-time.Minute).Unix()
	sig, err := kp.Sign(ceremony.AdminMessage(http.MethodPost, ceremony.PathJoinQueue, ts))
	require.NoError(t, err)
	hreq, err := http.NewRequest(http.MethodPost, srv.url+ceremony.PathJoinQueue, strings.NewReader(strconv.Quote(kp.PublicKey())))
	require.NoError(t, err)
	hreq.Header.Set(ceremony.HeaderPublicKey, kp.PublicKey())
	hreq.Header.Set(ceremony.HeaderTimestamp, strconv.FormatInt(ts, 10))
	hreq.Header.Set(ceremony.HeaderSignature, sig)
	resp, err := http.DefaultClient.Do(hreq)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerAdmin(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	kp := crypto.NewKeypair()
	c := srv.client(t, kp)
	admin := srv.client(t, srv.admin)

	requireKind(t, common.CoordinatorRejected, c.StopCoordinator(ctx))
	_, err := c.Contributions(ctx)
	requireKind(t, common.CoordinatorRejected, err)

	require.NoError(t, c.JoinQueue(ctx))
	contributeOnce(t, srv.state, kp)

	resp, err := admin.VerifyContributions(ctx)
	require.NoError(t, err)
	require.Len(t, resp.Verified, 1)
	require.Empty(t, resp.Failed)

	infos, err := admin.Contributions(ctx)
	require.NoError(t, err)
	require.Empty(t, infos)

	require.NoError(t, admin.UpdateCoordinator(ctx))
	require.NoError(t, admin.StopCoordinator(ctx))
	require.True(t, srv.state.Closed())
	requireKind(t, common.CoordinatorRejected, srv.client(t, crypto.NewKeypair()).JoinQueue(ctx))
}

func TestHandlerWithoutAdminKey(t *testing.T) {
	srv := newTestServer(t, WithAdminKey(""))
	requireKind(t, common.CoordinatorRejected, srv.client(t, srv.admin).StopCoordinator(context.Background()))
	require.False(t, srv.state.Closed())
}

func TestHandlerLegacyErrors(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, WithLegacyErrors(true))
	kp := crypto.NewKeypair()
	c := srv.client(t, kp)

	_, err := c.QueueStatus(ctx)
	requireKind(t, common.UnknownContributor, err)

	require.NoError(t, c.JoinQueue(ctx))
	requireKind(t, common.CoordinatorRejected, c.JoinQueue(ctx))
	locked, err := c.LockChunk(ctx)
	require.NoError(t, err)
	locked.Next.ContributionID = 4
	_, err = c.GetTask(ctx, locked)
	requireKind(t, common.UnknownTask, err)
}
