package http

import (
	"bytes"
	"context"
	"io"
	nhttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/nikkolasg/hexjson"
	"github.com/stretchr/testify/require"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/common/testlogger"
	"github.com/drand/ceremony/crypto"
)

func newTestClient(t *testing.T, h nhttp.Handler) (*Client, *crypto.Keypair) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	kp := crypto.NewKeypair()
	c, err := New(testlogger.New(t), srv.URL, kp,
		WithMaxTries(3),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }))
	require.NoError(t, err)
	return c, kp
}

func writeJSON(t *testing.T, w nhttp.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func TestNewValidatesURL(t *testing.T) {
	l := testlogger.New(t)
	kp := crypto.NewKeypair()
	_, err := New(l, "ftp://coordinator", kp)
	require.Error(t, err)
	_, err = New(l, "http://coordinator", nil)
	require.Error(t, err)
	c, err := New(l, "http://coordinator:8080", kp)
	require.NoError(t, err)
	require.Equal(t, "HTTP(http://coordinator:8080/)", c.String())
}

func TestQueueStatusAndSignedHeaders(t *testing.T) {
	var gotPubkey string
	c, kp := newTestClient(t, nhttp.HandlerFunc(func(w nhttp.ResponseWriter, r *nhttp.Request) {
		require.Equal(t, ceremony.PathQueueStatus, r.URL.Path)
		require.Equal(t, nhttp.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPubkey))

		ts, err := strconv.ParseInt(r.Header.Get(ceremony.HeaderTimestamp), 10, 64)
		require.NoError(t, err)
		msg := ceremony.AdminMessage(r.Method, r.URL.Path, ts)
		require.NoError(t, crypto.Verify(r.Header.Get(ceremony.HeaderPublicKey), msg, r.Header.Get(ceremony.HeaderSignature)))

		writeJSON(t, w, nhttp.StatusOK, ceremony.Queue(2, 3))
	}))

	status, err := c.QueueStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, ceremony.Queue(2, 3), status)
	require.Equal(t, kp.PublicKey(), gotPubkey)
}

func TestErrorDecoding(t *testing.T) {
	tests := []struct {
		name string
		body func(t *testing.T, w nhttp.ResponseWriter)
		kind common.Kind
	}{
		{"structured", func(t *testing.T, w nhttp.ResponseWriter) {
			writeJSON(t, w, nhttp.StatusInternalServerError, ceremony.ErrorResponse{Kind: "UnknownTask", Message: "0/9"})
		}, common.UnknownTask},
		{"legacy contributor", func(t *testing.T, w nhttp.ResponseWriter) {
			w.WriteHeader(nhttp.StatusInternalServerError)
			_, _ = io.WriteString(w, "Could not find contributor with public key abc")
		}, common.UnknownContributor},
		{"legacy rejected", func(t *testing.T, w nhttp.ResponseWriter) {
			w.WriteHeader(nhttp.StatusInternalServerError)
			_, _ = io.WriteString(w, "Coordinator failed: no chunk available")
		}, common.CoordinatorRejected},
		{"bad request", func(t *testing.T, w nhttp.ResponseWriter) {
			w.WriteHeader(nhttp.StatusBadRequest)
		}, common.CoordinatorRejected},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var calls int32
			c, _ := newTestClient(t, nhttp.HandlerFunc(func(w nhttp.ResponseWriter, _ *nhttp.Request) {
				atomic.AddInt32(&calls, 1)
				test.body(t, w)
			}))
			_, err := c.LockChunk(context.Background())
			require.Error(t, err)
			require.Equal(t, test.kind, common.KindOf(err))
			require.Equal(t, int32(1), atomic.LoadInt32(&calls), "coordinator failures are not retried")
		})
	}
}

func TestUploadRetriesIdenticalBody(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	c, kp := newTestClient(t, nhttp.HandlerFunc(func(w nhttp.ResponseWriter, r *nhttp.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		bodies = append(bodies, b)
		n := len(bodies)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(nhttp.StatusBadGateway)
			return
		}
		w.WriteHeader(nhttp.StatusOK)
	}))

	contribution := bytes.Repeat([]byte{0xab}, 1024)
	state, err := ceremony.NewContributionState(crypto.Hash([]byte("challenge")), crypto.Hash(contribution), nil)
	require.NoError(t, err)
	sig, err := ceremony.SignContributionState(kp, state)
	require.NoError(t, err)
	req := &ceremony.PostChunkRequest{
		ContributionLocator:       ceremony.ContributionLocator{RoundHeight: 5, ChunkID: 0, ContributionID: 2},
		Contribution:              contribution,
		ContributionFileSignature: sig,
	}

	require.NoError(t, c.UploadContribution(context.Background(), req))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	require.Equal(t, bodies[0], bodies[1])
	require.Equal(t, bodies[0], bodies[2])

	var decoded ceremony.PostChunkRequest
	require.NoError(t, json.Unmarshal(bodies[2], &decoded))
	require.Equal(t, contribution, decoded.Contribution)
	require.NoError(t, decoded.ContributionFileSignature.Verify(kp.PublicKey()))
}

func TestTransportFailureExhaustsTries(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, nhttp.HandlerFunc(func(w nhttp.ResponseWriter, _ *nhttp.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(nhttp.StatusServiceUnavailable)
	}))
	err := c.Heartbeat(context.Background())
	require.ErrorIs(t, err, common.ErrTransportFailure)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestChallengeAndNotify(t *testing.T) {
	challenge := bytes.Repeat([]byte{1, 2, 3, 4}, 256)
	mux := nhttp.NewServeMux()
	mux.HandleFunc(ceremony.PathChallenge, func(w nhttp.ResponseWriter, r *nhttp.Request) {
		var req ceremony.ChunkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, uint64(2), req.LockedLocators.Next.ContributionID)
		_, _ = w.Write(challenge)
	})
	mux.HandleFunc(ceremony.PathContributeChunk, func(w nhttp.ResponseWriter, r *nhttp.Request) {
		var req ceremony.ContributeChunkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(t, w, nhttp.StatusOK, ceremony.ContributionLocator{RoundHeight: 5, ChunkID: req.ChunkID, ContributionID: 3})
	})
	mux.HandleFunc(ceremony.PathGetTask, func(w nhttp.ResponseWriter, _ *nhttp.Request) {
		_, _ = io.WriteString(w, "{not json")
	})
	c, _ := newTestClient(t, mux)

	locked := &ceremony.LockedLocators{Next: ceremony.ContributionLocator{RoundHeight: 5, ContributionID: 2}}
	got, err := c.DownloadChallenge(context.Background(), locked)
	require.NoError(t, err)
	require.Equal(t, challenge, got)

	loc, err := c.NotifyContribution(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loc.ContributionID)

	_, err = c.GetTask(context.Background(), locked)
	require.ErrorIs(t, err, common.ErrTransportFailure)
}

func TestCancelledContext(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestClient(t, nhttp.HandlerFunc(func(w nhttp.ResponseWriter, r *nhttp.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.JoinQueue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, common.IsRetryable(err))
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, nhttp.HandlerFunc(func(w nhttp.ResponseWriter, r *nhttp.Request) {
		require.Equal(t, ceremony.PathHealth, r.URL.Path)
		writeJSON(t, w, nhttp.StatusOK, ceremony.HealthResponse{Status: "ok", Version: common.GetAppVersion().String()})
	}))
	require.NoError(t, c.Ping(context.Background()))

	v, err := parseVersion("1.4.0+pre")
	require.NoError(t, err)
	require.Equal(t, common.Version{Major: 1, Minor: 4, Patch: 0, Prerelease: "+pre"}, v)
	_, err = parseVersion("garbage")
	require.Error(t, err)
}
