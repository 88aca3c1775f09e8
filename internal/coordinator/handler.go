package coordinator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	json "github.com/nikkolasg/hexjson"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/crypto"
	"github.com/drand/ceremony/internal/metrics"
)

// maxBodySize bounds request bodies, contributions included.
const maxBodySize = 1 << 30

type callerKey struct{}

// handler serves the coordinator routes on top of a State.
type handler struct {
	state *State
	conf  *Config
	l     log.Logger
	// now is the wall clock used to check request timestamps, which are
	// produced by the callers' wall clocks.
	now func() time.Time
}

// NewHandler returns the HTTP API of the coordinator.
func NewHandler(state *State, conf *Config) http.Handler {
	h := &handler{
		state: state,
		conf:  conf,
		l:     conf.logger.Named("http"),
		now:   time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(ceremony.PathHealth, h.health)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post(ceremony.PathJoinQueue, h.joinQueue)
		r.Post(ceremony.PathQueueStatus, h.queueStatus)
		r.Post(ceremony.PathLockChunk, h.lockChunk)
		r.Post(ceremony.PathGetTask, h.getTask)
		r.Post(ceremony.PathTasksLeft, h.tasksLeft)
		r.Post(ceremony.PathChallenge, h.challenge)
		r.Post(ceremony.PathUploadChunk, h.uploadChunk)
		r.Post(ceremony.PathContributeChunk, h.contributeChunk)
		r.Post(ceremony.PathHeartbeat, h.heartbeat)
		r.Post(ceremony.PathContributionInfo, h.contributionInfo)

		r.Group(func(r chi.Router) {
			r.Use(h.adminOnly)
			r.Get(ceremony.PathAdminStop, h.stop)
			r.Get(ceremony.PathAdminContributions, h.contributions)
			r.Get(ceremony.PathAdminVerify, h.verify)
			r.Get(ceremony.PathAdminUpdate, h.update)
		})
	})
	return metrics.InstrumentHandler(r)
}

// authenticate checks the request signature headers and records the caller.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pubkey := r.Header.Get(ceremony.HeaderPublicKey)
		ts, err := strconv.ParseInt(r.Header.Get(ceremony.HeaderTimestamp), 10, 64)
		if pubkey == "" || err != nil {
			http.Error(w, "missing or malformed signature headers", http.StatusUnauthorized)
			return
		}
		if skew := h.now().Sub(time.Unix(ts, 0)); skew > h.conf.maxClockSkew || skew < -h.conf.maxClockSkew {
			http.Error(w, "request timestamp is too far from the coordinator clock", http.StatusUnauthorized)
			return
		}
		msg := ceremony.AdminMessage(r.Method, r.URL.Path, ts)
		if err := crypto.Verify(pubkey, msg, r.Header.Get(ceremony.HeaderSignature)); err != nil {
			h.l.Debugw("rejected request signature", "path", r.URL.Path, "pubkey", pubkey, "err", err)
			http.Error(w, "invalid request signature", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, pubkey)))
	})
}

func (h *handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.conf.adminKey == "" || caller(r) != h.conf.adminKey {
			http.Error(w, "administrator only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) string {
	s, _ := r.Context().Value(callerKey{}).(string)
	return s
}

// decode reads the JSON body into v and makes sure pubkey, when the body
// names one, is the caller's.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	var claimed string
	switch body := v.(type) {
	case *string:
		claimed = *body
	case *ceremony.ChunkRequest:
		claimed = body.PublicKey
	case *ceremony.ContributeChunkRequest:
		claimed = body.PublicKey
	case *ceremony.ContributionInfo:
		claimed = body.PublicKey
	default:
		return true
	}
	if claimed != caller(r) {
		http.Error(w, "public key does not match the request signature", http.StatusForbidden)
		return false
	}
	return true
}

func (h *handler) reply(w http.ResponseWriter, r *http.Request, v interface{}, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if v == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// fail answers a coordinator error with a 500 carrying its classification.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *common.Error
	if !errors.As(err, &cerr) {
		cerr = common.WrapError(common.CoordinatorRejected, "", err)
	}
	msg := cerr.Msg
	if msg == "" && cerr.Err != nil {
		msg = cerr.Err.Error()
	}
	h.l.Debugw("request failed", "path", r.URL.Path, "caller", caller(r), "kind", cerr.Kind.String(), "err", msg)

	if h.conf.legacyErrors {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, cerr.LegacyText())
		return
	}
	b, _ := json.Marshal(&ceremony.ErrorResponse{Kind: cerr.Kind.String(), Message: msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(b)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, &ceremony.HealthResponse{
		Status:  "ok",
		Version: common.GetAppVersion().String(),
	}, nil)
}

func (h *handler) joinQueue(w http.ResponseWriter, r *http.Request) {
	var pubkey string
	if !h.decode(w, r, &pubkey) {
		return
	}
	h.reply(w, r, nil, h.state.AddToQueue(pubkey))
}

func (h *handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	var pubkey string
	if !h.decode(w, r, &pubkey) {
		return
	}
	status, err := h.state.Status(pubkey)
	h.reply(w, r, status, err)
}

func (h *handler) lockChunk(w http.ResponseWriter, r *http.Request) {
	var pubkey string
	if !h.decode(w, r, &pubkey) {
		return
	}
	locked, err := h.state.TryLock(pubkey)
	h.reply(w, r, locked, err)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	var req ceremony.ChunkRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.state.GetTask(req.PublicKey, &req.LockedLocators)
	h.reply(w, r, task, err)
}

func (h *handler) tasksLeft(w http.ResponseWriter, r *http.Request) {
	var pubkey string
	if !h.decode(w, r, &pubkey) {
		return
	}
	tasks, err := h.state.PendingTasks(pubkey)
	h.reply(w, r, tasks, err)
}

func (h *handler) challenge(w http.ResponseWriter, r *http.Request) {
	var req ceremony.ChunkRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := h.state.Challenge(r.Context(), req.PublicKey, &req.LockedLocators)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (h *handler) uploadChunk(w http.ResponseWriter, r *http.Request) {
	var req ceremony.PostChunkRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.reply(w, r, nil, h.state.Upload(r.Context(), &req))
}

func (h *handler) contributeChunk(w http.ResponseWriter, r *http.Request) {
	var req ceremony.ContributeChunkRequest
	if !h.decode(w, r, &req) {
		return
	}
	loc, err := h.state.Contribute(r.Context(), req.PublicKey, req.ChunkID)
	h.reply(w, r, loc, err)
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	var pubkey string
	if !h.decode(w, r, &pubkey) {
		return
	}
	h.reply(w, r, nil, h.state.Heartbeat(pubkey))
}

func (h *handler) contributionInfo(w http.ResponseWriter, r *http.Request) {
	var info ceremony.ContributionInfo
	if !h.decode(w, r, &info) {
		return
	}
	h.reply(w, r, nil, h.state.AddInfo(r.Context(), &info))
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	h.state.Close()
	h.reply(w, r, nil, nil)
}

func (h *handler) contributions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.state.Infos(r.Context())
	h.reply(w, r, infos, err)
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	resp, err := h.state.Verify(r.Context())
	h.reply(w, r, resp, err)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	dropped := h.state.Update()
	h.l.Infow("update requested by the administrator", "dropped", len(dropped))
	h.reply(w, r, nil, nil)
}
