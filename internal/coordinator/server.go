package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/drand/ceremony/common/log"
)

const shutdownTimeout = 5 * time.Second

// Server runs a coordinator: the HTTP API and the periodic liveness pass.
type Server struct {
	conf  *Config
	l     log.Logger
	state *State
	http  *http.Server
}

// NewServer builds the coordinator state from conf. The store is closed if
// that fails.
func NewServer(ctx context.Context, conf *Config) (*Server, error) {
	state, err := NewState(ctx, conf)
	if err != nil {
		_ = conf.store.Close()
		return nil, err
	}
	h := NewHandler(state, conf)
	if conf.accessLog != nil {
		h = handlers.CombinedLoggingHandler(conf.accessLog, h)
	}
	return &Server{
		conf:  conf,
		l:     conf.logger.Named("server"),
		state: state,
		http: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// State exposes the coordinator state.
func (s *Server) State() *State {
	return s.state
}

// Handler returns the HTTP API, useful to serve it elsewhere.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve answers requests on l until ctx is done, then shuts the server down
// and closes the store.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.conf.maxConnections > 0 {
		l = netutil.LimitListener(l, s.conf.maxConnections)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.l.Infow("coordinator listening", "addr", l.Addr().String())
		if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.updateLoop(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(sctx)
	})

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.conf.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing store: %w", err))
	}
	return result.ErrorOrNil()
}

func (s *Server) updateLoop(ctx context.Context) {
	t := s.conf.clock.NewTicker(s.conf.updateInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			if dropped := s.state.Update(); len(dropped) > 0 {
				s.l.Infow("liveness pass", "dropped", dropped)
			}
		}
	}
}
