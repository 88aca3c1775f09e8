// Package pprof serves the runtime profiles next to the metrics. It lives
// apart from metrics so library users do not pull in net/http/pprof.
package pprof

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi"
)

// WithProfile returns a router answering under /debug/pprof/. Named
// profiles such as heap or goroutine are served by the index.
func WithProfile() http.Handler {
	r := chi.NewRouter()
	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/cmdline", pprof.Cmdline)
		r.Get("/profile", pprof.Profile)
		r.Get("/symbol", pprof.Symbol)
		r.Post("/symbol", pprof.Symbol)
		r.Get("/trace", pprof.Trace)
		r.Get("/*", pprof.Index)
	})
	return r
}
