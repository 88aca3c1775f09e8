package metrics

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drand/ceremony/common/log"
)

var (
	// PrivateMetrics about the internal world (go process, private stuff)
	PrivateMetrics = prometheus.NewRegistry()
	// CoordinatorMetrics about the coordinator state and its HTTP API
	CoordinatorMetrics = prometheus.NewRegistry()
	// ContributorMetrics about a contributor's progress and its requests
	ContributorMetrics = prometheus.NewRegistry()

	// HTTPCallCounter (Coordinator) how many http requests
	HTTPCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_http_call_counter",
		Help: "Number of HTTP calls received by the coordinator",
	}, []string{"code", "method"})
	// HTTPLatency (Coordinator) how long http request handling takes
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coordinator_http_response_duration",
		Help:    "Histogram of coordinator HTTP response durations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"method"})
	// HTTPInFlight (Coordinator) how many http requests exist
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_http_in_flight",
		Help: "Number of HTTP requests being handled by the coordinator",
	})

	// QueueSize (Coordinator) number of contributors waiting
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_queue_size",
		Help: "Number of contributors waiting in the queue",
	})
	// ActiveContributors (Coordinator) number of contributors in the round
	ActiveContributors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_active_contributors",
		Help: "Number of contributors taking part in the current round",
	})
	// AcceptedContributions (Coordinator) contributions accepted per chunk
	AcceptedContributions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_accepted_contributions",
		Help: "Number of contributions accepted by the coordinator",
	}, []string{"chunk"})
	// DroppedContributors (Coordinator) contributors dropped for missed heartbeats
	DroppedContributors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_dropped_contributors",
		Help: "Number of contributors dropped for inactivity",
	})

	// ClientInFlight measures how many active requests have been made
	ClientInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "client_in_flight",
		Help: "A gauge of in-flight coordinator requests",
	}, []string{"url"})
	// ClientRequests measures how many total requests have been made
	ClientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "client_api_requests_total",
		Help: "A counter for requests to the coordinator",
	}, []string{"url", "code", "method"})
	// ClientLatencyVec tracks raw http request latencies
	ClientLatencyVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "client_request_latency",
		Help:    "Coordinator request latency histogram.",
		Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
	}, []string{"url", "method"})
	// ClientRetries counts transport failures that were retried
	ClientRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "client_retries_total",
		Help: "Number of coordinator requests retried after a transport failure",
	}, []string{"op"})

	// QueuePosition (Contributor) last observed position in the queue
	QueuePosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contributor_queue_position",
		Help: "Last queue position reported by the coordinator",
	})
	// HeartbeatFailures (Contributor) failed heartbeats
	HeartbeatFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contributor_heartbeat_failures",
		Help: "Number of heartbeats that failed",
	})
	// ContributionAttempts (Contributor) attempts by outcome
	ContributionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contributor_attempts",
		Help: "Number of contribution attempts by outcome",
	}, []string{"outcome"})
	// ComputationDuration (Contributor) how long computing a contribution took
	ComputationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "contributor_computation_seconds",
		Help:    "Time spent computing contributions",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	metricsBound sync.Once
)

func bindMetrics(l log.Logger) {
	if err := PrivateMetrics.Register(collectors.NewGoCollector()); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "goCollector", "err", err)
		return
	}
	if err := PrivateMetrics.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "processCollector", "err", err)
		return
	}

	coordinator := []prometheus.Collector{
		HTTPCallCounter,
		HTTPLatency,
		HTTPInFlight,
		QueueSize,
		ActiveContributors,
		AcceptedContributions,
		DroppedContributors,
	}
	contributor := []prometheus.Collector{
		ClientInFlight,
		ClientRequests,
		ClientLatencyVec,
		ClientRetries,
		QueuePosition,
		HeartbeatFailures,
		ContributionAttempts,
		ComputationDuration,
	}
	register := func(r prometheus.Registerer, cs []prometheus.Collector) bool {
		for _, c := range cs {
			if err := r.Register(c); err != nil {
				l.Errorw("error in bindMetrics", "metrics", "bindMetrics", "err", err)
				return false
			}
		}
		return true
	}
	if !register(CoordinatorMetrics, coordinator) || !register(PrivateMetrics, coordinator) {
		return
	}
	if !register(ContributorMetrics, contributor) || !register(PrivateMetrics, contributor) {
		return
	}
}

// Bind registers every collector. It is safe to call several times.
func Bind(l log.Logger) {
	metricsBound.Do(func() {
		bindMetrics(l)
	})
}

// Start starts a prometheus metrics server. metricsBind may be a bare port,
// in which case it listens on localhost. pprof may be nil.
func Start(logger log.Logger, metricsBind string, pprof http.Handler) (net.Listener, error) {
	logger.Infow("metrics starting", "desired_port", metricsBind)
	Bind(logger)

	if !strings.Contains(metricsBind, ":") {
		metricsBind = "127.0.0.1:" + metricsBind
	}
	//nolint:noctx
	l, err := net.Listen("tcp", metricsBind)
	if err != nil {
		return nil, err
	}
	logger.Infow("metric listener started", "addr", l.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(PrivateMetrics, promhttp.HandlerOpts{Registry: PrivateMetrics}))
	if pprof != nil {
		mux.Handle("/debug/pprof/", pprof)
	}

	s := http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		logger.Warnw("", "metrics", "listen finished", "err", s.Serve(l))
	}()
	return l, nil
}

// InstrumentHandler wraps a coordinator handler with the HTTP collectors.
func InstrumentHandler(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(HTTPInFlight,
		promhttp.InstrumentHandlerCounter(HTTPCallCounter,
			promhttp.InstrumentHandlerDuration(HTTPLatency, h)))
}

// InstrumentRoundTripper wraps a transport talking to url with the client
// collectors.
func InstrumentRoundTripper(url string, transport http.RoundTripper) http.RoundTripper {
	urlLabel := prometheus.Labels{"url": url}
	return promhttp.InstrumentRoundTripperInFlight(ClientInFlight.With(urlLabel),
		promhttp.InstrumentRoundTripperCounter(ClientRequests.MustCurryWith(urlLabel),
			promhttp.InstrumentRoundTripperDuration(ClientLatencyVec.MustCurryWith(urlLabel),
				transport)))
}
