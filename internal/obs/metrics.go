package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"colegio.org/internal/ids"
)

var (
	registerOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ballotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_ballots_total",
			Help: "Bulk ballot submissions by outcome.",
		},
		[]string{"outcome"},
	)

	votesCast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "election_votes_cast_total",
		Help: "Individual position votes persisted.",
	})

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_status_transitions_total",
			Help: "Election status transitions applied by the lifecycle sweep.",
		},
		[]string{"to"},
	)

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "election_sweep_duration_seconds",
		Help:    "Duration of election lifecycle sweeps.",
		Buckets: prometheus.DefBuckets,
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colegio_ready",
		Help: "1 when the database answered the last readiness probe.",
	})
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginsTotal, ballotsTotal, votesCast, statusTransitions, sweepDuration, ready,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight requests, totals and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath replaces identifier segments with ":id" to keep label cardinality bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if ids.Valid(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// ObserveLogin counts a login attempt ("success", "unauthorized", "forbidden", "error").
func ObserveLogin(outcome string) { loginsTotal.WithLabelValues(outcome).Inc() }

// ObserveBallot counts a ballot submission and, on success, the votes it carried.
func ObserveBallot(outcome string, votes int) {
	ballotsTotal.WithLabelValues(outcome).Inc()
	if votes > 0 {
		votesCast.Add(float64(votes))
	}
}

// ObserveTransition counts an election moved to the given status by the sweep.
func ObserveTransition(to string) { statusTransitions.WithLabelValues(to).Inc() }

// ObserveSweep records how long one lifecycle sweep took.
func ObserveSweep(d time.Duration) { sweepDuration.Observe(d.Seconds()) }

// SetReady mirrors the latest readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
