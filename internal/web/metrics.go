package web

import (
	"net/http"
	"time"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total number of API requests broken down by endpoint and result.",
	}, []string{"endpoint", "result"})

	apiLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roster",
		Subsystem: "api",
		Name:      "latency_seconds",
		Help:      "Latency distribution for API requests.",
		Buckets: []float64{
			0.001, 0.002, 0.005,
			0.01, 0.02, 0.05,
			0.1, 0.2, 0.5,
			1, 2, 5, 10, 30,
		},
	}, []string{"endpoint", "result"})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "import",
		Name:      "commits_total",
		Help:      "Total number of commit runs broken down by outcome.",
	}, []string{"outcome"})

	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Total number of committed rows broken down by action.",
	}, []string{"action"})
)

// instrument records request count and latency for every API route. The
// endpoint label uses the chi route pattern, not the raw path, so batch ids
// do not explode the cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}

		result := "2xx"
		switch {
		case ww.Status() >= 500:
			result = "5xx"
		case ww.Status() >= 400:
			result = "4xx"
		}

		apiRequests.WithLabelValues(endpoint, result).Inc()
		apiLatency.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
	})
}

// observeCommit feeds the import counters from one commit result.
func observeCommit(result *core.CommitResult) {
	outcome := "clean"
	switch {
	case result.DryRun:
		outcome = "dry_run"
	case result.Failed > 0:
		outcome = "partial"
	}
	commitsTotal.WithLabelValues(outcome).Inc()

	if result.DryRun {
		return
	}
	rowsTotal.WithLabelValues("created").Add(float64(result.Created))
	rowsTotal.WithLabelValues("updated").Add(float64(result.Updated))
	rowsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	rowsTotal.WithLabelValues("failed").Add(float64(result.Failed))
}
