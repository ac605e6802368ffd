package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GenerationAttempts — исходы попыток генерации (succeeded, retrying, failed, skipped).
	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmill_generation_attempts_total",
		Help: "Generation attempts by outcome",
	}, []string{"outcome"})

	// GenerationDuration — время вызова генератора.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postmill_generation_duration_seconds",
		Help:    "Time spent in the image generator",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmill_publish_attempts_total",
		Help: "Publish attempts by platform and outcome",
	}, []string{"platform", "outcome"})

	// PollerClaims — результаты claim в poller (won, conflict, error).
	PollerClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmill_poller_claims_total",
		Help: "Due post claims by result",
	}, []string{"result"})

	AnalyticsSync = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmill_analytics_sync_total",
		Help: "Analytics sync results by outcome",
	}, []string{"outcome"})

	CleanupReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postmill_cleanup_reaped_total",
		Help: "Generation jobs removed by the cleanup reaper",
	})

	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmill_tasks_dispatched_total",
		Help: "Tasks handed to the worker by kind",
	}, []string{"kind"})
)

// NewMux возвращает mux с /healthz и /metrics.
// Бинарники без HTTP API поднимают только его.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
