package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pharmsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	passDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_pass_duration_seconds",
			Help:      "Duration of scheduling passes by entity and result.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"entity", "result"},
	)

	passWindows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_windows_total",
			Help:      "Date windows walked by scheduling passes.",
		},
		[]string{"entity"},
	)

	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_tasks_submitted_total",
			Help:      "Import tasks handed to the task runner.",
		},
		[]string{"entity", "forced"},
	)

	queueTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_queue_tasks_total",
			Help:      "Import tasks processed by the worker, by outcome.",
		},
		[]string{"status"},
	)

	watermarks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "import_watermark_timestamp_seconds",
			Help:      "Last written watermark per backend and entity.",
		},
		[]string{"backend", "entity"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, passDuration, passWindows, tasksSubmitted, queueTasks, watermarks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObservePass(entity, result string, dur time.Duration) {
	passDuration.WithLabelValues(entity, result).Observe(dur.Seconds())
}

func AddWindows(entity string, n int) {
	passWindows.WithLabelValues(entity).Add(float64(n))
}

func AddSubmitted(entity string, forced bool, n int) {
	tasksSubmitted.WithLabelValues(entity, strconv.FormatBool(forced)).Add(float64(n))
}

func IncQueueTask(status string) {
	queueTasks.WithLabelValues(status).Inc()
}

func SetWatermark(backend, entity string, at time.Time) {
	watermarks.WithLabelValues(backend, entity).Set(float64(at.Unix()))
}
