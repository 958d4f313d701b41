package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// DichoSplits counts successful bisections by recursion level
	DichoSplits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dicho_splits_total", Help: "Instances split in two, by recursion level."},
		[]string{"level"},
	)
	// DichoSolveDuration records solver calls and whole runs by stage
	DichoSolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dicho_solve_duration_seconds", Help: "Solve duration in seconds by stage.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}},
		[]string{"stage"},
	)
	// DichoUnassigned observes the unassigned count of every finished decomposition
	DichoUnassigned = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dicho_unassigned_services", Help: "Unassigned services per decomposition result.", Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000}},
	)
	// JobsTotal counts finished jobs by final status
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_total", Help: "Jobs by final status."},
		[]string{"status"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(DichoSplits)
		Registry.MustRegister(DichoSolveDuration)
		Registry.MustRegister(DichoUnassigned)
		Registry.MustRegister(JobsTotal)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
