package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vidmigrate/internal"
)

const (
	opDownload = "download"
	opUpload   = "upload"
)

// Metrics holds Prometheus metrics for the transfer engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Chunks   *prometheus.CounterVec
	Bytes    *prometheus.CounterVec
	Retries  *prometheus.CounterVec
	Outcomes *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers the transfer metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidmigrate",
			Subsystem: "transfer",
			Name:      "chunks_total",
			Help:      "Chunks acknowledged, by operation",
		}, []string{"operation"}),
		Bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidmigrate",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Bytes acknowledged, by operation",
		}, []string{"operation"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidmigrate",
			Subsystem: "transfer",
			Name:      "retries_total",
			Help:      "Backoff sleeps after transient errors, by operation",
		}, []string{"operation"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidmigrate",
			Subsystem: "transfer",
			Name:      "outcomes_total",
			Help:      "Terminal transfer outcomes, by operation and status",
		}, []string{"operation", "status"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vidmigrate",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Wall time of whole transfers",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
		}, []string{"operation"}),
	}
}

func (m *Metrics) chunk(op string, n int) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(op).Inc()
	m.Bytes.WithLabelValues(op).Add(float64(n))
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) outcome(op string, status internal.TransferStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(op, status.String()).Inc()
	m.Duration.WithLabelValues(op).Observe(elapsed.Seconds())
}
