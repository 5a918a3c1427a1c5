// Package observability owns prometheus collectors for the protocol server.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	dispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaignd",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Total dispatched request exchanges.",
		},
		[]string{"request", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campaignd",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Request exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"request", "outcome"},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaignd",
			Subsystem: "wire",
			Name:      "bytes_total",
			Help:      "Protocol bytes read and written.",
		},
		[]string{"direction"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "campaignd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently open client connections.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dispatchRequests, dispatchDuration, wireBytes, activeSessions)
	})
}

// RecordDispatch counts one exchange. Unknown request names should be collapsed
// by the caller so label cardinality stays bounded.
func RecordDispatch(request, outcome string, duration time.Duration) {
	RegisterMetrics()
	dispatchRequests.WithLabelValues(request, outcome).Inc()
	dispatchDuration.WithLabelValues(request, outcome).Observe(duration.Seconds())
}

func RecordWireBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	wireBytes.WithLabelValues(direction).Add(float64(n))
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
