package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "znplink"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total diagnostics HTTP requests.",
		},
		[]string{"link", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Diagnostics HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"link", "method", "path", "status"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames written to or decoded from the NCP.",
		},
		[]string{"direction", "type"},
	)
	corruptBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_corrupt_bytes_total",
			Help:      "Bytes discarded while resynchronising on the start of frame.",
		},
	)
	malformedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Integrity-valid frames whose payload did not fit the schema.",
		},
	)
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Finished command transactions by outcome.",
		},
		[]string{"command", "outcome"},
	)
	transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time from registration to a terminal state.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"command"},
	)
	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Request re-sends after an attempt timeout.",
		},
		[]string{"command"},
	)
	linkLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_lost_total",
			Help:      "Byte channel failures.",
		},
	)
	subscriberDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Messages dropped because a subscriber buffer was full.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			frames,
			corruptBytes,
			malformedFrames,
			transactions,
			transactionDuration,
			retries,
			linkLost,
			subscriberDrops,
		)
	})
}

func RecordHTTPRequest(instance, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(instance, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(instance, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame; direction is "in" or "out".
func RecordFrame(direction, frameType string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, frameType).Inc()
}

func RecordCorruptBytes(n int) {
	RegisterMetrics()
	corruptBytes.Add(float64(n))
}

func RecordMalformedFrame() {
	RegisterMetrics()
	malformedFrames.Inc()
}

func RecordTransaction(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	transactions.WithLabelValues(command, outcome).Inc()
	transactionDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordRetry(command string) {
	RegisterMetrics()
	retries.WithLabelValues(command).Inc()
}

func RecordLinkLost() {
	RegisterMetrics()
	linkLost.Inc()
}

func RecordSubscriberDrop() {
	RegisterMetrics()
	subscriberDrops.Inc()
}
