package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec

	realtimeConnections  prometheus.Gauge
	realtimeMessagesSent *prometheus.CounterVec
	realtimeDropped      *prometheus.CounterVec
	realtimeRoomJoins    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for the API and the
// realtime hub.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		realtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Number of currently connected realtime clients.",
		})

		realtimeMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_messages_total",
			Help: "Total number of chat messages broadcast, by kind.",
		}, []string{"kind"})

		realtimeDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_dropped_frames_total",
			Help: "Frames dropped because a client's send queue was full.",
		}, []string{"event"})

		realtimeRoomJoins = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_room_joins_total",
			Help: "Room join events processed, by room kind.",
		}, []string{"kind"})

		prometheus.MustRegister(
			requestsTotal, latencySeconds, errorsTotal,
			realtimeConnections, realtimeMessagesSent, realtimeDropped, realtimeRoomJoins,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// Connections exposes the gauge of live realtime clients.
func Connections() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnections
}

// MessagesSent exposes the broadcast counter.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeMessagesSent
}

// DroppedFrames exposes the slow-consumer drop counter.
func DroppedFrames() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDropped
}

// RoomJoins exposes the join counter.
func RoomJoins() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeRoomJoins
}
