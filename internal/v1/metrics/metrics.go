package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the WarBoard server.
//
// Naming convention: namespace_subsystem_name
// - namespace: warboard
// - subsystem: websocket, room, http, store
//
// Metric types:
// - Gauge: current state (connections, rooms, clients)
// - Counter: cumulative events (events processed, flushes, drops)
// - Histogram: latency distributions (event processing time)

var (
	// ActiveWebSocketConnections tracks currently open sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "warboard",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks rooms currently materialized in memory.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "warboard",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomClients tracks attached sockets per room.
	RoomClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warboard",
		Subsystem: "room",
		Name:      "clients_count",
		Help:      "Number of sockets attached to each room",
	}, []string{"room_id"})

	// WebsocketEvents counts processed events by type and outcome.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warboard",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total wire events processed",
	}, []string{"event_type", "status"})

	// EventProcessingSeconds measures time spent inside the room actor per
	// event.
	EventProcessingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warboard",
		Subsystem: "websocket",
		Name:      "event_processing_seconds",
		Help:      "Time spent applying wire events",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"event_type"})

	// RateLimitDrops counts events dropped by the per-socket windows.
	RateLimitDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warboard",
		Subsystem: "websocket",
		Name:      "rate_limit_drops_total",
		Help:      "Events dropped by per-socket rate limits",
	}, []string{"event_type"})

	// RateLimitExceeded counts HTTP/connect-level rate limit hits.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warboard",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "HTTP requests rejected by rate limits",
	}, []string{"endpoint", "limit_type"})

	// AutosaveFlushes counts successful debounced or forced state flushes.
	AutosaveFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warboard",
		Subsystem: "store",
		Name:      "autosave_flushes_total",
		Help:      "Successful room state flushes",
	})

	// AutosaveFailures counts flushes that failed and left the room dirty.
	AutosaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warboard",
		Subsystem: "store",
		Name:      "autosave_failures_total",
		Help:      "Room state flushes that failed",
	})

	// CircuitBreakerState reports the breaker state per backend
	// (0 = closed, 1 = open, 2 = half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warboard",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts calls rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warboard",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected while the circuit breaker was open",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
