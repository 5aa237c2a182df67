package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LiveVehicles is the number of vehicles currently in the presence registry
	LiveVehicles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusbus_live_vehicles",
			Help: "Number of vehicles currently live.",
		},
	)

	// Connections is the number of open WebSocket connections
	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusbus_ws_connections",
			Help: "Number of open WebSocket connections.",
		},
	)

	// InboundEvents counts inbound events by type and outcome
	InboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusbus_inbound_events_total",
			Help: "Inbound connection events by type and result.",
		},
		[]string{"type", "result"}, // result: ok/invalid/not_found/forbidden
	)

	// OutboundDropped counts messages dropped because a client buffer was full
	OutboundDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campusbus_outbound_dropped_total",
			Help: "Outbound messages dropped on full client buffers.",
		},
	)

	// RouteRequests counts routing lookups by source and outcome
	RouteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusbus_route_requests_total",
			Help: "Route lookups by result.",
		},
		[]string{"result"}, // result: success/failed/cache_hit/shared
	)

	// RouteLatency is the latency of calls to the routing service
	RouteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campusbus_route_latency_seconds",
			Help:    "Latency of routing-service calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RateLimited counts requests rejected by the per-IP limiter
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campusbus_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		},
	)

	// Arrivals counts arrival transitions
	Arrivals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campusbus_arrivals_total",
			Help: "Vehicles that reached the destination.",
		},
	)
)

func init() {
	prometheus.MustRegister(LiveVehicles)
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(InboundEvents)
	prometheus.MustRegister(OutboundDropped)
	prometheus.MustRegister(RouteRequests)
	prometheus.MustRegister(RouteLatency)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(Arrivals)
}
