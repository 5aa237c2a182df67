package handler

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"campusbus/internal/coordinator"
	"campusbus/internal/hub"
)

// Stats tracks server-wide counters not covered by the Prometheus registry
type Stats struct {
	startTime     time.Time
	requestCount  atomic.Int64
	wsMessagesIn  atomic.Int64
	wsMessagesOut atomic.Int64
}

func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) IncRequests()      { s.requestCount.Add(1) }
func (s *Stats) IncWSMessagesIn()  { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut() { s.wsMessagesOut.Add(1) }

// CountRequests is middleware feeding the request counter
func (s *Stats) CountRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.IncRequests()
		next.ServeHTTP(w, r)
	})
}

// Sizer reports the number of entries held by a cache
type Sizer interface {
	Len() int
}

// BlockCounter reports how many requests a limiter rejected
type BlockCounter interface {
	Blocked() int64
}

type StatsHandler struct {
	stats   *Stats
	hub     *hub.Hub
	coord   *coordinator.Coordinator
	routes  Sizer
	limiter BlockCounter
}

func NewStatsHandler(stats *Stats, h *hub.Hub, coord *coordinator.Coordinator, routes Sizer, limiter BlockCounter) *StatsHandler {
	return &StatsHandler{
		stats:   stats,
		hub:     h,
		coord:   coord,
		routes:  routes,
		limiter: limiter,
	}
}

type StatsResponse struct {
	Server    ServerStatsResponse    `json:"server"`
	Presence  PresenceStatsResponse  `json:"presence"`
	WebSocket WebSocketStatsResponse `json:"websocket"`
	Routing   RoutingStatsResponse   `json:"routing"`
	Go        GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
}

type PresenceStatsResponse struct {
	LiveVehicles int              `json:"live_vehicles"`
	Version      uint64           `json:"version"`
	Mode         coordinator.Mode `json:"mode"`
}

type WebSocketStatsResponse struct {
	Connections int   `json:"connections"`
	Following   int   `json:"following"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

type RoutingStatsResponse struct {
	CachedRoutes int `json:"cached_routes"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.stats.startTime)
	snap := h.coord.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var blocked int64
	if h.limiter != nil {
		blocked = h.limiter.Blocked()
	}
	var cached int
	if h.routes != nil {
		cached = h.routes.Len()
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     h.stats.startTime,
			RequestCount:  h.stats.requestCount.Load(),
			RateLimited:   blocked,
		},
		Presence: PresenceStatsResponse{
			LiveVehicles: len(snap.Vehicles),
			Version:      snap.Version,
			Mode:         h.coord.Mode(),
		},
		WebSocket: WebSocketStatsResponse{
			Connections: h.hub.ClientCount(),
			Following:   h.hub.Subscriptions().Count(),
			MessagesIn:  h.stats.wsMessagesIn.Load(),
			MessagesOut: h.stats.wsMessagesOut.Load(),
		},
		Routing: RoutingStatsResponse{
			CachedRoutes: cached,
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	})
}
