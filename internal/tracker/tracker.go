package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"campusbus/internal/domain"
	"campusbus/internal/geo"
	"campusbus/internal/metrics"
)

const (
	StateEnRoute = "en_route"
	StateArrived = "arrived"

	// EventArrive is the only transition. There is no way back to en_route;
	// a new lifecycle gets a new State.
	EventArrive = "event_arrive"
)

// Kind classifies the outcome of one tracker step
type Kind int

const (
	// Skip means nothing changed: already arrived, not moved enough, or a
	// request is already in flight.
	Skip Kind = iota
	// Pending means a route request was issued and will be resolved later.
	Pending
	Updated
	Failed
	Arrived
)

func (k Kind) String() string {
	switch k {
	case Skip:
		return "skip"
	case Pending:
		return "pending"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	case Arrived:
		return "arrived"
	default:
		return "unknown"
	}
}

type Decision struct {
	Kind           Kind
	Route          *domain.Route
	DistanceMeters float64
	ETASeconds     float64
}

// Request is a route computation the caller must run with Fetch and hand back to Resolve
type Request struct {
	Origin geo.Point
}

// RouteClient is the external routing service
type RouteClient interface {
	Route(ctx context.Context, origin, dest geo.Point) (*domain.Route, error)
}

type Config struct {
	Destination             geo.Point
	ArrivalThresholdMeters  float64
	MovementThresholdMeters float64
	Timeout                 time.Duration
}

// State is the per-vehicle navigation state. It is created lazily on the
// first position report and closed when the vehicle's lifecycle ends.
type State struct {
	mu         sync.Mutex
	machine    *fsm.FSM
	lastRouted *geo.Point
	route      *domain.Route
	inflight   bool
	closed     bool
}

func NewState() *State {
	s := &State{}
	s.machine = fsm.NewFSM(
		StateEnRoute,
		fsm.Events{
			{Name: EventArrive, Src: []string{StateEnRoute}, Dst: StateArrived},
		},
		fsm.Callbacks{
			"enter_" + StateArrived: func(_ context.Context, _ *fsm.Event) {
				s.route = nil
				metrics.Arrivals.Inc()
			},
		},
	)
	return s
}

func (s *State) Arrived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Is(StateArrived)
}

// Close marks the state dead. Pending results are discarded afterwards.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *State) Summary() domain.RouteSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := domain.RouteSummary{Arrived: s.machine.Is(StateArrived)}
	if s.route != nil {
		sum.HasRoute = true
		sum.DistanceMeters = s.route.DistanceMeters
		sum.ETASeconds = s.route.DurationSeconds
	}
	return sum
}

// CurrentRoute returns the last successfully computed route, or nil
func (s *State) CurrentRoute() *domain.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

type Tracker struct {
	client RouteClient
	cfg    Config
	logger *slog.Logger
}

func New(client RouteClient, cfg Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "tracker"),
	}
}

// Evaluate runs the decision steps for pos without calling the routing
// service. When a route is due it returns a Pending decision and a Request.
func (t *Tracker) Evaluate(s *State, pos geo.Point) (Decision, *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.machine.Is(StateArrived) {
		return Decision{Kind: Skip}, nil
	}

	if geo.Within(t.cfg.Destination, pos, t.cfg.ArrivalThresholdMeters) {
		if err := s.machine.Event(context.Background(), EventArrive); err != nil {
			t.logger.Error("arrival transition failed", "error", err)
			return Decision{Kind: Skip}, nil
		}
		return Decision{Kind: Arrived}, nil
	}

	if s.inflight {
		return Decision{Kind: Skip}, nil
	}
	if s.lastRouted != nil && geo.Within(*s.lastRouted, pos, t.cfg.MovementThresholdMeters) {
		return Decision{Kind: Skip}, nil
	}

	s.inflight = true
	return Decision{Kind: Pending}, &Request{Origin: pos}
}

// Fetch performs the time-bounded routing call. It holds no locks.
func (t *Tracker) Fetch(ctx context.Context, req *Request) (*domain.Route, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	return t.client.Route(ctx, req.Origin, t.cfg.Destination)
}

// Resolve joins a Fetch result back into s. A failure keeps the previous
// route; results for a closed or arrived state are dropped.
func (t *Tracker) Resolve(s *State, req *Request, route *domain.Route, err error) Decision {
	return t.ResolveThen(s, req, route, err, nil)
}

// ResolveThen is Resolve with emit run on an Updated decision before the
// state lock is released. An arrival recorded later cannot overtake it.
func (t *Tracker) ResolveThen(s *State, req *Request, route *domain.Route, err error, emit func(Decision)) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight = false
	if s.closed || s.machine.Is(StateArrived) {
		return Decision{Kind: Skip}
	}
	if err != nil || route == nil {
		t.logger.Debug("keeping previous route", "error", err)
		return Decision{Kind: Failed}
	}

	s.route = route
	origin := req.Origin
	s.lastRouted = &origin

	d := Decision{
		Kind:           Updated,
		Route:          route,
		DistanceMeters: route.DistanceMeters,
		ETASeconds:     route.DurationSeconds,
	}
	if emit != nil {
		emit(d)
	}
	return d
}

// Update is Evaluate, Fetch and Resolve run back to back on the calling goroutine
func (t *Tracker) Update(ctx context.Context, s *State, pos geo.Point) Decision {
	d, req := t.Evaluate(s, pos)
	if req == nil {
		return d
	}
	route, err := t.Fetch(ctx, req)
	return t.Resolve(s, req, route, err)
}
