package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"campusbus/internal/domain"
	"campusbus/internal/geo"
	"campusbus/internal/tracker"
)

type recordingNotifier struct {
	mu        sync.Mutex
	snapshots []domain.PresenceSnapshot
}

func (n *recordingNotifier) PresenceChanged(s domain.PresenceSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, s)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.snapshots)
}

func (n *recordingNotifier) last() domain.PresenceSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshots[len(n.snapshots)-1]
}

func ids(s domain.PresenceSnapshot) []string {
	out := make([]string, 0, len(s.Vehicles))
	for _, v := range s.Vehicles {
		out = append(out, v.ID)
	}
	return out
}

func pos(lat, lon float64) domain.Position {
	return domain.Position{Lat: lat, Lon: lon, Timestamp: time.Now()}
}

func TestRegisterLive(t *testing.T) {
	n := &recordingNotifier{}
	r := New(n)

	reg, err := r.RegisterLive("conn-1", "B12", "Campus Express", "Ravi")
	if err != nil {
		t.Fatalf("RegisterLive() error = %v", err)
	}
	if reg.Vehicle.ID != "B12" || reg.Vehicle.ConnectionID != "conn-1" || reg.EvictedConn != "" {
		t.Errorf("unexpected registration %+v", reg)
	}
	if reg.Vehicle.LiveSince.IsZero() {
		t.Error("LiveSince not set")
	}

	if n.count() != 1 {
		t.Fatalf("notifications = %d, want 1", n.count())
	}
	snap := n.last()
	if len(snap.Vehicles) != 1 || snap.Vehicles[0].RouteLabel != "Campus Express" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRegisterLiveValidation(t *testing.T) {
	tests := []struct {
		name                         string
		conn, vehicle, route, driver string
	}{
		{"missing vehicle", "c", "", "Campus Express", "d"},
		{"blank vehicle", "c", "   ", "Campus Express", "d"},
		{"missing route", "c", "B12", "", "d"},
		{"missing connection", "", "B12", "Campus Express", "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			r := New(n)
			_, err := r.RegisterLive(tt.conn, tt.vehicle, tt.route, tt.driver)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
			if r.Count() != 0 || n.count() != 0 {
				t.Error("invalid registration must not mutate or notify")
			}
		})
	}
}

func TestReplacementEvictsPreviousConnection(t *testing.T) {
	r := New(nil)
	r.RegisterLive("conn-1", "B12", "Campus Express", "first")
	r.RegisterLive("conn-2", "B7", "North Loop", "other")

	reg, err := r.RegisterLive("conn-3", "B12", "Campus Express", "second")
	if err != nil {
		t.Fatal(err)
	}
	if reg.EvictedConn != "conn-1" {
		t.Errorf("EvictedConn = %q, want conn-1", reg.EvictedConn)
	}

	if _, err := r.ReportPosition("conn-1", pos(23.3, 77.3), nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("evicted connection report error = %v, want ErrNotFound", err)
	}
	v, err := r.ReportPosition("conn-3", pos(23.3, 77.3), nil)
	if err != nil {
		t.Fatalf("new owner report error = %v", err)
	}
	if v.DisplayName != "second" {
		t.Errorf("DisplayName = %q, want second", v.DisplayName)
	}

	// Replacement keeps the original slot
	got := ids(r.Snapshot())
	if fmt.Sprint(got) != "[B12 B7]" {
		t.Errorf("order = %v, want [B12 B7]", got)
	}

	if _, ok := r.Unregister("conn-1"); ok {
		t.Error("evicted connection must not remove the new owner's vehicle")
	}
	if r.Count() != 2 {
		t.Errorf("Count = %d, want 2", r.Count())
	}
}

func TestConnectionOwnsOneVehicle(t *testing.T) {
	r := New(nil)
	r.RegisterLive("conn-1", "B12", "Campus Express", "")
	reg, _ := r.RegisterLive("conn-1", "B14", "South Loop", "")

	if reg.Released == nil || reg.Released.ID != "B12" {
		t.Errorf("Released = %+v, want B12", reg.Released)
	}
	if got := ids(r.Snapshot()); fmt.Sprint(got) != "[B14]" {
		t.Errorf("snapshot = %v, want [B14]", got)
	}
	if v, err := r.ReportPosition("conn-1", pos(1, 2), nil); err != nil || v.ID != "B14" {
		t.Errorf("conn-1 reports for %+v, %v; want B14", v, err)
	}
}

func TestReportPosition(t *testing.T) {
	r := New(nil)

	if _, err := r.ReportPosition("nobody", pos(1, 2), nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	r.RegisterLive("conn-1", "B12", "Campus Express", "")

	var seen *tracker.State
	v, err := r.ReportPosition("conn-1", pos(23.30, 77.34), func(v *domain.Vehicle, rs *tracker.State) {
		seen = rs
		if v.LastPosition == nil || v.LastPosition.Lat != 23.30 {
			t.Errorf("fn saw vehicle without the new position: %+v", v)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.LastPosition.Lon != 77.34 {
		t.Errorf("LastPosition = %+v", v.LastPosition)
	}
	if seen == nil {
		t.Fatal("route state not created lazily")
	}

	var again *tracker.State
	r.ReportPosition("conn-1", pos(23.31, 77.34), func(_ *domain.Vehicle, rs *tracker.State) { again = rs })
	if again != seen {
		t.Error("route state must persist across reports within a lifecycle")
	}

	stored, _, _ := r.Get("B12")
	if stored.LastPosition.Lat != 23.31 {
		t.Errorf("stored position = %+v", stored.LastPosition)
	}
}

func TestUnregister(t *testing.T) {
	n := &recordingNotifier{}
	r := New(n)
	r.RegisterLive("conn-1", "B12", "Campus Express", "")

	if _, ok := r.Unregister("conn-x"); ok {
		t.Error("unknown connection should be a no-op")
	}
	if n.count() != 1 {
		t.Errorf("no-op unregister must not notify, got %d notifications", n.count())
	}

	var rs *tracker.State
	r.ReportPosition("conn-1", pos(1, 1), func(_ *domain.Vehicle, s *tracker.State) { rs = s })

	v, ok := r.Unregister("conn-1")
	if !ok || v.ID != "B12" {
		t.Fatalf("Unregister = %v, %v", v, ok)
	}
	if n.count() != 2 || len(n.last().Vehicles) != 0 {
		t.Error("expected an empty snapshot notification")
	}

	// Closed state drops pending work
	tr := tracker.New(nil, tracker.Config{ArrivalThresholdMeters: 100, MovementThresholdMeters: 50},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if d, req := tr.Evaluate(rs, geo.Point{Lat: 10, Lon: 10}); d.Kind != tracker.Skip || req != nil {
		t.Errorf("closed state Kind = %v, want skip", d.Kind)
	}
}

func TestSnapshotVersionIncreases(t *testing.T) {
	r := New(nil)
	v0 := r.Snapshot().Version
	r.RegisterLive("c1", "B1", "R", "")
	v1 := r.Snapshot().Version
	r.Unregister("c1")
	v2 := r.Snapshot().Version
	if !(v0 < v1 && v1 < v2) {
		t.Errorf("versions not increasing: %d %d %d", v0, v1, v2)
	}
}

func TestSnapshotMatchesLiveSet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := New(nil)

	live := map[string]string{} // vehicleID -> connID
	var order []string

	for i := 0; i < 500; i++ {
		conn := fmt.Sprintf("conn-%d", rng.Intn(8))
		vehicle := fmt.Sprintf("B%d", rng.Intn(6))

		switch rng.Intn(3) {
		case 0:
			if _, err := r.RegisterLive(conn, vehicle, "R", ""); err != nil {
				t.Fatal(err)
			}
			for vid, c := range live {
				if c == conn && vid != vehicle {
					delete(live, vid)
					order = remove(order, vid)
				}
			}
			if _, ok := live[vehicle]; !ok {
				order = append(order, vehicle)
			}
			live[vehicle] = conn
		case 1:
			r.ReportPosition(conn, pos(rng.Float64(), rng.Float64()), nil)
		case 2:
			r.Unregister(conn)
			for vid, c := range live {
				if c == conn {
					delete(live, vid)
					order = remove(order, vid)
				}
			}
		}

		got := ids(r.Snapshot())
		if fmt.Sprint(got) != fmt.Sprint(order) {
			t.Fatalf("step %d: snapshot = %v, want %v", i, got, order)
		}
	}
}

func TestSnapshotWithOrderedAgainstNotifier(t *testing.T) {
	n := &recordingNotifier{}
	r := New(n)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.RegisterLive(fmt.Sprintf("conn-%d", i), fmt.Sprintf("V%d", i), "R", "")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.SnapshotWith(n.PresenceChanged)
		}
	}()
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	for i := 1; i < len(n.snapshots); i++ {
		if n.snapshots[i].Version < n.snapshots[i-1].Version {
			t.Fatalf("version %d recorded after %d", n.snapshots[i].Version, n.snapshots[i-1].Version)
		}
	}
}

func TestConcurrentReports(t *testing.T) {
	r := New(&recordingNotifier{})
	for i := 0; i < 10; i++ {
		r.RegisterLive(fmt.Sprintf("c%d", i), fmt.Sprintf("B%d", i), "R", "")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			for j := 0; j < 200; j++ {
				r.ReportPosition(conn, pos(float64(j), float64(i)), nil)
				if j%50 == 0 {
					r.Snapshot()
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		v, _, ok := r.Get(fmt.Sprintf("B%d", i))
		if !ok || v.LastPosition.Lat != 199 {
			t.Errorf("B%d last position = %+v", i, v.LastPosition)
		}
	}
}

func remove(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
