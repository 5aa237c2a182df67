package hub

import "sync"

// Subscriptions tracks which observer follows which vehicle. An observer
// follows at most one vehicle.
type Subscriptions struct {
	mu         sync.RWMutex
	byObserver map[string]string
	byVehicle  map[string]map[string]struct{}
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		byObserver: make(map[string]string),
		byVehicle:  make(map[string]map[string]struct{}),
	}
}

// Follow replaces any prior subscription of observerID. The vehicle does
// not have to be live. It returns the previously followed vehicle.
func (s *Subscriptions) Follow(observerID, vehicleID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.removeLocked(observerID)
	s.byObserver[observerID] = vehicleID
	if s.byVehicle[vehicleID] == nil {
		s.byVehicle[vehicleID] = make(map[string]struct{})
	}
	s.byVehicle[vehicleID][observerID] = struct{}{}
	return prev
}

func (s *Subscriptions) Unfollow(observerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.removeLocked(observerID)
	return prev, prev != ""
}

// UnfollowIfMatches clears the subscription only if it targets vehicleID
func (s *Subscriptions) UnfollowIfMatches(observerID, vehicleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byObserver[observerID] != vehicleID {
		return false
	}
	s.removeLocked(observerID)
	return true
}

func (s *Subscriptions) ResolveObservers(vehicleID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	observers := make([]string, 0, len(s.byVehicle[vehicleID]))
	for id := range s.byVehicle[vehicleID] {
		observers = append(observers, id)
	}
	return observers
}

func (s *Subscriptions) Following(observerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byObserver[observerID]
	return v, ok
}

func (s *Subscriptions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byObserver)
}

func (s *Subscriptions) removeLocked(observerID string) string {
	prev, ok := s.byObserver[observerID]
	if !ok {
		return ""
	}
	delete(s.byObserver, observerID)
	if obs := s.byVehicle[prev]; obs != nil {
		delete(obs, observerID)
		if len(obs) == 0 {
			delete(s.byVehicle, prev)
		}
	}
	return prev
}
