package capability

import (
	"sort"
	"sync"
)

// Store owns the capabilities granted to one widget session. The parsed
// event-capability view is derived from the granted set as grants arrive,
// so the two can never diverge. Grants accumulate monotonically; there is
// no revoke operation.
type Store struct {
	mu      sync.RWMutex
	allowed map[Capability]struct{}
	events  []EventCapability
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{allowed: make(map[Capability]struct{})}
}

// Grant unions the given capabilities into the granted set. Capabilities
// already present are ignored, so repeated grants never duplicate the
// derived event view.
func (s *Store) Grant(caps ...Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []Capability
	for _, c := range caps {
		if _, ok := s.allowed[c]; ok {
			continue
		}
		s.allowed[c] = struct{}{}
		added = append(added, c)
	}
	s.events = append(s.events, FindEventCapabilities(added)...)
}

// Has reports whether the exact capability string has been granted.
func (s *Store) Has(c Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowed[c]
	return ok
}

// Allowed returns the granted capability strings in stable order.
func (s *Store) Allowed() []Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Capability, 0, len(s.allowed))
	for c := range s.allowed {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EventCapabilities returns the parsed event grants.
func (s *Store) EventCapabilities() []EventCapability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EventCapability, len(s.events))
	copy(out, s.events)
	return out
}

// AllowsTimeline reports whether the store grants timeline access to the
// given room, either explicitly or through the AnyRoom wildcard.
func (s *Store) AllowsTimeline(roomID string) bool {
	return s.Has(RoomTimeline(AnyRoom)) || s.Has(RoomTimeline(roomID))
}

// AllowsRoomEvent reports whether any grant authorizes the room event.
func (s *Store) AllowsRoomEvent(direction EventDirection, eventType string, msgtype *string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].MatchesAsRoomEvent(direction, eventType, msgtype) {
			return true
		}
	}
	return false
}

// AllowsStateEvent reports whether any grant authorizes the state event.
func (s *Store) AllowsStateEvent(direction EventDirection, eventType string, stateKey *string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].MatchesAsStateEvent(direction, eventType, stateKey) {
			return true
		}
	}
	return false
}

// AllowsToDeviceEvent reports whether any grant authorizes the to-device
// event type.
func (s *Store) AllowsToDeviceEvent(direction EventDirection, eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].MatchesAsToDeviceEvent(direction, eventType) {
			return true
		}
	}
	return false
}
