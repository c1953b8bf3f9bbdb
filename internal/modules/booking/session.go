// README: Per-traveler session holding the current booking and the confirmed and historical sets.
package booking

import (
	"sync"

	"namma/internal/types"
)

// Session is owned by the Service. Its fields are guarded by mu; callers never
// hold mu across a backend call.
type Session struct {
	mu         sync.Mutex
	travelerID types.ID
	current    *Booking
	confirmed  []Booking
	history    []Booking
}

func newSession(travelerID types.ID) *Session {
	return &Session{travelerID: travelerID}
}

// Snapshot is a copy of a session's state.
type Snapshot struct {
	Current   *Booking  `json:"current"`
	Confirmed []Booking `json:"confirmed"`
	History   []Booking `json:"history"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		Confirmed: cloneAll(s.confirmed),
		History:   cloneAll(s.history),
	}
	if s.current != nil {
		c := s.current.clone()
		out.Current = &c
	}
	return out
}

// findLocked returns a copy of the booking with id from the current booking or the
// given sets, in that order of preference.
func (s *Session) findLocked(id types.ID, inCurrent, inConfirmed, inHistory bool) (Booking, bool) {
	if inCurrent && s.current != nil && s.current.ID == id {
		return s.current.clone(), true
	}
	if inConfirmed {
		if i := indexOf(s.confirmed, id); i >= 0 {
			return s.confirmed[i].clone(), true
		}
	}
	if inHistory {
		if i := indexOf(s.history, id); i >= 0 {
			return s.history[i].clone(), true
		}
	}
	return Booking{}, false
}

// updateLocked applies fn to every copy of the booking with id and reports how many were touched.
func (s *Session) updateLocked(id types.ID, fn func(*Booking)) int {
	n := 0
	if s.current != nil && s.current.ID == id {
		fn(s.current)
		n++
	}
	for i := range s.confirmed {
		if s.confirmed[i].ID == id {
			fn(&s.confirmed[i])
			n++
		}
	}
	for i := range s.history {
		if s.history[i].ID == id {
			fn(&s.history[i])
			n++
		}
	}
	return n
}

// retireLocked moves a terminal booking out of the active slots into history.
func (s *Session) retireLocked(b Booking) {
	if s.current != nil && s.current.ID == b.ID {
		s.current = nil
	}
	if i := indexOf(s.confirmed, b.ID); i >= 0 {
		s.confirmed = append(s.confirmed[:i], s.confirmed[i+1:]...)
	}
	if i := indexOf(s.history, b.ID); i >= 0 {
		s.history[i] = b
		return
	}
	s.history = append([]Booking{b}, s.history...)
}

// replaceLocked swaps the booking with oldID for b wherever it appears.
func (s *Session) replaceLocked(oldID types.ID, b Booking) bool {
	found := false
	if s.current != nil && s.current.ID == oldID {
		c := b.clone()
		s.current = &c
		found = true
	}
	if i := indexOf(s.confirmed, oldID); i >= 0 {
		s.confirmed[i] = b.clone()
		found = true
	}
	return found
}

func indexOf(list []Booking, id types.ID) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(list []Booking) []Booking {
	out := make([]Booking, 0, len(list))
	for _, b := range list {
		out = append(out, b.clone())
	}
	return out
}
