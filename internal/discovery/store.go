package discovery

import (
	"context"
	"slices"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

// entry is the live record of one service plus its in-flight request state.
type entry struct {
	svc domain.Service

	// cancel aborts the in-flight request, nil when idle.
	cancel context.CancelFunc
	// token identifies the in-flight request so late completions of cancelled
	// or replaced requests can be told apart.
	token uint64
}

// cancelRequest aborts the in-flight request, if any.
// Requires lock: yes
func (e *entry) cancelRequest() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.svc.Running = false
}

// store is the ordered id -> entry mapping. It has no lock of its own: every
// method requires the manager lock.
type store struct {
	entries map[domain.ServiceID]*entry
	ids     []domain.ServiceID // sorted ascending, iteration order
	lastID  domain.ServiceID
}

func newStore() *store {
	return &store{entries: make(map[domain.ServiceID]*entry)}
}

// insert stores svc, assigning an id when it has none. A preset id that is
// already taken is replaced by a fresh one; reassigned reports that case.
// Requires lock: yes
func (s *store) insert(svc domain.Service) (e *entry, reassigned bool) {
	if svc.ID != 0 {
		if _, taken := s.entries[svc.ID]; taken {
			svc.ID = 0
			reassigned = true
		}
	}

	if svc.ID == 0 {
		for {
			s.lastID++
			if _, taken := s.entries[s.lastID]; !taken {
				break
			}
		}
		svc.ID = s.lastID
	}

	e = &entry{svc: svc}
	s.entries[svc.ID] = e
	pos, _ := slices.BinarySearch(s.ids, svc.ID)
	s.ids = slices.Insert(s.ids, pos, svc.ID)
	return e, reassigned
}

// remove erases id and recycles it: the next assignment starts right below
// the freed id so it is reused first.
// Requires lock: yes
func (s *store) remove(id domain.ServiceID) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	delete(s.entries, id)
	if pos, found := slices.BinarySearch(s.ids, id); found {
		s.ids = slices.Delete(s.ids, pos, pos+1)
	}
	if id-1 < s.lastID {
		s.lastID = id - 1
	}
	return e, true
}

// Requires lock: yes
func (s *store) find(id domain.ServiceID) *entry {
	return s.entries[id]
}

// each visits entries in id order until fn returns false.
// Requires lock: yes
func (s *store) each(fn func(e *entry) bool) {
	for _, id := range s.ids {
		if !fn(s.entries[id]) {
			return
		}
	}
}

// Requires lock: yes
func (s *store) len() int { return len(s.ids) }

// count returns the total size for a null filter, otherwise the number of
// working services for that network.
// Requires lock: yes
func (s *store) count(filter domain.NetworkType) int {
	if filter.IsNull() {
		return len(s.ids)
	}
	n := 0
	for _, id := range s.ids {
		if s.entries[id].svc.Working(filter) {
			n++
		}
	}
	return n
}

// snapshot copies every service in id order.
// Requires lock: yes
func (s *store) snapshot() []domain.Service {
	out := make([]domain.Service, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.entries[id].svc)
	}
	return out
}

// reset drops every entry, cancelling in-flight requests, and recycles all ids.
// Requires lock: yes
func (s *store) reset() []*entry {
	dropped := make([]*entry, 0, len(s.ids))
	for _, id := range s.ids {
		e := s.entries[id]
		e.cancelRequest()
		dropped = append(dropped, e)
	}
	s.entries = make(map[domain.ServiceID]*entry)
	s.ids = nil
	s.lastID = 0
	return dropped
}
