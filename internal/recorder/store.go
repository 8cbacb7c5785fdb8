package recorder

import (
	"sort"
	"sync"

	"github.com/sports-dvr/backend/internal/models"
)

type entry struct {
	rec      models.Recording
	proc     Process
	stopping bool
	seq      uint64
}

// store holds every recording known to this process. All reads return copies.
type store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
	closed  bool
}

func newStore() *store {
	return &store{entries: make(map[string]*entry)}
}

func (s *store) get(id string) (models.Recording, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return models.Recording{}, false
	}
	return e.rec, true
}

// reserve inserts rec unless the id exists, the store is closed, or the
// number of live recordings has reached limit. existing is set when the id was
// already present.
func (s *store) reserve(rec models.Recording, limit int) (existing *models.Recording, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if e, ok := s.entries[rec.EventID]; ok {
		cp := e.rec
		return &cp, nil
	}
	if s.activeLocked() >= limit {
		return nil, ErrCapacityExceeded
	}
	s.seq++
	s.entries[rec.EventID] = &entry{rec: rec, seq: s.seq}
	return nil, nil
}

func (s *store) remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// update applies fn to the entry under the write lock. It reports false when
// the entry does not exist.
func (s *store) update(id string, fn func(e *entry)) (models.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return models.Recording{}, false
	}
	fn(e)
	return e.rec, true
}

func (s *store) list() []models.Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]models.Recording, len(es))
	for i, e := range es {
		out[i] = e.rec
	}
	return out
}

func (s *store) active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

func (s *store) activeLocked() int {
	n := 0
	for _, e := range s.entries {
		if e.rec.Status == models.StatusStarting || e.rec.Status == models.StatusRecording {
			n++
		}
	}
	return n
}

// liveIDs returns ids that currently hold a process handle, in insertion order.
func (s *store) liveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.proc != nil || e.rec.Status == models.StatusStarting {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	ids := make([]string, len(es))
	for i, e := range es {
		ids[i] = e.rec.EventID
	}
	return ids
}

func (s *store) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *store) clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}
