// Package memory is an in-process engine.Store backed by a mutex-guarded
// map. Used by unit tests and by either binary when no database block is
// configured, so the system is runnable without external infrastructure.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/engine"
)

// Store is a thread-safe, in-memory implementation of engine.Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]engine.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]engine.Record)}
}

var _ engine.Store = (*Store)(nil)

func (s *Store) Insert(_ context.Context, rec engine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return apierr.ConflictState(string(s.records[rec.ID].State))
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (engine.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return engine.Record{}, apierr.NotFound(id)
	}
	return rec.Clone(), nil
}

func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) CASState(_ context.Context, id string, expected, next engine.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return apierr.NotFound(id)
	}
	if rec.State != expected {
		return apierr.ConflictState(string(rec.State))
	}
	rec.State = next
	if next.Class() == engine.ClassInFlight {
		rec.ClaimedAt = time.Now().UTC()
	} else {
		rec.ClaimedAt = time.Time{}
	}
	s.records[id] = rec
	return nil
}

func (s *Store) DeleteIfState(_ context.Context, id string, expectedSet []engine.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return apierr.NotFound(id)
	}
	if !stateIn(rec.State, expectedSet) {
		return apierr.ConflictState(string(rec.State))
	}
	delete(s.records, id)
	return nil
}

func (s *Store) ScanByStates(_ context.Context, states []engine.State) ([]engine.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []engine.Record
	for _, rec := range s.records {
		if stateIn(rec.State, states) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func stateIn(s engine.State, set []engine.State) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
