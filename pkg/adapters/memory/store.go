package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/neonflow/pkg/domain"
)

// Store implements ports.RunStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.RunRecord
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.RunRecord),
	}
}

// Save archives a copy of the record.
func (s *Store) Save(ctx context.Context, record *domain.RunRecord) error {
	copied := cloneRecord(record)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[record.RunID] = copied
	return nil
}

// Load retrieves a copy so callers can't mutate the archive by pointer.
func (s *Store) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return cloneRecord(rec), nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// List returns archived run IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneRecord(r *domain.RunRecord) *domain.RunRecord {
	c := *r
	c.Variables = r.Variables.Clone()
	if r.State != nil {
		st := *r.State
		st.History = append([]domain.HistoryEntry(nil), r.State.History...)
		st.VisitCounts = make(map[int]int, len(r.State.VisitCounts))
		for k, v := range r.State.VisitCounts {
			st.VisitCounts[k] = v
		}
		c.State = &st
	}
	return &c
}
