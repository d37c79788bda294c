// Package memory stores load change history in-memory for development.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/loadstate/internal/store"
)

// HistoryStore provides an in-memory store.HistoryRepository.
type HistoryStore struct {
	mu      sync.RWMutex
	records []store.ChangeRecord
	byLoad  map[string][]int
	seq     int64
}

var _ store.HistoryRepository = (*HistoryStore)(nil)

// NewHistoryStore constructs an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{byLoad: make(map[string][]int)}
}

// AppendChanges stores the records, assigning sequence numbers.
func (s *HistoryStore) AppendChanges(_ context.Context, records []store.ChangeRecord) error {
	for _, rec := range records {
		if rec.LoadID == "" {
			return errors.New("record load id is required")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.seq++
		rec.Seq = s.seq
		s.byLoad[rec.LoadID] = append(s.byLoad[rec.LoadID], len(s.records))
		s.records = append(s.records, rec)
	}
	return nil
}

// ListChanges returns the history of one load, oldest first.
func (s *HistoryStore) ListChanges(
	_ context.Context,
	loadID string,
	limit,
	offset int,
) ([]store.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byLoad[loadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	start, end := window(len(idx), limit, offset)
	out := make([]store.ChangeRecord, 0, end-start)
	for _, i := range idx[start:end] {
		out = append(out, s.records[i])
	}
	return out, nil
}

// ListRecent returns the newest records first, optionally filtered by outcome.
func (s *HistoryStore) ListRecent(
	_ context.Context,
	outcome *store.Outcome,
	limit,
	offset int,
) ([]store.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]store.ChangeRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if outcome != nil && rec.Outcome != *outcome {
			continue
		}
		matched = append(matched, rec)
	}
	start, end := window(len(matched), limit, offset)
	return matched[start:end], nil
}

// Len returns the number of stored records.
func (s *HistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func window(n, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
