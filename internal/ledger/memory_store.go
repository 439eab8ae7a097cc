package ledger

import (
	"context"
	"sync"
	"time"
)

// memoryStore is an in-process Store used by Ledger's unit tests.
type memoryStore struct {
	mu   sync.Mutex
	rows map[string]*Meta
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return &memoryStore{rows: make(map[string]*Meta)}
}

func (s *memoryStore) Insert(_ context.Context, m *Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.rows[m.ID] = &cp
	return nil
}

func (s *memoryStore) Get(_ context.Context, metaID string) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[metaID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memoryStore) GetBySourceRef(_ context.Context, sourceType SourceType, sourceRef string) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.SourceType == sourceType && m.SourceRef == sourceRef {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) Update(_ context.Context, m *Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[m.ID]; !ok {
		return ErrNotFound
	}
	cp := *m
	s.rows[m.ID] = &cp
	return nil
}

func (s *memoryStore) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Meta
	for _, m := range s.rows {
		if m.Status == status {
			cp := *m
			matched = append(matched, &cp)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *memoryStore) ListStale(_ context.Context, olderThan time.Time, status Status) ([]*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*Meta
	for _, m := range s.rows {
		if m.Status != status {
			continue
		}
		last := m.CreatedAt
		if m.LastAccessed != nil {
			last = *m.LastAccessed
		}
		if m.LastReinforced != nil && m.LastReinforced.After(last) {
			last = *m.LastReinforced
		}
		if last.Before(olderThan) {
			cp := *m
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}
