package ingest

import (
	"context"
	"sync"
)

// memoryPendingStore is an in-process PendingStore used by Pipeline's unit
// tests.
type memoryPendingStore struct {
	mu   sync.Mutex
	rows map[string]*PendingVector
	next int
}

// NewMemoryPendingStoreForTest exposes an in-process PendingStore for
// tests outside this package. Production callers must use
// NewPostgresPendingStore.
func NewMemoryPendingStoreForTest() PendingStore {
	return &memoryPendingStore{rows: make(map[string]*PendingVector)}
}

func (s *memoryPendingStore) Enqueue(_ context.Context, collection, text string, metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := formatMetaIndex(s.next)
	s.rows[id] = &PendingVector{ID: id, Collection: collection, Text: text, Metadata: metadata}
	return id, nil
}

func (s *memoryPendingStore) ListPending(_ context.Context, limit int) ([]PendingVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingVector
	for _, r := range s.rows {
		out = append(out, *r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryPendingStore) MarkEmbedded(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memoryPendingStore) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		r.Attempts++
	}
	return nil
}

// memoryBacklogStore is an in-process BacklogStore used by tests.
type memoryBacklogStore struct {
	mu   sync.Mutex
	rows []string
	next int
}

// NewMemoryBacklogStoreForTest exposes an in-process BacklogStore for
// tests outside this package.
func NewMemoryBacklogStoreForTest() BacklogStore {
	return &memoryBacklogStore{}
}

func (s *memoryBacklogStore) Enqueue(_ context.Context, text string, _ map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := formatMetaIndex(s.next)
	s.rows = append(s.rows, text)
	return id, nil
}
