package vectorstore

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store used by VectorStore's unit tests.
type memoryStore struct {
	mu          sync.Mutex
	collections map[string]*Collection
	vectors     map[string][]*Vector
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return &memoryStore{collections: make(map[string]*Collection), vectors: make(map[string][]*Vector)}
}

func (s *memoryStore) GetCollection(_ context.Context, name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memoryStore) UpsertCollection(_ context.Context, c *Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.collections[c.Name] = &cp
	return nil
}

func (s *memoryStore) InsertVector(_ context.Context, v *Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.vectors[v.Collection] = append(s.vectors[v.Collection], &cp)
	return nil
}

func (s *memoryStore) ListVectors(_ context.Context, collection string) ([]*Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Vector, 0, len(s.vectors[collection]))
	for _, v := range s.vectors[collection] {
		if v.DeletedAt == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memoryStore) SoftDeleteVector(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vectors[collection] {
		if v.ID == id {
			now := nowUTC()
			v.DeletedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (s *memoryStore) SetVectorMetaRef(_ context.Context, collection, id, metaRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vectors[collection] {
		if v.ID == id {
			v.MetaRef = metaRef
			return nil
		}
	}
	return ErrNotFound
}
