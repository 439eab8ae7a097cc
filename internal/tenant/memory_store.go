package tenant

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store used by Manager's unit tests. It
// tracks which namespaces have had CreateNamespaceSchema called on them
// without touching a real database.
type memoryStore struct {
	mu         sync.Mutex
	byUserID   map[string]*Tenant
	namespaces map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		byUserID:   make(map[string]*Tenant),
		namespaces: make(map[string]bool),
	}
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return newMemoryStore()
}

func (s *memoryStore) InsertTenant(_ context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.byUserID[t.UserID] = &cp
	return nil
}

func (s *memoryStore) GetTenantByUserID(_ context.Context, userID string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byUserID[userID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memoryStore) DeleteTenant(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUserID, userID)
	return nil
}

func (s *memoryStore) CreateNamespaceSchema(_ context.Context, namespace string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[namespace] = true
	return nil
}

func (s *memoryStore) DropNamespaceSchema(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}
