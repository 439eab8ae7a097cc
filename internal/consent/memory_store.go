package consent

import (
	"context"
	"sync"
	"time"
)

// memoryStore is an in-process Store used by Engine's unit tests.
type memoryStore struct {
	mu    sync.Mutex
	rules []Rule
	next  int64
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return &memoryStore{}
}

func (s *memoryStore) UpsertRule(_ context.Context, agentID, resource string, perm Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		r := &s.rules[i]
		if r.AgentID == agentID && r.Resource == resource && r.active() {
			r.Permission = perm
			r.GrantedAt = time.Now().UTC()
			return nil
		}
	}
	s.next++
	s.rules = append(s.rules, Rule{
		ID:         s.next,
		AgentID:    agentID,
		Resource:   resource,
		Permission: perm,
		GrantedAt:  time.Now().UTC(),
	})
	return nil
}

func (s *memoryStore) RevokeRule(_ context.Context, agentID, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.rules {
		r := &s.rules[i]
		if r.AgentID == agentID && r.Resource == resource && r.active() {
			r.RevokedAt = &now
		}
	}
	return nil
}

func (s *memoryStore) RevokeAllForAgent(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.rules {
		r := &s.rules[i]
		if r.AgentID == agentID && r.active() {
			r.RevokedAt = &now
		}
	}
	return nil
}

func (s *memoryStore) ListActiveForAgent(_ context.Context, agentID string) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Rule
	for _, r := range s.rules {
		if r.AgentID == agentID && r.active() {
			out = append(out, r)
		}
	}
	return out, nil
}
