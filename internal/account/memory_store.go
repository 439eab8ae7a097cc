package account

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store used by Manager's unit tests.
type memoryStore struct {
	mu         sync.Mutex
	byID       map[string]*Account
	byEmail    map[string]string // email -> id
	sessions   map[string]*Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		byID:     make(map[string]*Account),
		byEmail:  make(map[string]string),
		sessions: make(map[string]*Session),
	}
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return newMemoryStore()
}

func (s *memoryStore) CreateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[a.Email]; exists {
		return ErrDuplicateEmail
	}
	cp := *a
	s.byID[a.ID] = &cp
	s.byEmail[a.Email] = a.ID
	return nil
}

func (s *memoryStore) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *memoryStore) GetAccountByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) SetEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.EmailVerified = true
	return nil
}

func (s *memoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.TokenHash] = &cp
	return nil
}

func (s *memoryStore) GetSession(_ context.Context, tokenHash string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memoryStore) DeleteSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}
