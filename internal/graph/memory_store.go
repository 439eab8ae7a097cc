package graph

import (
	"context"
	"strings"
	"sync"
)

// memoryStore is an in-process Store used by Graph's unit tests.
type memoryStore struct {
	mu       sync.Mutex
	entities map[string]*Entity
	edges    map[string]*Edge
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return &memoryStore{entities: make(map[string]*Entity), edges: make(map[string]*Edge)}
}

func (s *memoryStore) UpsertEntity(_ context.Context, e *Entity) (*Entity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entities {
		if existing.DeletedAt == nil && existing.Type == e.Type &&
			strings.EqualFold(existing.Name, e.Name) {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *e
	s.entities[e.ID] = &cp
	out := *e
	return &out, true, nil
}

func (s *memoryStore) GetEntity(_ context.Context, id string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memoryStore) UpdateEntity(_ context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	s.entities[e.ID] = &cp
	return nil
}

func (s *memoryStore) SoftDeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return ErrNotFound
	}
	now := nowUTC()
	e.DeletedAt = &now
	return nil
}

func (s *memoryStore) ListEntities(_ context.Context, entityType string, minConfidence float64, limit, offset int) ([]*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Entity
	for _, e := range s.entities {
		if e.DeletedAt != nil {
			continue
		}
		if entityType != "" && e.Type != entityType {
			continue
		}
		if e.Confidence < minConfidence {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	if limit <= 0 {
		return matched, nil
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *memoryStore) FindEntityByName(_ context.Context, entityType, name string) ([]*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Entity
	for _, e := range s.entities {
		if e.DeletedAt != nil {
			continue
		}
		if entityType != "" && e.Type != entityType {
			continue
		}
		if strings.EqualFold(e.Name, name) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

func (s *memoryStore) UpsertEdge(_ context.Context, e *Edge) (*Edge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.edges {
		if existing.DeletedAt == nil && existing.SourceID == e.SourceID &&
			existing.TargetID == e.TargetID && existing.Relation == e.Relation {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *e
	s.edges[e.ID] = &cp
	out := *e
	return &out, true, nil
}

func (s *memoryStore) GetEdge(_ context.Context, id string) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memoryStore) UpdateEdge(_ context.Context, e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	s.edges[e.ID] = &cp
	return nil
}

func (s *memoryStore) SoftDeleteEdge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return ErrNotFound
	}
	now := nowUTC()
	e.DeletedAt = &now
	return nil
}

func (s *memoryStore) ListEdges(_ context.Context, entityID string, dir Direction, relation string, minConfidence float64) ([]*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Edge
	for _, e := range s.edges {
		if e.DeletedAt != nil {
			continue
		}
		touches := false
		switch dir {
		case DirectionOut:
			touches = e.SourceID == entityID
		case DirectionIn:
			touches = e.TargetID == entityID
		default:
			touches = e.SourceID == entityID || e.TargetID == entityID
		}
		if !touches {
			continue
		}
		if relation != "" && e.Relation != relation {
			continue
		}
		if e.Confidence < minConfidence {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	return matched, nil
}

func (s *memoryStore) AllEntities(_ context.Context) ([]*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) AllEdges(_ context.Context) ([]*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Edge, 0, len(s.edges))
	for _, e := range s.edges {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
