package tablestore

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store used by TableStore's unit tests.
type memoryStore struct {
	mu         sync.Mutex
	registries map[string]*Registry
	records    map[string][]*Record
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return &memoryStore{registries: make(map[string]*Registry), records: make(map[string][]*Record)}
}

func (s *memoryStore) GetRegistry(_ context.Context, tableName string) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registries[tableName]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.InferredSchema = cloneSchema(r.InferredSchema)
	return &cp, nil
}

func (s *memoryStore) ListRegistries(_ context.Context) ([]*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Registry, 0, len(s.registries))
	for _, r := range s.registries {
		cp := *r
		cp.InferredSchema = cloneSchema(r.InferredSchema)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) UpsertRegistry(_ context.Context, r *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.InferredSchema = cloneSchema(r.InferredSchema)
	s.registries[r.TableName] = &cp
	return nil
}

func (s *memoryStore) InsertRecord(_ context.Context, tableName string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[tableName] = append(s.records[tableName], &cp)
	return nil
}

func (s *memoryStore) ListRecords(_ context.Context, tableName string, limit, offset int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*Record
	for _, r := range s.records[tableName] {
		if r.DeletedAt == nil {
			live = append(live, r)
		}
	}
	if limit <= 0 {
		return live, nil
	}
	if offset >= len(live) {
		return nil, nil
	}
	end := offset + limit
	if end > len(live) {
		end = len(live)
	}
	return live[offset:end], nil
}

func (s *memoryStore) GetRecord(_ context.Context, tableName, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records[tableName] {
		if r.ID == id && r.DeletedAt == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) UpdateRecordFields(_ context.Context, tableName, id string, fields map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records[tableName] {
		if r.ID == id && r.DeletedAt == nil {
			if r.Fields == nil {
				r.Fields = map[string]any{}
			}
			for k, v := range fields {
				r.Fields[k] = v
			}
			r.UpdatedAt = nowUTC()
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) SoftDeleteRecord(_ context.Context, tableName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records[tableName] {
		if r.ID == id {
			now := nowUTC()
			r.DeletedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (s *memoryStore) SetRecordMetaRef(_ context.Context, tableName, id, metaRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records[tableName] {
		if r.ID == id {
			r.MetaRef = metaRef
			return nil
		}
	}
	return ErrNotFound
}

func cloneSchema(m map[string]ColumnType) map[string]ColumnType {
	out := make(map[string]ColumnType, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
