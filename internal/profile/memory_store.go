package profile

import "context"

// memoryStore is an in-process Store used by Profile's unit tests.
type memoryStore struct {
	versions []*Version
}

// NewMemoryStoreForTest exposes an in-process Store for tests outside this
// package. Production callers must use NewPostgresStore.
func NewMemoryStoreForTest() Store {
	return &memoryStore{}
}

func (s *memoryStore) Latest(_ context.Context) (*Version, error) {
	if len(s.versions) == 0 {
		return nil, nil
	}
	return s.versions[len(s.versions)-1], nil
}

func (s *memoryStore) Insert(_ context.Context, v *Version) error {
	s.versions = append(s.versions, v)
	return nil
}

func (s *memoryStore) History(_ context.Context, limit, offset int) ([]*Version, error) {
	newestFirst := make([]*Version, len(s.versions))
	for i, v := range s.versions {
		newestFirst[len(s.versions)-1-i] = v
	}
	if offset >= len(newestFirst) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(newestFirst) {
		end = len(newestFirst)
	}
	return newestFirst[offset:end], nil
}

func (s *memoryStore) SetMetaRef(_ context.Context, version int, metaRef string) error {
	for _, v := range s.versions {
		if v.Version == version {
			v.MetaRef = metaRef
			return nil
		}
	}
	return nil
}
