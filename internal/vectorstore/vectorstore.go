// Package vectorstore implements the semantic vector store: named
// collections of fixed-dimension embeddings with cosine-distance
// similarity search, backed by pgvector.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrDimensionMismatch is returned when an embedding's length does not
// match the dimension the collection was first created with.
var ErrDimensionMismatch = errors.New("VECTOR_DIMENSION_MISMATCH")

// ErrNotFound is returned for unknown collections or vector ids.
var ErrNotFound = errors.New("VECTOR_NOT_FOUND")

// Collection is auto-created on first write to a named vector namespace.
type Collection struct {
	Name         string
	Description  string
	EmbeddingDim int
	EntryCount   int
	CreatedAt    time.Time
}

// Vector is one embedded text row within a collection.
type Vector struct {
	ID         string
	Collection string
	Text       string
	Embedding  []float32
	Metadata   map[string]any
	MetaRef    string
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// Match pairs a Vector with its similarity score against a query embedding.
type Match struct {
	Vector   *Vector
	Distance float64 // cosine distance; 0 = identical direction
}

// Store persists collections and vectors for one tenant namespace.
type Store interface {
	GetCollection(ctx context.Context, name string) (*Collection, error) // ErrNotFound if absent
	UpsertCollection(ctx context.Context, c *Collection) error
	InsertVector(ctx context.Context, v *Vector) error
	ListVectors(ctx context.Context, collection string) ([]*Vector, error)
	SoftDeleteVector(ctx context.Context, collection, id string) error
	SetVectorMetaRef(ctx context.Context, collection, id, metaRef string) error
}

// VectorStore implements the collection-auto-create and search operations.
type VectorStore struct {
	store Store
	newID func() string
	now   func() time.Time
}

// New creates a VectorStore.
func New(store Store, idFunc func() string, nowFunc func() time.Time) *VectorStore {
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC() }
	}
	return &VectorStore{store: store, newID: idFunc, now: nowFunc}
}

// Insert auto-creates the collection on first write, enforces dimension
// consistency on every subsequent write, and inserts the vector row.
func (v *VectorStore) Insert(ctx context.Context, collection, text string, embedding []float32, metadata map[string]any, metaRef string) (*Vector, error) {
	now := v.now()
	coll, err := v.store.GetCollection(ctx, collection)
	if errors.Is(err, ErrNotFound) {
		coll = &Collection{Name: collection, EmbeddingDim: len(embedding), CreatedAt: now}
		if err := v.store.UpsertCollection(ctx, coll); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if coll.EmbeddingDim != len(embedding) {
		return nil, fmt.Errorf("%w: collection %q expects dim %d, got %d", ErrDimensionMismatch, collection, coll.EmbeddingDim, len(embedding))
	}

	vec := &Vector{
		ID: v.newID(), Collection: collection, Text: text, Embedding: embedding,
		Metadata: metadata, MetaRef: metaRef, CreatedAt: now,
	}
	if err := v.store.InsertVector(ctx, vec); err != nil {
		return nil, err
	}

	coll.EntryCount++
	if err := v.store.UpsertCollection(ctx, coll); err != nil {
		return nil, err
	}
	return vec, nil
}

// Search returns the topK vectors in collection closest to query by
// cosine distance, ascending (closest first). It loads every vector in the
// collection and compares them in Go for every Store, PostgresStore
// included; it does not call PostgresStore.SearchNative.
func (v *VectorStore) Search(ctx context.Context, collection string, query []float32, topK int) ([]Match, error) {
	vectors, err := v.store.ListVectors(ctx, collection)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(vectors))
	for _, vec := range vectors {
		if vec.DeletedAt != nil {
			continue
		}
		matches = append(matches, Match{Vector: vec, Distance: cosineDistance(query, vec.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (v *VectorStore) Delete(ctx context.Context, collection, id string) error {
	return v.store.SoftDeleteVector(ctx, collection, id)
}

func (v *VectorStore) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return v.store.GetCollection(ctx, name)
}

// ListVectors returns every undeleted vector in collection.
func (v *VectorStore) ListVectors(ctx context.Context, collection string) ([]*Vector, error) {
	return v.store.ListVectors(ctx, collection)
}

// SetMetaRef backfills the ledger meta_id onto a vector already inserted,
// since the vector's own id isn't known until after Insert returns.
func (v *VectorStore) SetMetaRef(ctx context.Context, collection, id, metaRef string) error {
	return v.store.SetVectorMetaRef(ctx, collection, id, metaRef)
}

// cosineDistance returns 1 - cosine_similarity(a, b), matching pgvector's
// `<=>` operator convention (0 = identical direction, 2 = opposite).
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
