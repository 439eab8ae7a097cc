package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements Store against a tenant's vector_collections and
// vectors tables. The vectors.embedding column is a pgvector `vector(n)`
// column; callers must have registered pgvector's codec on the pool (see
// cmd/memoryserver's pool bootstrap) for the pgvector.Vector type to
// round-trip through pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetCollection(ctx context.Context, name string) (*Collection, error) {
	var c Collection
	err := s.pool.QueryRow(ctx, `
		SELECT name, description, embedding_dim, entry_count, created_at
		FROM vector_collections WHERE name = $1`, name,
	).Scan(&c.Name, &c.Description, &c.EmbeddingDim, &c.EntryCount, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select vector_collections: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) UpsertCollection(ctx context.Context, c *Collection) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vector_collections (name, description, embedding_dim, entry_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET entry_count = EXCLUDED.entry_count`,
		c.Name, c.Description, c.EmbeddingDim, c.EntryCount, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert vector_collections: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertVector(ctx context.Context, v *Vector) error {
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("marshal vector metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO vectors (id, collection, text, embedding, metadata, meta_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.Collection, v.Text, pgvector.NewVector(v.Embedding), metadata, v.MetaRef, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVectors(ctx context.Context, collection string) ([]*Vector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, text, embedding, metadata, meta_ref, created_at, deleted_at
		FROM vectors WHERE collection = $1 AND deleted_at IS NULL`, collection)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()
	return scanVectors(rows, collection)
}

func scanVectors(rows pgx.Rows, collection string) ([]*Vector, error) {
	var out []*Vector
	for rows.Next() {
		var v Vector
		var embedding pgvector.Vector
		var metadata []byte
		if err := rows.Scan(&v.ID, &v.Text, &embedding, &metadata, &v.MetaRef, &v.CreatedAt, &v.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		v.Collection = collection
		v.Embedding = embedding.Slice()
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal vector metadata: %w", err)
			}
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SoftDeleteVector(ctx context.Context, collection, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vectors SET deleted_at = now() WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("soft delete vector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetVectorMetaRef(ctx context.Context, collection, id, metaRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vectors SET meta_ref = $3 WHERE collection = $1 AND id = $2`, collection, id, metaRef)
	if err != nil {
		return fmt.Errorf("set vector meta_ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchNative runs the similarity search inside Postgres using pgvector's
// `<=>` cosine-distance operator, letting an ivfflat/hnsw index on
// vectors.embedding serve the ORDER BY instead of scanning every row in
// Go. VectorStore.Search does not call it, and nothing else in this
// repository does either.
func (s *PostgresStore) SearchNative(ctx context.Context, collection string, query []float32, topK int) ([]Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, text, embedding, metadata, meta_ref, created_at, deleted_at,
		       embedding <=> $2 AS distance
		FROM vectors
		WHERE collection = $1 AND deleted_at IS NULL
		ORDER BY distance ASC
		LIMIT $3`, collection, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, fmt.Errorf("native vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var v Vector
		var embedding pgvector.Vector
		var metadata []byte
		var distance float64
		if err := rows.Scan(&v.ID, &v.Text, &embedding, &metadata, &v.MetaRef, &v.CreatedAt, &v.DeletedAt, &distance); err != nil {
			return nil, fmt.Errorf("scan native search row: %w", err)
		}
		v.Collection = collection
		v.Embedding = embedding.Slice()
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal vector metadata: %w", err)
			}
		}
		matches = append(matches, Match{Vector: &v, Distance: distance})
	}
	return matches, rows.Err()
}
