package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPendingStore implements PendingStore against a tenant's
// pending_vectors table.
type PostgresPendingStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPendingStore creates a PostgresPendingStore over pool.
func NewPostgresPendingStore(pool *pgxpool.Pool) *PostgresPendingStore {
	return &PostgresPendingStore{pool: pool}
}

func (s *PostgresPendingStore) Enqueue(ctx context.Context, collection, text string, metadata map[string]any) (string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal pending metadata: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO pending_vectors (collection, text, metadata)
		VALUES ($1, $2, $3) RETURNING id`, collection, text, meta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert pending_vectors: %w", err)
	}
	return formatMetaIndex(int(id)), nil
}

func (s *PostgresPendingStore) ListPending(ctx context.Context, limit int) ([]PendingVector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, collection, text, metadata, attempts
		FROM pending_vectors ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending_vectors: %w", err)
	}
	defer rows.Close()

	var out []PendingVector
	for rows.Next() {
		var id int64
		var metadata []byte
		var pv PendingVector
		if err := rows.Scan(&id, &pv.Collection, &pv.Text, &metadata, &pv.Attempts); err != nil {
			return nil, fmt.Errorf("scan pending_vectors row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &pv.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal pending metadata: %w", err)
			}
		}
		pv.ID = formatMetaIndex(int(id))
		out = append(out, pv)
	}
	return out, rows.Err()
}

func (s *PostgresPendingStore) MarkEmbedded(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pending_vectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending_vectors: %w", err)
	}
	return nil
}

func (s *PostgresPendingStore) MarkFailed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE pending_vectors SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update pending_vectors attempts: %w", err)
	}
	return nil
}

// PostgresBacklogStore implements BacklogStore against a tenant's
// memory_backlog table.
type PostgresBacklogStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBacklogStore creates a PostgresBacklogStore over pool.
func NewPostgresBacklogStore(pool *pgxpool.Pool) *PostgresBacklogStore {
	return &PostgresBacklogStore{pool: pool}
}

func (s *PostgresBacklogStore) Enqueue(ctx context.Context, text string, metadata map[string]any) (string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal backlog metadata: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO memory_backlog (collection, text, metadata, reason)
		VALUES ('memory', $1, $2, 'embedding_unavailable') RETURNING id`, text, meta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert memory_backlog: %w", err)
	}
	return formatMetaIndex(int(id)), nil
}
