package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a tenant's memory_meta table. As
// with the other per-tenant stores in this module, callers must run every
// query with the tenant's namespace already bound to search_path.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, m *Meta) error {
	contradictions, err := json.Marshal(m.Contradictions)
	if err != nil {
		return fmt.Errorf("marshal contradictions: %w", err)
	}
	promoteHistory, err := json.Marshal(m.PromoteHistory)
	if err != nil {
		return fmt.Errorf("marshal promote_history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_meta
			(id, source_type, source_ref, origin, agent_source, confidence, status,
			 access_count, last_accessed, last_reinforced, contradictions, promote_history,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.SourceType, m.SourceRef, m.Origin, m.AgentSource, m.Confidence, m.Status,
		m.AccessCount, m.LastAccessed, m.LastReinforced, contradictions, promoteHistory,
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory_meta: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, metaID string) (*Meta, error) {
	return s.scanOne(ctx, `
		SELECT id, source_type, source_ref, origin, agent_source, confidence, status,
		       access_count, last_accessed, last_reinforced, contradictions, promote_history,
		       created_at, updated_at
		FROM memory_meta WHERE id = $1`, metaID)
}

func (s *PostgresStore) GetBySourceRef(ctx context.Context, sourceType SourceType, sourceRef string) (*Meta, error) {
	return s.scanOne(ctx, `
		SELECT id, source_type, source_ref, origin, agent_source, confidence, status,
		       access_count, last_accessed, last_reinforced, contradictions, promote_history,
		       created_at, updated_at
		FROM memory_meta WHERE source_type = $1 AND source_ref = $2`, sourceType, sourceRef)
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*Meta, error) {
	var m Meta
	var contradictions, promoteHistory []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&m.ID, &m.SourceType, &m.SourceRef, &m.Origin, &m.AgentSource, &m.Confidence, &m.Status,
		&m.AccessCount, &m.LastAccessed, &m.LastReinforced, &contradictions, &promoteHistory,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory_meta: %w", err)
	}
	if err := json.Unmarshal(contradictions, &m.Contradictions); err != nil {
		return nil, fmt.Errorf("unmarshal contradictions: %w", err)
	}
	if err := json.Unmarshal(promoteHistory, &m.PromoteHistory); err != nil {
		return nil, fmt.Errorf("unmarshal promote_history: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) Update(ctx context.Context, m *Meta) error {
	contradictions, err := json.Marshal(m.Contradictions)
	if err != nil {
		return fmt.Errorf("marshal contradictions: %w", err)
	}
	promoteHistory, err := json.Marshal(m.PromoteHistory)
	if err != nil {
		return fmt.Errorf("marshal promote_history: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE memory_meta SET
			confidence = $2, status = $3, access_count = $4, last_accessed = $5,
			last_reinforced = $6, contradictions = $7, promote_history = $8, updated_at = $9
		WHERE id = $1`,
		m.ID, m.Confidence, m.Status, m.AccessCount, m.LastAccessed,
		m.LastReinforced, contradictions, promoteHistory, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update memory_meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Meta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_type, source_ref, origin, agent_source, confidence, status,
		       access_count, last_accessed, last_reinforced, contradictions, promote_history,
		       created_at, updated_at
		FROM memory_meta WHERE status = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memory_meta by status: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *PostgresStore) ListStale(ctx context.Context, olderThan time.Time, status Status) ([]*Meta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_type, source_ref, origin, agent_source, confidence, status,
		       access_count, last_accessed, last_reinforced, contradictions, promote_history,
		       created_at, updated_at
		FROM memory_meta
		WHERE status = $2
		  AND COALESCE(last_reinforced, last_accessed, created_at) < $1`, olderThan, status)
	if err != nil {
		return nil, fmt.Errorf("list stale memory_meta: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows pgx.Rows) ([]*Meta, error) {
	var out []*Meta
	for rows.Next() {
		var m Meta
		var contradictions, promoteHistory []byte
		if err := rows.Scan(
			&m.ID, &m.SourceType, &m.SourceRef, &m.Origin, &m.AgentSource, &m.Confidence, &m.Status,
			&m.AccessCount, &m.LastAccessed, &m.LastReinforced, &contradictions, &promoteHistory,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory_meta row: %w", err)
		}
		if err := json.Unmarshal(contradictions, &m.Contradictions); err != nil {
			return nil, fmt.Errorf("unmarshal contradictions: %w", err)
		}
		if err := json.Unmarshal(promoteHistory, &m.PromoteHistory); err != nil {
			return nil, fmt.Errorf("unmarshal promote_history: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
