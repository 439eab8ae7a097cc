package agentprincipal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the per-tenant agents table. Every
// call is expected to run with the tenant's namespace already bound to
// search_path, following the same convention as consent.PostgresStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertAgent(ctx context.Context, a *Agent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, key_hash, created_at) VALUES ($1,$2,$3,$4)`,
		a.ID, a.Name, a.KeyHash, a.CreatedAt)
	return err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a := &Agent{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, key_hash, created_at, last_used_at, revoked_at FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.KeyHash, &a.CreatedAt, &a.LastUsedAt, &a.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAgentByKeyHash(ctx context.Context, keyHash string) (*Agent, error) {
	a := &Agent{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, key_hash, created_at, last_used_at, revoked_at FROM agents WHERE key_hash = $1`, keyHash,
	).Scan(&a.ID, &a.Name, &a.KeyHash, &a.CreatedAt, &a.LastUsedAt, &a.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by key hash: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, created_at, last_used_at, revoked_at FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		if err := rows.Scan(&a.ID, &a.Name, &a.KeyHash, &a.CreatedAt, &a.LastUsedAt, &a.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) RevokeAgent(ctx context.Context, id string, revokedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET revoked_at = $2 WHERE id = $1`, id, revokedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE agents SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}
