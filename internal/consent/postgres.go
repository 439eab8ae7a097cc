package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the per-tenant consent_rules table.
// Every call is expected to run with the tenant's namespace already bound
// to search_path (see internal/tenant.Scope) — this package never qualifies
// the table name itself, keeping it namespace-agnostic and re-usable across
// tenants from the same pool connection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertRule(ctx context.Context, agentID, resource string, perm Permission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consent_rules (agent_id, resource, permission, granted_at, revoked_at)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (agent_id, resource) WHERE revoked_at IS NULL
		DO UPDATE SET permission = EXCLUDED.permission, granted_at = EXCLUDED.granted_at`,
		agentID, resource, perm, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert consent rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRule(ctx context.Context, agentID, resource string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE consent_rules SET revoked_at = $3
		WHERE agent_id = $1 AND resource = $2 AND revoked_at IS NULL`,
		agentID, resource, time.Now().UTC())
	return err
}

func (s *PostgresStore) RevokeAllForAgent(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE consent_rules SET revoked_at = $2
		WHERE agent_id = $1 AND revoked_at IS NULL`,
		agentID, time.Now().UTC())
	return err
}

func (s *PostgresStore) ListActiveForAgent(ctx context.Context, agentID string) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, resource, permission, granted_at, revoked_at
		FROM consent_rules WHERE agent_id = $1 AND revoked_at IS NULL`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list consent rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Resource, &r.Permission, &r.GrantedAt, &r.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan consent rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
