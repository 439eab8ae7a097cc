package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a shared-namespace tenants registry
// plus one schema per tenant, using a single pgxpool.Pool shared across
// repositories with hand-written SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore. EnsureRegistry must be called
// once at startup before any tenant is created.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureRegistry creates the shared `tenants` table if it does not exist.
// This table lives in the default (public) namespace — it is the one piece
// of cross-tenant shared state the system carries, by design.
func (s *PostgresStore) EnsureRegistry(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id         uuid PRIMARY KEY,
			user_id    text UNIQUE NOT NULL,
			namespace  text UNIQUE NOT NULL,
			tier       text NOT NULL DEFAULT 'free',
			created_at timestamptz NOT NULL DEFAULT now()
		)`)
	return err
}

func (s *PostgresStore) InsertTenant(ctx context.Context, t *Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, user_id, namespace, tier, created_at) VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.UserID, t.Namespace, t.Tier, t.CreatedAt)
	return err
}

func (s *PostgresStore) GetTenantByUserID(ctx context.Context, userID string) (*Tenant, error) {
	t := &Tenant{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, namespace, tier, created_at FROM tenants WHERE user_id = $1`, userID,
	).Scan(&t.ID, &t.UserID, &t.Namespace, &t.Tier, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE user_id = $1`, userID)
	return err
}

// CreateNamespaceSchema provisions one Postgres schema per tenant with every
// table the memory store needs, plus the indexes its hot paths depend on.
// DDL statements cannot be parameterized, but namespace is never
// user-supplied directly — it is always DeriveNamespace's deterministic
// hex output, so there is no injection surface here.
func (s *PostgresStore) CreateNamespaceSchema(ctx context.Context, namespace string, embeddingDim int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.profile_versions (
			version      bigint PRIMARY KEY,
			data         jsonb NOT NULL,
			changed_by   text NOT NULL,
			changed_fields text[] NOT NULL DEFAULT '{}',
			changed_at   timestamptz NOT NULL DEFAULT now(),
			meta_ref     text
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.table_registry (
			table_name      text PRIMARY KEY,
			description     text NOT NULL DEFAULT '',
			inferred_schema jsonb NOT NULL DEFAULT '{}',
			record_count    bigint NOT NULL DEFAULT 0,
			created_at      timestamptz NOT NULL DEFAULT now(),
			updated_at      timestamptz NOT NULL DEFAULT now()
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.table_records (
			id          text PRIMARY KEY,
			table_name  text NOT NULL REFERENCES %q.table_registry(table_name),
			fields      jsonb NOT NULL DEFAULT '{}',
			meta_ref    text,
			created_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now(),
			deleted_at  timestamptz
		)`, namespace, namespace),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_table_records_table ON %q.table_records (table_name) WHERE deleted_at IS NULL`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.vector_collections (
			name          text PRIMARY KEY,
			description   text NOT NULL DEFAULT '',
			embedding_dim int NOT NULL,
			entry_count   bigint NOT NULL DEFAULT 0,
			created_at    timestamptz NOT NULL DEFAULT now()
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.vectors (
			id          text PRIMARY KEY,
			collection  text NOT NULL REFERENCES %q.vector_collections(name),
			text        text NOT NULL,
			embedding   vector(%d) NOT NULL,
			metadata    jsonb NOT NULL DEFAULT '{}',
			created_at  timestamptz NOT NULL DEFAULT now(),
			deleted_at  timestamptz,
			meta_ref    text
		)`, namespace, namespace, embeddingDim),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.pending_vectors (
			id          bigserial PRIMARY KEY,
			collection  text NOT NULL,
			text        text NOT NULL,
			metadata    jsonb NOT NULL DEFAULT '{}',
			attempts    int NOT NULL DEFAULT 0,
			created_at  timestamptz NOT NULL DEFAULT now(),
			meta_ref    text
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.memory_backlog (
			id          bigserial PRIMARY KEY,
			collection  text NOT NULL,
			text        text NOT NULL,
			metadata    jsonb NOT NULL DEFAULT '{}',
			reason      text NOT NULL,
			created_at  timestamptz NOT NULL DEFAULT now(),
			meta_ref    text
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.entities (
			id             text PRIMARY KEY,
			type           text NOT NULL,
			name           text NOT NULL,
			properties     jsonb NOT NULL DEFAULT '{}',
			confidence     real NOT NULL DEFAULT 0.5,
			mention_count  int NOT NULL DEFAULT 1,
			first_seen     timestamptz NOT NULL DEFAULT now(),
			last_seen      timestamptz NOT NULL DEFAULT now(),
			deleted_at     timestamptz,
			meta_ref       text
		)`, namespace),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS entities_type_lower_name_uq
			ON %q.entities (type, lower(name)) WHERE deleted_at IS NULL`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.edges (
			id          text PRIMARY KEY,
			source_id   text NOT NULL REFERENCES %q.entities(id),
			target_id   text NOT NULL REFERENCES %q.entities(id),
			relation    text NOT NULL,
			weight      real NOT NULL DEFAULT 1.0,
			confidence  real NOT NULL DEFAULT 0.5,
			evidence    jsonb NOT NULL DEFAULT '[]',
			properties  jsonb NOT NULL DEFAULT '{}',
			first_seen  timestamptz NOT NULL DEFAULT now(),
			last_seen   timestamptz NOT NULL DEFAULT now(),
			deleted_at  timestamptz
		)`, namespace, namespace, namespace),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS edges_source_target_relation_uq
			ON %q.edges (source_id, target_id, relation) WHERE deleted_at IS NULL`, namespace),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS edges_traversal_idx
			ON %q.edges (source_id, relation, target_id) WHERE deleted_at IS NULL`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.memory_meta (
			id               text PRIMARY KEY,
			source_type      text NOT NULL,
			source_ref       text NOT NULL UNIQUE,
			origin           text NOT NULL,
			agent_source     text NOT NULL DEFAULT '',
			confidence       real NOT NULL,
			status           text NOT NULL,
			access_count     bigint NOT NULL DEFAULT 0,
			last_accessed    timestamptz,
			last_reinforced  timestamptz,
			contradictions   jsonb NOT NULL DEFAULT '[]',
			promote_history  jsonb NOT NULL DEFAULT '[]',
			created_at       timestamptz NOT NULL DEFAULT now(),
			updated_at       timestamptz NOT NULL DEFAULT now()
		)`, namespace),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memory_meta_status_idx
			ON %q.memory_meta (status)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.agents (
			id            text PRIMARY KEY,
			name          text NOT NULL,
			key_hash      text UNIQUE NOT NULL,
			created_at    timestamptz NOT NULL DEFAULT now(),
			last_used_at  timestamptz,
			revoked_at    timestamptz
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.consent_rules (
			id          bigserial PRIMARY KEY,
			agent_id    text NOT NULL,
			resource    text NOT NULL,
			permission  text NOT NULL,
			granted_at  timestamptz NOT NULL DEFAULT now(),
			revoked_at  timestamptz
		)`, namespace),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS consent_rules_active_uq
			ON %q.consent_rules (agent_id, resource) WHERE revoked_at IS NULL`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.audit_log (
			idx        bigint PRIMARY KEY,
			agent_id   text NOT NULL,
			action     text NOT NULL,
			resource   text NOT NULL,
			data_hash  text NOT NULL DEFAULT '',
			prev_hash  text NOT NULL,
			hash       text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.knowledge_claims (
			id             bigserial PRIMARY KEY,
			claim_type     text NOT NULL,
			subject        text NOT NULL,
			predicate      text NOT NULL,
			object         text NOT NULL,
			confidence     real NOT NULL,
			method         text NOT NULL,
			origin         text NOT NULL,
			source_ref     text NOT NULL,
			agent_id       text NOT NULL DEFAULT '',
			valid_from     timestamptz NOT NULL DEFAULT now(),
			valid_to       timestamptz,
			memory_meta_id text
		)`, namespace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.knowledge_claim_events (
			id          bigserial PRIMARY KEY,
			claim_id    bigint NOT NULL REFERENCES %q.knowledge_claims(id),
			from_status text NOT NULL,
			to_status   text NOT NULL,
			reason      text NOT NULL DEFAULT '',
			at          timestamptz NOT NULL DEFAULT now()
		)`, namespace, namespace),
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec DDL: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// DropNamespaceSchema destroys a tenant's schema and everything in it.
// Irreversible. Only called from DropTenant (tenant teardown), never from
// the ordinary soft-delete write path — deletion elsewhere is soft.
func (s *PostgresStore) DropNamespaceSchema(ctx context.Context, namespace string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, namespace))
	return err
}
