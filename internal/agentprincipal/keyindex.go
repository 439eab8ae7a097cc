package agentprincipal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrKeyNotFound is returned when a bearer key's hash has no entry in the
// shared key index.
var ErrKeyNotFound = errors.New("AGENT_KEY_NOT_FOUND")

// KeyLocation names which tenant namespace and agent id own a given key
// hash. A bearer API key alone does not carry its owning tenant, and an
// agent's row otherwise lives inside that tenant's isolated schema — this
// index is the one piece of cross-tenant shared state the system needs in
// order to find a key before it knows which namespace to search.
type KeyLocation struct {
	UserID  string
	AgentID string
}

// KeyIndex maps an agent API key's hash to the tenant and agent id that
// own it. Implementations must be kept in sync with Registry.Register,
// Revoke, and Delete in the owning tenant's namespace.
type KeyIndex interface {
	Put(ctx context.Context, keyHash, userID, agentID string) error
	Lookup(ctx context.Context, keyHash string) (KeyLocation, error)
	Delete(ctx context.Context, keyHash string) error
}

// MemoryKeyIndex is an in-process KeyIndex for tests and single-process
// deployments that do not need the index to survive a restart.
type MemoryKeyIndex struct {
	mu  sync.Mutex
	byHash map[string]KeyLocation
}

func NewMemoryKeyIndex() *MemoryKeyIndex {
	return &MemoryKeyIndex{byHash: make(map[string]KeyLocation)}
}

func (idx *MemoryKeyIndex) Put(_ context.Context, keyHash, userID, agentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byHash[keyHash] = KeyLocation{UserID: userID, AgentID: agentID}
	return nil
}

func (idx *MemoryKeyIndex) Lookup(_ context.Context, keyHash string) (KeyLocation, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	loc, ok := idx.byHash[keyHash]
	if !ok {
		return KeyLocation{}, ErrKeyNotFound
	}
	return loc, nil
}

func (idx *MemoryKeyIndex) Delete(_ context.Context, keyHash string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.byHash, keyHash)
	return nil
}

// PostgresKeyIndex implements KeyIndex against a shared (public-schema)
// agent_key_index table, the same shared-registry convention
// tenant.PostgresStore's `tenants` table and account.PostgresStore's
// `accounts` table follow.
type PostgresKeyIndex struct {
	pool *pgxpool.Pool
}

func NewPostgresKeyIndex(pool *pgxpool.Pool) *PostgresKeyIndex {
	return &PostgresKeyIndex{pool: pool}
}

// EnsureRegistry creates the agent_key_index table if absent.
func (idx *PostgresKeyIndex) EnsureRegistry(ctx context.Context) error {
	_, err := idx.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agent_key_index (
			key_hash text PRIMARY KEY,
			user_id  text NOT NULL,
			agent_id text NOT NULL
		)`)
	return err
}

func (idx *PostgresKeyIndex) Put(ctx context.Context, keyHash, userID, agentID string) error {
	_, err := idx.pool.Exec(ctx,
		`INSERT INTO agent_key_index (key_hash, user_id, agent_id) VALUES ($1,$2,$3)
		 ON CONFLICT (key_hash) DO UPDATE SET user_id = EXCLUDED.user_id, agent_id = EXCLUDED.agent_id`,
		keyHash, userID, agentID)
	return err
}

func (idx *PostgresKeyIndex) Lookup(ctx context.Context, keyHash string) (KeyLocation, error) {
	var loc KeyLocation
	err := idx.pool.QueryRow(ctx,
		`SELECT user_id, agent_id FROM agent_key_index WHERE key_hash = $1`, keyHash,
	).Scan(&loc.UserID, &loc.AgentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return KeyLocation{}, ErrKeyNotFound
	}
	if err != nil {
		return KeyLocation{}, fmt.Errorf("lookup agent key index: %w", err)
	}
	return loc, nil
}

func (idx *PostgresKeyIndex) Delete(ctx context.Context, keyHash string) error {
	_, err := idx.pool.Exec(ctx, `DELETE FROM agent_key_index WHERE key_hash = $1`, keyHash)
	return err
}
