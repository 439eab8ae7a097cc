package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKeyBase serialises concurrent Append calls against the same
// tenant's audit_log table. Every tenant shares this constant because the
// lock is scoped to the connection's transaction plus whatever additional
// key the caller mixes in; here the namespace hash itself is folded into
// the key so tenants do not contend with each other's appends.
const advisoryLockKeyBase = int64(7_418_529_100)

// PostgresLog persists the audit chain to a tenant's audit_log table. The
// caller is responsible for running every query against a connection whose
// search_path is already bound to that tenant's namespace schema (see
// internal/tenant.Scope) — this type never schema-qualifies the table name.
type PostgresLog struct {
	pool    *pgxpool.Pool
	lockKey int64
	logger  *zap.Logger
}

// NewPostgresLog creates a PostgresLog over pool. lockSalt should be a
// stable per-tenant value (e.g. derived from the tenant's namespace) so
// concurrent appends for different tenants do not serialise against the
// same advisory lock.
func NewPostgresLog(pool *pgxpool.Pool, lockSalt int64, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, lockKey: advisoryLockKeyBase ^ lockSalt, logger: logger}
}

func (l *PostgresLog) Append(ctx context.Context, agentID, action, resource string, details any) (*Entry, error) {
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}
	dataHash := sha256Sum(payload)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", l.lockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	err = tx.QueryRow(ctx, "SELECT idx, hash FROM audit_log ORDER BY idx DESC LIMIT 1").Scan(&prevIdx, &prevHash)
	if err != nil {
		// No rows yet: seed the genesis entry within the same transaction.
		prevIdx, prevHash = -1, GenesisHash
		if _, genErr := tx.Exec(ctx,
			`INSERT INTO audit_log (idx, created_at, agent_id, action, resource, data_hash, prev_hash, hash)
			 VALUES (0, $1, '', 'genesis', '', $2, $2, $2)`,
			time.Now().UTC(), GenesisHash,
		); genErr != nil {
			return nil, fmt.Errorf("seed genesis entry: %w", genErr)
		}
		prevIdx = 0
	}

	now := time.Now().UTC()
	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: now,
		AgentID:   agentID,
		Action:    action,
		Resource:  resource,
		DataHash:  dataHash,
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (idx, created_at, agent_id, action, resource, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.AgentID, entry.Action,
		entry.Resource, entry.DataHash, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit tx: %w", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int("idx", entry.Index),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.String("agent_id", entry.AgentID),
	)
	return entry, nil
}

func (l *PostgresLog) Get(ctx context.Context, index int) (*Entry, error) {
	entry := &Entry{}
	err := l.pool.QueryRow(ctx,
		`SELECT idx, created_at, agent_id, action, resource, data_hash, prev_hash, hash
		 FROM audit_log WHERE idx = $1`, index,
	).Scan(&entry.Index, &entry.Timestamp, &entry.AgentID, &entry.Action,
		&entry.Resource, &entry.DataHash, &entry.PrevHash, &entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	return entry, nil
}

func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT idx, created_at, agent_id, action, resource, data_hash, prev_hash, hash
		 FROM audit_log ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr := &Entry{}
		if err := rows.Scan(&curr.Index, &curr.Timestamp, &curr.AgentID, &curr.Action,
			&curr.Resource, &curr.DataHash, &curr.PrevHash, &curr.Hash); err != nil {
			return fmt.Errorf("scan audit row: %w", err)
		}
		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT idx, created_at, agent_id, action, resource, data_hash, prev_hash, hash
		 FROM audit_log ORDER BY idx DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.Index, &e.Timestamp, &e.AgentID, &e.Action,
			&e.Resource, &e.DataHash, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan recent audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
