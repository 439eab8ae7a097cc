package tablestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the per-tenant table_registry
// table plus a single table_records table that holds the rows of every
// agent-named table, keyed by table_name. Agent
// columns are inferred and tracked in table_registry.inferred_schema for
// type-widening purposes, but are stored as a single JSONB fields column
// on the physical row rather than as literal ALTER TABLE-managed SQL
// columns — this keeps record inserts from ever requiring DDL on the hot
// write path, at the cost of the SQL Sandbox treating dynamic columns as
// JSON projections rather than first-class relational columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetRegistry(ctx context.Context, tableName string) (*Registry, error) {
	var r Registry
	var schema []byte
	err := s.pool.QueryRow(ctx, `
		SELECT table_name, description, inferred_schema, record_count, created_at, updated_at
		FROM table_registry WHERE table_name = $1`, tableName,
	).Scan(&r.TableName, &r.Description, &schema, &r.RecordCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select table_registry: %w", err)
	}
	if err := json.Unmarshal(schema, &r.InferredSchema); err != nil {
		return nil, fmt.Errorf("unmarshal inferred_schema: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRegistries(ctx context.Context) ([]*Registry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, description, inferred_schema, record_count, created_at, updated_at
		FROM table_registry ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list table_registry: %w", err)
	}
	defer rows.Close()

	var out []*Registry
	for rows.Next() {
		var r Registry
		var schema []byte
		if err := rows.Scan(&r.TableName, &r.Description, &schema, &r.RecordCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan table_registry: %w", err)
		}
		if err := json.Unmarshal(schema, &r.InferredSchema); err != nil {
			return nil, fmt.Errorf("unmarshal inferred_schema: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertRegistry(ctx context.Context, r *Registry) error {
	schema, err := json.Marshal(r.InferredSchema)
	if err != nil {
		return fmt.Errorf("marshal inferred_schema: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO table_registry (table_name, description, inferred_schema, record_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_name) DO UPDATE SET
			inferred_schema = EXCLUDED.inferred_schema,
			record_count = EXCLUDED.record_count,
			updated_at = EXCLUDED.updated_at`,
		r.TableName, r.Description, schema, r.RecordCount, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert table_registry: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, tableName string, rec *Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO table_records (id, table_name, fields, meta_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, tableName, fields, rec.MetaRef, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert table record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, tableName string, limit, offset int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, fields, meta_ref, created_at, updated_at, deleted_at
		FROM table_records WHERE table_name = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, tableName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list table records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var fields []byte
		if err := rows.Scan(&rec.ID, &fields, &rec.MetaRef, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan table record: %w", err)
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal record fields: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRecord(ctx context.Context, tableName, id string) (*Record, error) {
	var rec Record
	var fields []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, fields, meta_ref, created_at, updated_at
		FROM table_records WHERE table_name = $1 AND id = $2 AND deleted_at IS NULL`,
		tableName, id,
	).Scan(&rec.ID, &fields, &rec.MetaRef, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select table record: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal record fields: %w", err)
	}
	return &rec, nil
}

// UpdateRecordFields merges patch into the record's fields column via
// jsonb's "||" concatenation operator, so columns not named in patch are
// left untouched.
func (s *PostgresStore) UpdateRecordFields(ctx context.Context, tableName, id string, patch map[string]any) (*Record, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal record patch: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE table_records SET fields = fields || $3::jsonb, updated_at = now()
		WHERE table_name = $1 AND id = $2 AND deleted_at IS NULL`, tableName, id, raw)
	if err != nil {
		return nil, fmt.Errorf("update table record fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetRecord(ctx, tableName, id)
}

func (s *PostgresStore) SoftDeleteRecord(ctx context.Context, tableName, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE table_records SET deleted_at = now() WHERE table_name = $1 AND id = $2`, tableName, id)
	if err != nil {
		return fmt.Errorf("soft delete table record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRecordMetaRef(ctx context.Context, tableName, id, metaRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE table_records SET meta_ref = $3 WHERE table_name = $1 AND id = $2`, tableName, id, metaRef)
	if err != nil {
		return fmt.Errorf("set table record meta_ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
