package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a tenant's profile_versions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Latest(ctx context.Context) (*Version, error) {
	var v Version
	var data, fields []byte
	err := s.pool.QueryRow(ctx, `
		SELECT version, data, changed_by, changed_fields, changed_at, meta_ref
		FROM profile_versions ORDER BY version DESC LIMIT 1`,
	).Scan(&v.Version, &data, &v.ChangedBy, &fields, &v.ChangedAt, &v.MetaRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest profile version: %w", err)
	}
	if err := json.Unmarshal(data, &v.Data); err != nil {
		return nil, fmt.Errorf("unmarshal profile data: %w", err)
	}
	if err := json.Unmarshal(fields, &v.ChangedFields); err != nil {
		return nil, fmt.Errorf("unmarshal changed_fields: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) Insert(ctx context.Context, v *Version) error {
	data, err := json.Marshal(v.Data)
	if err != nil {
		return fmt.Errorf("marshal profile data: %w", err)
	}
	fields, err := json.Marshal(v.ChangedFields)
	if err != nil {
		return fmt.Errorf("marshal changed_fields: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO profile_versions (version, data, changed_by, changed_fields, changed_at, meta_ref)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.Version, data, v.ChangedBy, fields, v.ChangedAt, v.MetaRef)
	if err != nil {
		return fmt.Errorf("insert profile version: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, limit, offset int) ([]*Version, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT version, data, changed_by, changed_fields, changed_at, meta_ref
		FROM profile_versions ORDER BY version DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select profile history: %w", err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		var v Version
		var data, fields []byte
		if err := rows.Scan(&v.Version, &data, &v.ChangedBy, &fields, &v.ChangedAt, &v.MetaRef); err != nil {
			return nil, fmt.Errorf("scan profile version: %w", err)
		}
		if err := json.Unmarshal(data, &v.Data); err != nil {
			return nil, fmt.Errorf("unmarshal profile data: %w", err)
		}
		if err := json.Unmarshal(fields, &v.ChangedFields); err != nil {
			return nil, fmt.Errorf("unmarshal changed_fields: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetMetaRef(ctx context.Context, version int, metaRef string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE profile_versions SET meta_ref = $2 WHERE version = $1`, version, metaRef)
	if err != nil {
		return fmt.Errorf("set profile version meta_ref: %w", err)
	}
	return nil
}
