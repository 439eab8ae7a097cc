package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a tenant's entities/edges tables.
// As with the other per-tenant stores, callers must run every query with
// the tenant's namespace already bound to search_path.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, e *Entity) (*Entity, bool, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return nil, false, fmt.Errorf("marshal entity properties: %w", err)
	}

	existing, err := s.findByTypeAndName(ctx, e.Type, e.Name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (id, type, name, properties, confidence, mention_count, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Type, e.Name, props, e.Confidence, e.MentionCount, e.FirstSeen, e.LastSeen)
	if err != nil {
		return nil, false, fmt.Errorf("insert entity: %w", err)
	}
	out := *e
	return &out, true, nil
}

func (s *PostgresStore) findByTypeAndName(ctx context.Context, entityType, name string) (*Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, type, name, properties, confidence, mention_count, first_seen, last_seen, deleted_at
		FROM entities WHERE type = $1 AND lower(name) = lower($2) AND deleted_at IS NULL`,
		entityType, name)
	return scanEntity(row)
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, type, name, properties, confidence, mention_count, first_seen, last_seen, deleted_at
		FROM entities WHERE id = $1`, id)
	return scanEntity(row)
}

func scanEntity(row pgx.Row) (*Entity, error) {
	var e Entity
	var props []byte
	err := row.Scan(&e.ID, &e.Type, &e.Name, &props, &e.Confidence, &e.MentionCount, &e.FirstSeen, &e.LastSeen, &e.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal entity properties: %w", err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, e *Entity) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("marshal entity properties: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE entities SET properties = $2, confidence = $3, mention_count = $4, last_seen = $5
		WHERE id = $1`, e.ID, props, e.Confidence, e.MentionCount, e.LastSeen)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDeleteEntity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE entities SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, entityType string, minConfidence float64, limit, offset int) ([]*Entity, error) {
	query := `SELECT id, type, name, properties, confidence, mention_count, first_seen, last_seen, deleted_at
		FROM entities WHERE deleted_at IS NULL AND confidence >= $1`
	args := []any{minConfidence}
	if entityType != "" {
		query += fmt.Sprintf(" AND type = $%d", len(args)+1)
		args = append(args, entityType)
	}
	query += " ORDER BY confidence DESC, name ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *PostgresStore) FindEntityByName(ctx context.Context, entityType, name string) ([]*Entity, error) {
	query := `SELECT id, type, name, properties, confidence, mention_count, first_seen, last_seen, deleted_at
		FROM entities WHERE deleted_at IS NULL AND lower(name) = lower($1)`
	args := []any{name}
	if entityType != "" {
		query += " AND type = $2"
		args = append(args, entityType)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find entity by name: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntities(rows pgx.Rows) ([]*Entity, error) {
	var out []*Entity
	for rows.Next() {
		var e Entity
		var props []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.Name, &props, &e.Confidence, &e.MentionCount, &e.FirstSeen, &e.LastSeen, &e.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, fmt.Errorf("unmarshal entity properties: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertEdge(ctx context.Context, e *Edge) (*Edge, bool, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return nil, false, fmt.Errorf("marshal edge properties: %w", err)
	}
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return nil, false, fmt.Errorf("marshal edge evidence: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, source_id, target_id, relation, weight, confidence, evidence, properties, first_seen, last_seen, deleted_at
		FROM edges WHERE source_id = $1 AND target_id = $2 AND relation = $3 AND deleted_at IS NULL`,
		e.SourceID, e.TargetID, e.Relation)
	if existing, scanErr := scanEdge(row); scanErr == nil {
		return existing, false, nil
	} else if !errors.Is(scanErr, ErrNotFound) {
		return nil, false, scanErr
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO edges (id, source_id, target_id, relation, weight, confidence, evidence, properties, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.SourceID, e.TargetID, e.Relation, e.Weight, e.Confidence, evidence, props, e.FirstSeen, e.LastSeen)
	if err != nil {
		return nil, false, fmt.Errorf("insert edge: %w", err)
	}
	out := *e
	return &out, true, nil
}

func (s *PostgresStore) GetEdge(ctx context.Context, id string) (*Edge, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_id, target_id, relation, weight, confidence, evidence, properties, first_seen, last_seen, deleted_at
		FROM edges WHERE id = $1`, id)
	return scanEdge(row)
}

func scanEdge(row pgx.Row) (*Edge, error) {
	var e Edge
	var props, evidence []byte
	err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &e.Confidence,
		&evidence, &props, &e.FirstSeen, &e.LastSeen, &e.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan edge: %w", err)
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal edge properties: %w", err)
		}
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal edge evidence: %w", err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) UpdateEdge(ctx context.Context, e *Edge) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("marshal edge properties: %w", err)
	}
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return fmt.Errorf("marshal edge evidence: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE edges SET weight = $2, confidence = $3, evidence = $4, properties = $5, last_seen = $6
		WHERE id = $1`, e.ID, e.Weight, e.Confidence, evidence, props, e.LastSeen)
	if err != nil {
		return fmt.Errorf("update edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDeleteEdge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE edges SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListEdges(ctx context.Context, entityID string, dir Direction, relation string, minConfidence float64) ([]*Edge, error) {
	var directionClause string
	switch dir {
	case DirectionOut:
		directionClause = "source_id = $1"
	case DirectionIn:
		directionClause = "target_id = $1"
	default:
		directionClause = "(source_id = $1 OR target_id = $1)"
	}

	query := strings.Builder{}
	fmt.Fprintf(&query, `
		SELECT id, source_id, target_id, relation, weight, confidence, evidence, properties, first_seen, last_seen, deleted_at
		FROM edges WHERE deleted_at IS NULL AND %s AND confidence >= $2`, directionClause)
	args := []any{entityID, minConfidence}
	if relation != "" {
		query.WriteString(" AND relation = $3")
		args = append(args, relation)
	}

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e, err := scanEdgeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEdgeRow(rows pgx.Rows) (*Edge, error) {
	var e Edge
	var props, evidence []byte
	if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &e.Confidence,
		&evidence, &props, &e.FirstSeen, &e.LastSeen, &e.DeletedAt); err != nil {
		return nil, fmt.Errorf("scan edge row: %w", err)
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal edge properties: %w", err)
		}
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal edge evidence: %w", err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) AllEntities(ctx context.Context) ([]*Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, name, properties, confidence, mention_count, first_seen, last_seen, deleted_at
		FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("list all entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *PostgresStore) AllEdges(ctx context.Context) ([]*Edge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, target_id, relation, weight, confidence, evidence, properties, first_seen, last_seen, deleted_at
		FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("list all edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e, err := scanEdgeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
