// Package tablestore implements dynamic, agent-named tables. Agents create
// tables implicitly by naming them in a write; column types are inferred
// from the first observed value per column and only ever extended, never
// narrowed.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidTableName rejects any table name that is not identifier-safe.
var ErrInvalidTableName = errors.New("TABLE_INVALID_NAME")

// ErrNotFound is returned when a record or table is not found.
var ErrNotFound = errors.New("TABLE_NOT_FOUND")

var tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ColumnType is an inferred column type tag.
type ColumnType string

const (
	ColumnText    ColumnType = "text"
	ColumnInteger ColumnType = "integer"
	ColumnReal    ColumnType = "real"
	ColumnBoolean ColumnType = "boolean"
	ColumnDate    ColumnType = "date"
)

// widens returns the wider of a and b, per spec's "extended, never
// narrowed" rule: text accepts anything, numeric widens integer->real,
// a type mismatch against a non-text column always widens to text.
func widens(existing, observed ColumnType) ColumnType {
	if existing == observed {
		return existing
	}
	if existing == ColumnText || observed == ColumnText {
		return ColumnText
	}
	if (existing == ColumnInteger && observed == ColumnReal) || (existing == ColumnReal && observed == ColumnInteger) {
		return ColumnReal
	}
	return ColumnText
}

// inferType inspects a Go value as decoded from JSON and returns its
// column type tag.
func inferType(v any) ColumnType {
	switch val := v.(type) {
	case bool:
		return ColumnBoolean
	case float64:
		if val == float64(int64(val)) {
			return ColumnInteger
		}
		return ColumnReal
	case string:
		if _, err := time.Parse(time.RFC3339, val); err == nil {
			return ColumnDate
		}
		return ColumnText
	default:
		return ColumnText
	}
}

// Registry describes one agent-created table.
type Registry struct {
	TableName      string
	Description    string
	InferredSchema map[string]ColumnType
	RecordCount    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Record is one physical row, with dynamic columns carried in Fields.
type Record struct {
	ID        string
	Fields    map[string]any
	MetaRef   string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Store persists table registries and their records for one tenant namespace.
type Store interface {
	GetRegistry(ctx context.Context, tableName string) (*Registry, error) // ErrNotFound if absent
	ListRegistries(ctx context.Context) ([]*Registry, error)
	UpsertRegistry(ctx context.Context, r *Registry) error
	InsertRecord(ctx context.Context, tableName string, rec *Record) error
	ListRecords(ctx context.Context, tableName string, limit, offset int) ([]*Record, error)
	GetRecord(ctx context.Context, tableName, id string) (*Record, error) // ErrNotFound if absent or soft-deleted
	UpdateRecordFields(ctx context.Context, tableName, id string, fields map[string]any) (*Record, error)
	SoftDeleteRecord(ctx context.Context, tableName, id string) error
	SetRecordMetaRef(ctx context.Context, tableName, id, metaRef string) error
}

// TableStore implements the §4's table-registry operations.
type TableStore struct {
	store Store
	newID func() string
	now   func() time.Time
}

// New creates a TableStore.
func New(store Store, idFunc func() string, nowFunc func() time.Time) *TableStore {
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC() }
	}
	return &TableStore{store: store, newID: idFunc, now: nowFunc}
}

// ValidateName reports whether name is identifier-safe for a table.
func ValidateName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

// Insert auto-creates the table and registry entry if absent, infers or
// extends the column schema, and inserts the record.
func (t *TableStore) Insert(ctx context.Context, tableName string, fields map[string]any, metaRef string) (*Record, error) {
	if err := ValidateName(tableName); err != nil {
		return nil, err
	}

	now := t.now()
	registry, err := t.store.GetRegistry(ctx, tableName)
	if errors.Is(err, ErrNotFound) {
		registry = &Registry{
			TableName:      tableName,
			InferredSchema: map[string]ColumnType{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	} else if err != nil {
		return nil, err
	}

	for col, val := range fields {
		observed := inferType(val)
		if existing, ok := registry.InferredSchema[col]; ok {
			registry.InferredSchema[col] = widens(existing, observed)
		} else {
			registry.InferredSchema[col] = observed
		}
	}
	registry.RecordCount++
	registry.UpdatedAt = now
	if err := t.store.UpsertRegistry(ctx, registry); err != nil {
		return nil, err
	}

	rec := &Record{
		ID: t.newID(), Fields: fields, MetaRef: metaRef,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := t.store.InsertRecord(ctx, tableName, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *TableStore) GetRegistry(ctx context.Context, tableName string) (*Registry, error) {
	return t.store.GetRegistry(ctx, tableName)
}

// ListRegistries returns every table this tenant has created.
func (t *TableStore) ListRegistries(ctx context.Context) ([]*Registry, error) {
	return t.store.ListRegistries(ctx)
}

func (t *TableStore) ListRecords(ctx context.Context, tableName string, limit, offset int) ([]*Record, error) {
	return t.store.ListRecords(ctx, tableName, limit, offset)
}

func (t *TableStore) DeleteRecord(ctx context.Context, tableName, id string) error {
	return t.store.SoftDeleteRecord(ctx, tableName, id)
}

// UpdateRecord merges patch into an existing record's fields, widening the
// table's inferred schema the same way Insert does, and returns the
// updated record.
func (t *TableStore) UpdateRecord(ctx context.Context, tableName, id string, patch map[string]any) (*Record, error) {
	registry, err := t.store.GetRegistry(ctx, tableName)
	if err != nil {
		return nil, err
	}

	for col, val := range patch {
		observed := inferType(val)
		if existing, ok := registry.InferredSchema[col]; ok {
			registry.InferredSchema[col] = widens(existing, observed)
		} else {
			registry.InferredSchema[col] = observed
		}
	}
	registry.UpdatedAt = t.now()
	if err := t.store.UpsertRegistry(ctx, registry); err != nil {
		return nil, err
	}

	return t.store.UpdateRecordFields(ctx, tableName, id, patch)
}

// SetRecordMetaRef backfills the ledger meta_id onto a record already
// inserted, since the record's own id isn't known until after Insert
// returns.
func (t *TableStore) SetRecordMetaRef(ctx context.Context, tableName, id, metaRef string) error {
	return t.store.SetRecordMetaRef(ctx, tableName, id, metaRef)
}
