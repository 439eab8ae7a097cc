// Package tenant provisions and scopes the per-user PostgreSQL namespace
// that isolates one tenant's memory store from every other tenant's.
//
// No query issued by the core ever reaches across namespaces. This package
// is the only place a namespace name is derived, so every other package
// depends on it for isolation rather than re-deriving the namespace
// itself. It binds no search_path; the commands under cmd/ set search_path
// on each tenant pool's connections to the tenant's Namespace.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Manager operations.
var (
	ErrTenantExists   = errors.New("TENANT_EXISTS")
	ErrTenantNotFound = errors.New("TENANT_NOT_FOUND")
	ErrDDLFailed      = errors.New("DDL_FAILED")
)

// Tier controls per-tenant resource limits (e.g. max tables, rate-limit class).
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Tenant is a row in the shared tenants registry.
type Tenant struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Namespace string    `json:"namespace"  db:"namespace"`
	Tier      Tier      `json:"tier"       db:"tier"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// namespacePrefix keeps namespace identifiers short and SQL-safe: Postgres
// schema names are limited to 63 bytes and must not start with a digit.
const namespacePrefix = "t_"

// namespaceHexLen is the number of hex characters kept from the SHA-256 of
// the user id — long enough to make collisions practically impossible
// while staying well under Postgres's identifier length limit.
const namespaceHexLen = 24

// DeriveNamespace computes the deterministic, collision-resistant schema
// name for a given user id. It never needs a database round trip, so a
// caller can compute it before the tenant exists.
func DeriveNamespace(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return namespacePrefix + hex.EncodeToString(sum[:])[:namespaceHexLen]
}

// Store is the persistence boundary Manager depends on. A Postgres-backed
// implementation lives in postgres.go; tests use an in-memory stub.
type Store interface {
	InsertTenant(ctx context.Context, t *Tenant) error
	GetTenantByUserID(ctx context.Context, userID string) (*Tenant, error)
	DeleteTenant(ctx context.Context, userID string) error
	CreateNamespaceSchema(ctx context.Context, namespace string, embeddingDim int) error
	DropNamespaceSchema(ctx context.Context, namespace string) error
}

// Manager provisions, scopes, and tears down per-tenant namespaces.
type Manager struct {
	store Store
}

// NewManager creates a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// CreateTenant provisions a new tenant namespace for userID, including
// every table the memory store needs, and registers it in the shared
// tenants registry. Returns ErrTenantExists if userID already has a
// namespace.
func (m *Manager) CreateTenant(ctx context.Context, userID string, embeddingDim int) (*Tenant, error) {
	if _, err := m.store.GetTenantByUserID(ctx, userID); err == nil {
		return nil, ErrTenantExists
	} else if !errors.Is(err, ErrTenantNotFound) {
		return nil, err
	}

	namespace := DeriveNamespace(userID)
	if err := m.store.CreateNamespaceSchema(ctx, namespace, embeddingDim); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDDLFailed, err)
	}

	t := &Tenant{
		ID:        uuid.New(),
		UserID:    userID,
		Namespace: namespace,
		Tier:      TierFree,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.InsertTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("register tenant: %w", err)
	}
	return t, nil
}

// DropTenant removes userID's namespace and registry row. Destructive and
// irreversible; callers should only invoke it on an explicit teardown
// request, never as part of ordinary write handling.
func (m *Manager) DropTenant(ctx context.Context, userID string) error {
	t, err := m.store.GetTenantByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if err := m.store.DropNamespaceSchema(ctx, t.Namespace); err != nil {
		return fmt.Errorf("%w: %v", ErrDDLFailed, err)
	}
	return m.store.DeleteTenant(ctx, userID)
}

// Lookup returns the tenant registry row for userID, or ErrTenantNotFound.
func (m *Manager) Lookup(ctx context.Context, userID string) (*Tenant, error) {
	return m.store.GetTenantByUserID(ctx, userID)
}

// WithTenant resolves userID's namespace and invokes fn with a *Scope
// carrying that namespace and the tenant id. It opens no connection and
// sets no search_path.
func (m *Manager) WithTenant(ctx context.Context, userID string, fn func(ctx context.Context, scope *Scope) error) error {
	t, err := m.Lookup(ctx, userID)
	if err != nil {
		return err
	}
	scope := &Scope{Namespace: t.Namespace, TenantID: t.ID}
	return fn(ctx, scope)
}

// Scope carries the resolved namespace for the lifetime of one request or
// background job. Repositories in this module do not take a Scope; they
// run on a pool whose connections already have search_path set to the
// tenant's namespace.
type Scope struct {
	Namespace string
	TenantID  uuid.UUID
}
