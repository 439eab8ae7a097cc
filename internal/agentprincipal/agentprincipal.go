// Package agentprincipal registers and authenticates the non-user
// principals — bots, ChatGPT, Claude, custom agents — that read and write
// a tenant's memory store under an agentId. Every consent rule, ledger
// row, and audit entry elsewhere in the system is keyed on the same
// agentId this package issues, but authentication itself (resolving a
// bearer key back to an agentId) lives here.
package agentprincipal

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an agent id or key hash is unknown.
	ErrNotFound = errors.New("AGENT_NOT_FOUND")
	// ErrRevoked is returned by Authenticate for a key that has been revoked.
	ErrRevoked = errors.New("AGENT_KEY_REVOKED")
)

// Agent is one registered non-user principal within a tenant namespace.
type Agent struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

func (a Agent) active() bool { return a.RevokedAt == nil }

// Store persists agent principals for one tenant namespace.
type Store interface {
	InsertAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByKeyHash(ctx context.Context, keyHash string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	RevokeAgent(ctx context.Context, id string, revokedAt time.Time) error
	DeleteAgent(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Registry creates, authenticates, and revokes agent principals for one
// tenant (identified by userID).
type Registry struct {
	store  Store
	index  KeyIndex // optional: nil skips cross-tenant index maintenance
	userID string
	newID  func() string
	now    func() time.Time
}

// New creates a Registry scoped to one tenant's namespace with no KeyIndex
// attached (see WithKeyIndex), which suits deployments that authenticate
// agents purely within a single known tenant and never need to resolve a
// bearer key to its owning tenant first (e.g. most tests).
func New(store Store, idFunc func() string, nowFunc func() time.Time) *Registry {
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{store: store, newID: idFunc, now: nowFunc}
}

// WithKeyIndex attaches a cross-tenant KeyIndex and owning userID so
// Register/Revoke/Delete keep it in sync, enabling a transport layer to
// resolve a bare bearer key to its tenant before it knows which
// namespace's Registry to authenticate against.
func (r *Registry) WithKeyIndex(index KeyIndex, userID string) *Registry {
	r.index = index
	r.userID = userID
	return r
}

// Register creates a new agent principal and returns it along with the raw
// API key. Only the key's SHA-256 hash is ever persisted — the raw value
// is shown to the caller exactly once, the same discipline account.Manager
// applies to session tokens.
func (r *Registry) Register(ctx context.Context, name string) (*Agent, string, error) {
	rawKey, err := generateKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate agent key: %w", err)
	}
	a := &Agent{
		ID:        r.newID(),
		Name:      name,
		KeyHash:   HashKey(rawKey),
		CreatedAt: r.now(),
	}
	if err := r.store.InsertAgent(ctx, a); err != nil {
		return nil, "", fmt.Errorf("insert agent: %w", err)
	}
	if r.index != nil {
		if err := r.index.Put(ctx, a.KeyHash, r.userID, a.ID); err != nil {
			return nil, "", fmt.Errorf("index agent key: %w", err)
		}
	}
	return a, rawKey, nil
}

// Authenticate resolves a raw bearer API key to its Agent, recording the
// call as the agent's last-used timestamp. A revoked key fails with
// ErrRevoked; no Agent is returned for it.
func (r *Registry) Authenticate(ctx context.Context, rawKey string) (*Agent, error) {
	a, err := r.store.GetAgentByKeyHash(ctx, HashKey(rawKey))
	if err != nil {
		return nil, err
	}
	if !a.active() {
		return nil, ErrRevoked
	}
	now := r.now()
	if err := r.store.TouchLastUsed(ctx, a.ID, now); err != nil {
		return nil, fmt.Errorf("touch last used: %w", err)
	}
	a.LastUsedAt = &now
	return a, nil
}

// Get retrieves an agent by id, for GET /v1/agents/:id.
func (r *Registry) Get(ctx context.Context, id string) (*Agent, error) {
	return r.store.GetAgent(ctx, id)
}

// List returns every registered agent for the current tenant.
func (r *Registry) List(ctx context.Context) ([]*Agent, error) {
	return r.store.ListAgents(ctx)
}

// Revoke marks an agent's key as no longer usable without deleting its
// history — consent rules, ledger rows, and audit entries referencing the
// agentId remain intact after revocation.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	if err := r.store.RevokeAgent(ctx, id, r.now()); err != nil {
		return err
	}
	if r.index != nil {
		a, err := r.store.GetAgent(ctx, id)
		if err != nil {
			return err
		}
		if err := r.index.Delete(ctx, a.KeyHash); err != nil {
			return fmt.Errorf("unindex agent key: %w", err)
		}
	}
	return nil
}

// Delete removes an agent principal entirely, for DELETE /v1/agents/:id.
func (r *Registry) Delete(ctx context.Context, id string) error {
	a, err := r.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteAgent(ctx, id); err != nil {
		return err
	}
	if r.index != nil {
		if err := r.index.Delete(ctx, a.KeyHash); err != nil {
			return fmt.Errorf("unindex agent key: %w", err)
		}
	}
	return nil
}

// HashKey returns the hex-encoded SHA-256 digest of a raw agent API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ak_" + hex.EncodeToString(buf), nil
}
