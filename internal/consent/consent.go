// Package consent stores and evaluates per-agent, per-resource permission
// rules. Resource patterns are plain strings, never LIKE expressions
// passed straight to the database — every wildcard and literal match in
// this package is implemented in Go so a pattern like "tables/user_notes"
// can never be misread as a LIKE pattern where `_` matches any single
// character.
package consent

import (
	"context"
	"strings"
	"time"
)

// Permission is the access level granted by a consent rule.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionNone  Permission = "none"
)

// Action is the access being requested by check().
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Rule is one (agent, resource pattern, permission) grant.
type Rule struct {
	ID         int64
	AgentID    string
	Resource   string
	Permission Permission
	GrantedAt  time.Time
	RevokedAt  *time.Time
}

func (r Rule) active() bool { return r.RevokedAt == nil }

// Store persists consent rules for one tenant namespace.
type Store interface {
	UpsertRule(ctx context.Context, agentID, resource string, perm Permission) error
	RevokeRule(ctx context.Context, agentID, resource string) error
	RevokeAllForAgent(ctx context.Context, agentID string) error
	ListActiveForAgent(ctx context.Context, agentID string) ([]Rule, error)
}

// Engine evaluates and mutates consent rules for one tenant.
type Engine struct {
	store Store
}

// NewEngine creates an Engine backed by store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Grant upserts a rule, reactivating it if a previously revoked rule for
// the same (agentID, resource) exists.
func (e *Engine) Grant(ctx context.Context, agentID, resource string, perm Permission) error {
	return e.store.UpsertRule(ctx, agentID, resource, perm)
}

// Revoke sets revoked_at on the active rule for (agentID, resource).
func (e *Engine) Revoke(ctx context.Context, agentID, resource string) error {
	return e.store.RevokeRule(ctx, agentID, resource)
}

// RevokeAllForAgent revokes every active rule granted to agentID.
func (e *Engine) RevokeAllForAgent(ctx context.Context, agentID string) error {
	return e.store.RevokeAllForAgent(ctx, agentID)
}

// ListActiveForAgent returns every active consent rule granted to agentID.
func (e *Engine) ListActiveForAgent(ctx context.Context, agentID string) ([]Rule, error) {
	return e.store.ListActiveForAgent(ctx, agentID)
}

// Check reports whether agentID may perform action against resource.
// write implies read. A rule with permission=none denies even if a
// broader rule would otherwise grant; a missing matching rule denies.
func (e *Engine) Check(ctx context.Context, agentID, resource string, action Action) (bool, error) {
	rules, err := e.store.ListActiveForAgent(ctx, agentID)
	if err != nil {
		return false, err
	}

	matched := false
	for _, r := range rules {
		if !r.active() || !matches(r.Resource, resource) {
			continue
		}
		if r.Permission == PermissionNone {
			return false, nil
		}
		if grants(r.Permission, action) {
			matched = true
		}
	}
	return matched, nil
}

// grants reports whether permission p satisfies the requested action.
func grants(p Permission, action Action) bool {
	switch action {
	case ActionRead:
		return p == PermissionRead || p == PermissionWrite
	case ActionWrite:
		return p == PermissionWrite
	default:
		return false
	}
}

// matches implements the three-way resource-pattern match: exact, prefix
// wildcard ("tables/*"), and hierarchical ("graph" matches "graph/stats").
// All three comparisons are literal string
// operations — no regex, no SQL LIKE — so `%`, `_`, and `\` in either side
// can never be misinterpreted as metacharacters.
func matches(pattern, resource string) bool {
	if pattern == resource {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := pattern[:len(pattern)-2]
		return resource == prefix || strings.HasPrefix(resource, prefix+"/")
	}
	return strings.HasPrefix(resource, pattern+"/")
}
