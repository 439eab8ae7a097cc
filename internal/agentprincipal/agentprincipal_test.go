package agentprincipal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmemory/corestore/internal/agentprincipal"
)

func sequentialID(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('a'+n-1))
	}
}

func newRegistry() *agentprincipal.Registry {
	return agentprincipal.New(agentprincipal.NewMemoryStoreForTest(), sequentialID("agent-"), nil)
}

func TestRegister_ReturnsRawKeyButPersistsOnlyHash(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	a, rawKey, err := r.Register(ctx, "garden-bot")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rawKey == "" {
		t.Fatal("expected a non-empty raw key")
	}
	if a.KeyHash == rawKey {
		t.Fatal("KeyHash must not equal the raw key")
	}
	if a.KeyHash != agentprincipal.HashKey(rawKey) {
		t.Fatal("KeyHash must be the SHA-256 hash of the raw key")
	}
}

func TestAuthenticate_ResolvesRawKeyToAgent(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	created, rawKey, err := r.Register(ctx, "garden-bot")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Authenticate(ctx, rawKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("authenticated id = %q, want %q", got.ID, created.ID)
	}
	if got.LastUsedAt == nil {
		t.Fatal("expected LastUsedAt to be set after Authenticate")
	}
}

func TestAuthenticate_RejectsUnknownKey(t *testing.T) {
	r := newRegistry()
	if _, err := r.Authenticate(context.Background(), "not-a-real-key"); !errors.Is(err, agentprincipal.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAuthenticate_RejectsRevokedKey(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	created, rawKey, err := r.Register(ctx, "garden-bot")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := r.Authenticate(ctx, rawKey); !errors.Is(err, agentprincipal.ErrRevoked) {
		t.Fatalf("err = %v, want ErrRevoked", err)
	}
}

func TestDelete_RemovesAgent(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	created, _, err := r.Register(ctx, "garden-bot")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(ctx, created.ID); !errors.Is(err, agentprincipal.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestList_ReturnsAllRegisteredAgents(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	if _, _, err := r.Register(ctx, "bot-one"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := r.Register(ctx, "bot-two"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	agents, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
}
