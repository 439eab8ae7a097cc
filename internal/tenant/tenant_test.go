package tenant_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmemory/corestore/internal/tenant"
)

func newStore() tenant.Store { return tenant.NewMemoryStoreForTest() }

func TestCreateTenant_DerivesDeterministicNamespace(t *testing.T) {
	m := tenant.NewManager(newStore())
	ctx := context.Background()

	got, err := m.CreateTenant(ctx, "user-1", 1536)
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	want := tenant.DeriveNamespace("user-1")
	if got.Namespace != want {
		t.Fatalf("namespace = %q, want %q", got.Namespace, want)
	}
}

func TestCreateTenant_Duplicate(t *testing.T) {
	m := tenant.NewManager(newStore())
	ctx := context.Background()

	if _, err := m.CreateTenant(ctx, "user-1", 1536); err != nil {
		t.Fatalf("first CreateTenant: %v", err)
	}
	_, err := m.CreateTenant(ctx, "user-1", 1536)
	if !errors.Is(err, tenant.ErrTenantExists) {
		t.Fatalf("err = %v, want ErrTenantExists", err)
	}
}

func TestWithTenant_IsolatesNamespacesAcrossUsers(t *testing.T) {
	m := tenant.NewManager(newStore())
	ctx := context.Background()

	if _, err := m.CreateTenant(ctx, "alice", 8); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if _, err := m.CreateTenant(ctx, "bob", 8); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	var aliceNS, bobNS string
	if err := m.WithTenant(ctx, "alice", func(_ context.Context, s *tenant.Scope) error {
		aliceNS = s.Namespace
		return nil
	}); err != nil {
		t.Fatalf("WithTenant alice: %v", err)
	}
	if err := m.WithTenant(ctx, "bob", func(_ context.Context, s *tenant.Scope) error {
		bobNS = s.Namespace
		return nil
	}); err != nil {
		t.Fatalf("WithTenant bob: %v", err)
	}

	if aliceNS == bobNS {
		t.Fatalf("alice and bob resolved to the same namespace %q", aliceNS)
	}
}

func TestDropTenant_NotFound(t *testing.T) {
	m := tenant.NewManager(newStore())
	err := m.DropTenant(context.Background(), "nobody")
	if !errors.Is(err, tenant.ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
}
