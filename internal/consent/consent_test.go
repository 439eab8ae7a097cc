package consent_test

import (
	"context"
	"testing"

	"github.com/nexusmemory/corestore/internal/consent"
)

func newEngine() *consent.Engine {
	return consent.NewEngine(consent.NewMemoryStoreForTest())
}

func TestCheck_ExactMatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "profile", consent.PermissionRead); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(ctx, "agent-1", "profile", consent.ActionRead)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v, want true/nil", ok, err)
	}
}

func TestCheck_NoMatchingRuleDenies(t *testing.T) {
	e := newEngine()
	ok, err := e.Check(context.Background(), "agent-1", "profile", consent.ActionRead)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestCheck_WriteImpliesRead(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "profile", consent.PermissionWrite); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(ctx, "agent-1", "profile", consent.ActionRead)
	if err != nil || !ok {
		t.Fatalf("write should imply read: ok=%v err=%v", ok, err)
	}
}

func TestCheck_HierarchicalMatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "graph", consent.PermissionRead); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(ctx, "agent-1", "graph/stats", consent.ActionRead)
	if err != nil || !ok {
		t.Fatalf("hierarchical match failed: ok=%v err=%v", ok, err)
	}
}

func TestCheck_WildcardMatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "tables/*", consent.PermissionRead); err != nil {
		t.Fatal(err)
	}
	for _, r := range []string{"tables", "tables/workouts"} {
		ok, err := e.Check(ctx, "agent-1", r, consent.ActionRead)
		if err != nil || !ok {
			t.Fatalf("resource %q: ok=%v err=%v, want true/nil", r, ok, err)
		}
	}
}

func TestCheck_PermissionNoneDenies(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "tables/*", consent.PermissionWrite); err != nil {
		t.Fatal(err)
	}
	if err := e.Grant(ctx, "agent-1", "tables/secrets", consent.PermissionNone); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(ctx, "agent-1", "tables/secrets", consent.ActionRead)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want false/nil (explicit none)", ok, err)
	}
}

// TestCheck_UnderscoreIsNotAWildcard verifies that a rule on
// "tables/user_notes" must not match "tables/userXnotes" for any single
// non-underscore character X, the way a naive SQL LIKE comparison would
// if `_` were passed through unescaped.
func TestCheck_UnderscoreIsNotAWildcard(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "tables/user_notes", consent.PermissionRead); err != nil {
		t.Fatal(err)
	}

	for _, c := range "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" {
		resource := "tables/user" + string(c) + "notes"
		ok, err := e.Check(ctx, "agent-1", resource, consent.ActionRead)
		if err != nil {
			t.Fatalf("resource %q: unexpected error %v", resource, err)
		}
		if ok {
			t.Fatalf("resource %q matched rule for tables/user_notes; underscore must not be a wildcard", resource)
		}
	}

	// The literal underscore resource itself must still match.
	ok, err := e.Check(ctx, "agent-1", "tables/user_notes", consent.ActionRead)
	if err != nil || !ok {
		t.Fatalf("exact literal match failed: ok=%v err=%v", ok, err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "profile", consent.PermissionRead); err != nil {
		t.Fatal(err)
	}
	if err := e.Revoke(ctx, "agent-1", "profile"); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(ctx, "agent-1", "profile", consent.ActionRead)
	if err != nil || ok {
		t.Fatalf("revoked rule still grants: ok=%v err=%v", ok, err)
	}
}

func TestRevokeAllForAgent(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	if err := e.Grant(ctx, "agent-1", "profile", consent.PermissionWrite); err != nil {
		t.Fatal(err)
	}
	if err := e.Grant(ctx, "agent-1", "graph", consent.PermissionRead); err != nil {
		t.Fatal(err)
	}
	if err := e.RevokeAllForAgent(ctx, "agent-1"); err != nil {
		t.Fatal(err)
	}
	for _, r := range []string{"profile", "graph"} {
		ok, _ := e.Check(ctx, "agent-1", r, consent.ActionRead)
		if ok {
			t.Fatalf("resource %q still granted after RevokeAllForAgent", r)
		}
	}
}
