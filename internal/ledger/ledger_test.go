package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexusmemory/corestore/internal/ledger"
)

func newLedger(now func() time.Time) *ledger.Ledger {
	n := 0
	idFunc := func() string {
		n++
		return "meta-" + string(rune('a'+n-1))
	}
	return ledger.New(ledger.NewMemoryStoreForTest(), idFunc, now)
}

func TestRegisterFact_InitialStateByOrigin(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)

	cases := []struct {
		origin     ledger.Origin
		confidence float64
		status     ledger.Status
	}{
		{ledger.OriginUserStated, 0.85, ledger.StatusTrusted},
		{ledger.OriginUserTyped, 0.85, ledger.StatusTrusted},
		{ledger.OriginAIStated, 0.50, ledger.StatusUnvetted},
		{ledger.OriginAIInferred, 0.40, ledger.StatusUnvetted},
		{ledger.OriginAIPattern, 0.30, ledger.StatusUnvetted},
		{ledger.OriginImported, 0.70, ledger.StatusActive},
		{ledger.OriginSystem, 0.70, ledger.StatusActive},
	}
	for i, c := range cases {
		ref := "profile:v" + string(rune('0'+i))
		m, err := l.RegisterFact(ctx, ledger.SourceProfile, ref, c.origin, "agent-1")
		if err != nil {
			t.Fatalf("origin %s: %v", c.origin, err)
		}
		if m.Confidence != c.confidence || m.Status != c.status {
			t.Errorf("origin %s: got confidence=%v status=%v, want %v/%v",
				c.origin, m.Confidence, m.Status, c.confidence, c.status)
		}
	}
}

func TestRegisterFact_IdempotentOnSourceRef(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)

	m1, err := l.RegisterFact(ctx, ledger.SourceProfile, "profile:v1", ledger.OriginAIInferred, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	m2, err := l.RegisterFact(ctx, ledger.SourceProfile, "profile:v1", ledger.OriginAIInferred, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if m1.ID != m2.ID {
		t.Fatalf("expected idempotent registration, got distinct ids %s / %s", m1.ID, m2.ID)
	}
}

func TestPromotion_AfterFiveAccessesAtSufficientConfidence(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)

	m, err := l.RegisterFact(ctx, ledger.SourceProfile, "profile:nickname", ledger.OriginAIStated, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != ledger.StatusUnvetted {
		t.Fatalf("expected unvetted start, got %s", m.Status)
	}

	var last *ledger.Meta
	for i := 0; i < 5; i++ {
		last, err = l.RecordAccess(ctx, m.ID)
		if err != nil {
			t.Fatal(err)
		}
	}
	if last.AccessCount != 5 {
		t.Errorf("expected access_count=5, got %d", last.AccessCount)
	}
	if last.Status != ledger.StatusActive {
		t.Errorf("expected promotion to active after 5 accesses, got %s", last.Status)
	}
	if len(last.PromoteHistory) != 1 {
		t.Errorf("expected one promote_history entry, got %d", len(last.PromoteHistory))
	}
}

func TestReinforce_NudgesConfidenceTowardOne(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)

	m, err := l.RegisterFact(ctx, ledger.SourceProfile, "profile:v1", ledger.OriginAIPattern, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	start := m.Confidence // 0.30

	updated, err := l.Reinforce(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := start + (1-start)*0.05
	if diff := updated.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence nudge: got %v, want %v", updated.Confidence, want)
	}
	if updated.Confidence <= start {
		t.Errorf("confidence should increase after reinforcement")
	}
}

func TestReinforce_ConfidenceNeverExceedsOne(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)
	m, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:v1", ledger.OriginUserStated, "agent-1")

	var last *ledger.Meta
	var err error
	for i := 0; i < 500; i++ {
		last, err = l.Reinforce(ctx, m.ID)
		if err != nil {
			t.Fatal(err)
		}
	}
	if last.Confidence > 1.0 {
		t.Errorf("confidence exceeded 1.0: %v", last.Confidence)
	}
}

func TestRecordContradiction_HighConfidenceMovesBothToReview(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)

	prior, err := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:old", ledger.OriginUserStated, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if prior.Confidence < 0.70 || prior.Status != ledger.StatusTrusted {
		t.Fatalf("precondition failed: prior confidence=%v status=%v", prior.Confidence, prior.Status)
	}

	newFact, err := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:new", ledger.OriginAIInferred, "agent-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := l.RecordContradiction(ctx, newFact.ID, "city", "Austin", "Denver", prior.ID); err != nil {
		t.Fatal(err)
	}

	// Resolve requires status=review to succeed, so a successful resolve on
	// both rows confirms RecordContradiction actually moved them there.
	if _, err := l.Resolve(ctx, newFact.ID, ledger.ResolveConfirm); err != nil {
		t.Fatalf("expected new fact to be in review after contradiction: %v", err)
	}
	if _, err := l.Resolve(ctx, prior.ID, ledger.ResolveConfirm); err != nil {
		t.Fatalf("expected prior fact to be in review after contradiction: %v", err)
	}
}

func TestRecordContradiction_LowConfidencePriorDoesNotMoveToReview(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)

	prior, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:old", ledger.OriginAIPattern, "agent-1")
	newFact, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:new", ledger.OriginAIPattern, "agent-1")

	if err := l.RecordContradiction(ctx, newFact.ID, "city", "Austin", "Denver", prior.ID); err != nil {
		t.Fatal(err)
	}

	// Resolve should fail with ErrInvalidState because status never moved
	// to review for a low-confidence prior.
	if _, err := l.Resolve(ctx, newFact.ID, ledger.ResolveConfirm); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestResolve_ConfirmSetsTrustedAndHighConfidence(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)
	prior, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:old", ledger.OriginUserStated, "agent-1")
	newFact, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:new", ledger.OriginAIInferred, "agent-1")
	_ = l.RecordContradiction(ctx, newFact.ID, "city", "Austin", "Denver", prior.ID)

	resolved, err := l.Resolve(ctx, newFact.ID, ledger.ResolveConfirm)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != ledger.StatusTrusted || resolved.Confidence != 0.95 {
		t.Errorf("confirm: got status=%v confidence=%v, want trusted/0.95", resolved.Status, resolved.Confidence)
	}
}

func TestResolve_RejectSetsRejected(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)
	prior, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:old", ledger.OriginUserStated, "agent-1")
	newFact, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:city:new", ledger.OriginAIInferred, "agent-1")
	_ = l.RecordContradiction(ctx, newFact.ID, "city", "Austin", "Denver", prior.ID)

	resolved, err := l.Resolve(ctx, newFact.ID, ledger.ResolveReject)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != ledger.StatusRejected {
		t.Errorf("reject: got status=%v, want rejected", resolved.Status)
	}
}

func TestResolve_NonReviewRowIsInvalidState(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)
	m, _ := l.RegisterFact(ctx, ledger.SourceProfile, "profile:v1", ledger.OriginUserStated, "agent-1")

	if _, err := l.Resolve(ctx, m.ID, ledger.ResolveConfirm); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestResolve_UnknownMetaIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	l := newLedger(nil)
	if _, err := l.Resolve(ctx, "does-not-exist", ledger.ResolveConfirm); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecayScan_MovesStaleUnvettedRowsToDecayed(t *testing.T) {
	ctx := context.Background()
	clockTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLedger(func() time.Time { return clockTime })

	m, err := l.RegisterFact(ctx, ledger.SourceProfile, "profile:stale", ledger.OriginAIPattern, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != ledger.StatusUnvetted {
		t.Fatalf("precondition: expected unvetted, got %s", m.Status)
	}

	clockTime = clockTime.Add(200 * 24 * time.Hour)
	n, err := l.DecayScan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row decayed, got %d", n)
	}
}
