package ingest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmemory/corestore/internal/auditlog"
	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

type harness struct {
	pipeline *ingest.Pipeline
	consent  *consent.Engine
	ledger   *ledger.Ledger
}

// fakeEmbedder always succeeds with a fixed-dimension embedding, unless
// fail is set.
type fakeEmbedder struct{ fail bool }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding provider down")
	}
	return []float32{1, 0, 0}, nil
}

func newHarness(t *testing.T, embedder ingest.EmbeddingProvider) *harness {
	t.Helper()
	idSeq := 0
	idFunc := func() string {
		idSeq++
		return "id-" + string(rune('a'+idSeq-1))
	}

	consentEngine := consent.NewEngine(consent.NewMemoryStoreForTest())
	ledgerL := ledger.New(ledger.NewMemoryStoreForTest(), idFunc, nil)
	profileS := profile.New(profile.NewMemoryStoreForTest(), nil)
	tables := tablestore.New(tablestore.NewMemoryStoreForTest(), idFunc, nil)
	vectors := vectorstore.New(vectorstore.NewMemoryStoreForTest(), idFunc, nil)
	pending := ingest.NewMemoryPendingStoreForTest()
	backlog := ingest.NewMemoryBacklogStoreForTest()
	audit := auditlog.NewMemoryLog()

	writeSeq := 0
	newWriteID := func() string {
		writeSeq++
		return "write-" + string(rune('a'+writeSeq-1))
	}

	pipeline := ingest.New(consentEngine, ledgerL, profileS, tables, vectors, pending, backlog, embedder, nil, audit, nil, newWriteID, nil)
	return &harness{pipeline: pipeline, consent: consentEngine, ledger: ledgerL}
}

func grantWrite(t *testing.T, h *harness, agentID, resource string) {
	t.Helper()
	if err := h.consent.Grant(context.Background(), agentID, resource, consent.PermissionWrite); err != nil {
		t.Fatal(err)
	}
}

func TestIngest_ProfileWriteDeniedWithoutConsent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{})

	_, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindProfile, Origin: ledger.OriginUserStated, AgentID: "agent-1",
		Patch: map[string]any{"name": "Alex"},
	})
	if !errors.Is(err, ingest.ErrConsentDenied) {
		t.Fatalf("expected ErrConsentDenied, got %v", err)
	}
}

func TestIngest_ProfileWriteRegistersFactAtOriginConfidence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{})
	grantWrite(t, h, "agent-1", "profile")

	res, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindProfile, Origin: ledger.OriginUserStated, ChangedBy: "user", AgentID: "agent-1",
		Patch: map[string]any{"name": "Alex"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.SourceRef != "profile:v1" {
		t.Errorf("expected sourceRef=profile:v1, got %q", res.SourceRef)
	}
	if res.WriteStatus != ingest.StatusAccepted {
		t.Errorf("expected status accepted, got %q", res.WriteStatus)
	}

	meta, err := h.ledger.Get(ctx, res.MetaID)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != ledger.StatusTrusted {
		t.Errorf("expected user_stated origin to register trusted, got %s", meta.Status)
	}
}

func TestIngest_ProfileIdentityConflictRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{})
	grantWrite(t, h, "agent-1", "profile")

	if _, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindProfile, Origin: ledger.OriginUserStated, ChangedBy: "user", AgentID: "agent-1",
		Patch: map[string]any{"name": "Alex", "family_members": []any{"Jordan"}},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindProfile, Origin: ledger.OriginAIStated, ChangedBy: "agent-1", AgentID: "agent-1",
		Patch: map[string]any{"name": "Jordan"},
	})
	if !errors.Is(err, ingest.ErrIdentityConflict) {
		t.Fatalf("expected ErrIdentityConflict, got %v", err)
	}
}

func TestIngest_ProfileContradictionMovesHighConfidenceRowsToReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{})
	grantWrite(t, h, "agent-1", "profile")

	first, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindProfile, Origin: ledger.OriginUserStated, ChangedBy: "user", AgentID: "agent-1",
		Patch: map[string]any{"city": "Seattle"},
	})
	if err != nil {
		t.Fatal(err)
	}

	second, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindProfile, Origin: ledger.OriginAIInferred, ChangedBy: "agent-1", AgentID: "agent-1",
		Patch: map[string]any{"city": "Portland"},
	})
	if err != nil {
		t.Fatal(err)
	}

	firstMeta, err := h.ledger.Get(ctx, first.MetaID)
	if err != nil {
		t.Fatal(err)
	}
	secondMeta, err := h.ledger.Get(ctx, second.MetaID)
	if err != nil {
		t.Fatal(err)
	}
	if firstMeta.Status != ledger.StatusReview {
		t.Errorf("expected prior high-confidence fact moved to review, got %s", firstMeta.Status)
	}
	if secondMeta.Status != ledger.StatusReview {
		t.Errorf("expected new contradicting fact moved to review, got %s", secondMeta.Status)
	}
}

func TestIngest_TableRowWritesIndependentlyNoContradiction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{})
	grantWrite(t, h, "agent-1", "tables/workouts")

	res, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindTableRow, Origin: ledger.OriginUserTyped, AgentID: "agent-1",
		Table: "workouts", Fields: map[string]any{"reps": float64(10)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.WriteStatus != ingest.StatusAccepted {
		t.Errorf("expected accepted, got %s", res.WriteStatus)
	}
}

func TestIngest_MemoryTextEmbedsSuccessfully(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{})
	grantWrite(t, h, "agent-1", "memory")

	res, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindMemoryText, Origin: ledger.OriginAIStated, AgentID: "agent-1",
		Collection: "journal", Text: "went for a run",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.WriteStatus != ingest.StatusAccepted {
		t.Errorf("expected accepted, got %s", res.WriteStatus)
	}
}

func TestIngest_MemoryTextFallsToPendingOnEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{fail: true})
	grantWrite(t, h, "agent-1", "memory")

	res, err := h.pipeline.Ingest(ctx, ingest.Request{
		Kind: ingest.KindMemoryText, Origin: ledger.OriginAIStated, AgentID: "agent-1",
		Collection: "journal", Text: "went for a run",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.WriteStatus != ingest.StatusPendingEnrichment {
		t.Errorf("expected pending_enrichment, got %s", res.WriteStatus)
	}
}
