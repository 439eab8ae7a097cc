// Package ingest implements the write ingestion pipeline: the single
// funnel every durable write passes through, regardless of kind.
// It checks consent, performs the kind-specific durable write, registers
// a Memory-Quality Ledger row for the fact, detects contradictions against
// prior versions where the write naturally exposes them, enqueues
// enrichment without blocking the write on its outcome, and appends one
// audit-log entry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexusmemory/corestore/internal/auditlog"
	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

// ErrConsentDenied means the acting agent lacks a write grant on the
// write's resource.
var ErrConsentDenied = errors.New("CONSENT_DENIED")

// ErrIdentityConflict guards against an agent-initiated overwrite of a
// profile identity field with a value that already names a known family
// member elsewhere in the profile.
var ErrIdentityConflict = errors.New("IDENTITY_CONFLICT")

// Kind selects which durable write path a Request takes.
type Kind string

const (
	KindProfile    Kind = "profile"
	KindTableRow   Kind = "table_row"
	KindMemoryText Kind = "memory_text"
)

// WriteStatus is the outcome reported back to the caller.
type WriteStatus string

const (
	StatusAccepted          WriteStatus = "accepted"
	StatusPendingEnrichment WriteStatus = "pending_enrichment"
)

// defaultIdentityField and defaultFamilyField name the profile paths the
// identity-safety guard inspects; both are overridable on Pipeline.
const (
	defaultIdentityField = "name"
	defaultFamilyField   = "family_members"
)

// Request carries one write through the pipeline. Only the fields for
// req.Kind need be populated.
type Request struct {
	Kind      Kind
	Origin    ledger.Origin
	ChangedBy string // "user" or an agent id; becomes profile_versions.changed_by
	AgentID   string
	WriteID   string // caller-supplied idempotency token; generated if empty

	// KindProfile
	Patch map[string]any

	// KindTableRow
	Table  string
	Fields map[string]any

	// KindMemoryText
	Collection string
	Text       string
	Metadata   map[string]any
}

// Result is returned from every successful Ingest call.
type Result struct {
	WriteID     string
	WriteStatus WriteStatus
	SourceRef   string
	MetaID      string
	JobID       string
}

// Enqueuer hands a job to the enrichment queue. Enqueue failure must never
// fail the write; Pipeline only logs it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) (jobID string, err error)
}

// Job is the payload pushed to the enrichment queue for one accepted write.
type Job struct {
	Kind      Kind
	SourceRef string
	MetaID    string
	WriteID   string
}

// EmbeddingProvider turns text into a fixed-dimension embedding.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline wires the tenant-scoped stores a single Ingest call touches.
type Pipeline struct {
	consent  *consent.Engine
	ledgerL  *ledger.Ledger
	profileS *profile.Profile
	tables   *tablestore.TableStore
	vectors  *vectorstore.VectorStore
	pending  PendingStore
	backlog  BacklogStore
	embedder EmbeddingProvider
	enqueuer Enqueuer
	audit    auditlog.Log
	logger   *zap.Logger

	identityField string
	familyField   string

	newWriteID func() string
	now        func() time.Time
}

// New creates a Pipeline. embedder and enqueuer may be nil — a nil
// embedder routes every memory_text write straight to the pending-vector
// path; a nil enqueuer makes enrichment enqueue a silent no-op.
func New(
	consentEngine *consent.Engine,
	ledgerL *ledger.Ledger,
	profileS *profile.Profile,
	tables *tablestore.TableStore,
	vectors *vectorstore.VectorStore,
	pending PendingStore,
	backlog BacklogStore,
	embedder EmbeddingProvider,
	enqueuer Enqueuer,
	audit auditlog.Log,
	logger *zap.Logger,
	newWriteID func() string,
	nowFunc func() time.Time,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{
		consent: consentEngine, ledgerL: ledgerL, profileS: profileS, tables: tables,
		vectors: vectors, pending: pending, backlog: backlog, embedder: embedder,
		enqueuer: enqueuer, audit: audit, logger: logger,
		identityField: defaultIdentityField, familyField: defaultFamilyField,
		newWriteID: newWriteID, now: nowFunc,
	}
}

// Ingest runs req through the full pipeline contract.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	writeID := req.WriteID
	if writeID == "" && p.newWriteID != nil {
		writeID = p.newWriteID()
	}

	resource := resourceFor(req)
	allowed, err := p.consent.Check(ctx, req.AgentID, resource, consent.ActionWrite)
	if err != nil {
		return nil, fmt.Errorf("consent check: %w", err)
	}
	if !allowed {
		return nil, ErrConsentDenied
	}

	var (
		sourceRef   string
		metaID      string
		writeStatus = StatusAccepted
	)

	switch req.Kind {
	case KindProfile:
		sourceRef, metaID, err = p.ingestProfile(ctx, req)
	case KindTableRow:
		sourceRef, metaID, err = p.ingestTableRow(ctx, req)
	case KindMemoryText:
		sourceRef, metaID, writeStatus, err = p.ingestMemoryText(ctx, req)
	default:
		return nil, fmt.Errorf("ingest: unknown kind %q", req.Kind)
	}
	if err != nil {
		return nil, err
	}

	jobID := ""
	if p.enqueuer != nil {
		id, err := p.enqueuer.Enqueue(ctx, Job{Kind: req.Kind, SourceRef: sourceRef, MetaID: metaID, WriteID: writeID})
		if err != nil {
			p.logger.Warn("enrichment enqueue failed; write already durable",
				zap.String("source_ref", sourceRef), zap.Error(err))
		} else {
			jobID = id
		}
	}

	if p.audit != nil {
		if _, err := p.audit.Append(ctx, req.AgentID, "ingest:"+string(req.Kind), sourceRef, map[string]any{
			"write_id": writeID, "meta_id": metaID, "origin": req.Origin,
		}); err != nil {
			p.logger.Warn("audit append failed", zap.String("source_ref", sourceRef), zap.Error(err))
		}
	}

	return &Result{WriteID: writeID, WriteStatus: writeStatus, SourceRef: sourceRef, MetaID: metaID, JobID: jobID}, nil
}

func resourceFor(req Request) string {
	switch req.Kind {
	case KindProfile:
		return "profile"
	case KindTableRow:
		return "tables/" + req.Table
	case KindMemoryText:
		return "memory"
	default:
		return "unknown"
	}
}

// ingestProfile deep-merges req.Patch into the profile and detects
// contradictions field-by-field, since Apply's deep-merge is the one write
// path that naturally exposes a prior value to compare against.
func (p *Pipeline) ingestProfile(ctx context.Context, req Request) (sourceRef, metaID string, err error) {
	before, err := p.profileS.Latest(ctx)
	if err != nil {
		return "", "", fmt.Errorf("load profile: %w", err)
	}
	if conflict := p.identityConflict(before, req.Patch); conflict {
		return "", "", ErrIdentityConflict
	}

	after, err := p.profileS.Apply(ctx, req.Patch, req.ChangedBy, "")
	if err != nil {
		return "", "", fmt.Errorf("apply profile patch: %w", err)
	}
	sourceRef = fmt.Sprintf("profile:v%d", after.Version)

	meta, err := p.ledgerL.RegisterFact(ctx, ledger.SourceProfile, sourceRef, req.Origin, req.AgentID)
	if err != nil {
		return "", "", fmt.Errorf("register profile fact: %w", err)
	}
	if err := p.profileS.SetMetaRef(ctx, after.Version, meta.ID); err != nil {
		return "", "", fmt.Errorf("set profile meta_ref: %w", err)
	}

	if before.MetaRef != "" {
		for _, field := range after.ChangedFields {
			oldVal, hadOld := getPath(before.Data, field)
			if !hadOld {
				continue // a brand new field has no prior claim to contradict
			}
			newVal, _ := getPath(after.Data, field)
			if err := p.ledgerL.RecordContradiction(ctx, meta.ID, field, fmt.Sprint(oldVal), fmt.Sprint(newVal), before.MetaRef); err != nil {
				return "", "", fmt.Errorf("record contradiction on %q: %w", field, err)
			}
		}
	}

	return sourceRef, meta.ID, nil
}

// identityConflict reports whether patch proposes setting the identity
// field to a value that already names a different, known family member.
func (p *Pipeline) identityConflict(before *profile.Version, patch map[string]any) bool {
	newName, ok := patch[p.identityField].(string)
	if !ok || newName == "" {
		return false
	}
	currentName, _ := before.Data[p.identityField].(string)
	if newName == currentName {
		return false
	}
	raw, ok := before.Data[p.familyField].([]any)
	if !ok {
		return false
	}
	for _, member := range raw {
		if name, ok := member.(string); ok && name == newName {
			return true
		}
	}
	return false
}

// ingestTableRow inserts a new row. Rows are independent inserts, not
// updates of an existing fact, so no contradiction check applies here.
func (p *Pipeline) ingestTableRow(ctx context.Context, req Request) (sourceRef, metaID string, err error) {
	rec, err := p.tables.Insert(ctx, req.Table, req.Fields, "")
	if err != nil {
		return "", "", fmt.Errorf("insert table row: %w", err)
	}
	sourceRef = req.Table + ":" + rec.ID

	meta, err := p.ledgerL.RegisterFact(ctx, ledger.SourceTableRow, sourceRef, req.Origin, req.AgentID)
	if err != nil {
		return "", "", fmt.Errorf("register table row fact: %w", err)
	}
	if err := p.tables.SetRecordMetaRef(ctx, req.Table, rec.ID, meta.ID); err != nil {
		return "", "", fmt.Errorf("set table row meta_ref: %w", err)
	}
	return sourceRef, meta.ID, nil
}

// ingestMemoryText tries to embed req.Text directly into a vector; on
// embedding-provider failure it falls to the pending_vectors queue, and
// on that failure too, to memory_backlog so the text is never lost (spec
// §4.5 step 3).
func (p *Pipeline) ingestMemoryText(ctx context.Context, req Request) (sourceRef, metaID string, status WriteStatus, err error) {
	collection := req.Collection
	if collection == "" {
		collection = "memory"
	}

	if p.embedder != nil {
		embedding, embedErr := p.embedder.Embed(ctx, req.Text)
		if embedErr == nil {
			vec, err := p.vectors.Insert(ctx, collection, req.Text, embedding, req.Metadata, "")
			if err != nil {
				return "", "", "", fmt.Errorf("insert vector: %w", err)
			}
			sourceRef = collection + ":" + vec.ID
			meta, err := p.ledgerL.RegisterFact(ctx, ledger.SourceVector, sourceRef, req.Origin, req.AgentID)
			if err != nil {
				return "", "", "", fmt.Errorf("register vector fact: %w", err)
			}
			if err := p.vectors.SetMetaRef(ctx, collection, vec.ID, meta.ID); err != nil {
				return "", "", "", fmt.Errorf("set vector meta_ref: %w", err)
			}
			return sourceRef, meta.ID, StatusAccepted, nil
		}
		p.logger.Warn("embedding provider unavailable; falling to pending_vectors", zap.Error(embedErr))
	}

	if p.pending != nil {
		id, pendErr := p.pending.Enqueue(ctx, collection, req.Text, req.Metadata)
		if pendErr == nil {
			sourceRef = "pending_vectors:" + id
			meta, err := p.ledgerL.RegisterFact(ctx, ledger.SourceVector, sourceRef, req.Origin, req.AgentID)
			if err != nil {
				return "", "", "", fmt.Errorf("register pending vector fact: %w", err)
			}
			return sourceRef, meta.ID, StatusPendingEnrichment, nil
		}
		p.logger.Warn("pending_vectors enqueue failed; falling to memory_backlog", zap.Error(pendErr))
	}

	if p.backlog == nil {
		return "", "", "", errors.New("ingest: memory_text write could not be durably stored")
	}
	id, err := p.backlog.Enqueue(ctx, req.Text, req.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("memory_backlog enqueue: %w", err)
	}
	sourceRef = "memory_backlog:" + id
	meta, err := p.ledgerL.RegisterFact(ctx, ledger.SourceVector, sourceRef, req.Origin, req.AgentID)
	if err != nil {
		return "", "", "", fmt.Errorf("register backlog fact: %w", err)
	}
	return sourceRef, meta.ID, StatusAccepted, nil
}

// getPath resolves a dotted path (as produced by profile.Apply's
// changedFields) against a nested map, mirroring the traversal profile's
// own deep-merge uses.
func getPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur := any(data)
	for i, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		cur = v
	}
	return nil, false
}

// formatMetaIndex is used by pending/backlog store implementations that
// need a cheap sequential id; kept here since both store types need the
// identical scheme and neither owns the other.
func formatMetaIndex(n int) string { return strconv.Itoa(n) }
