// Package toolfacade implements the three stable tools agents call
// against a tenant's memory store — memorize, recall, review — and the
// legacy-name translation and output adapters that sit in front of them.
// Every call here is already scoped to one tenant namespace by the
// caller (transport layer); this package never derives a namespace
// itself.
package toolfacade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/graph"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

// ErrUnknownCategory is returned when memorize's category names neither
// "profile", the implicit memory bucket, nor a valid table identifier.
var ErrUnknownCategory = errors.New("MEMORIZE_UNKNOWN_CATEGORY")

// OnIngest, if set, is called once per Memorize call with the ingest kind
// and outcome ("ok" or "error"). Wired to process metrics at startup; left
// nil in tests.
var OnIngest func(kind, result string)

func recordIngest(kind string, err error) {
	if OnIngest == nil {
		return
	}
	if err != nil {
		OnIngest(kind, "error")
		return
	}
	OnIngest(kind, "ok")
}

// ErrUnknownTool is returned by Dispatch for a tool name this facade does
// not recognize, once legacy translation has already been tried.
var ErrUnknownTool = errors.New("UNKNOWN_TOOL")

// Services bundles the tenant-scoped component handles one facade call
// needs. A transport constructs one Services value per request/job,
// bound to the caller's resolved namespace.
type Services struct {
	Ingest  *ingest.Pipeline
	Consent *consent.Engine
	Ledger  *ledger.Ledger
	Profile *profile.Profile
	Tables  *tablestore.TableStore
	Vectors *vectorstore.VectorStore
	Graph   *graph.Graph

	// Embedder turns a recall topic into a query vector for knowledge-mode
	// retrieval. A nil Embedder degrades knowledge mode: vector search is
	// skipped and reported as a missing source rather than failing the call.
	Embedder ingest.EmbeddingProvider

	Now func() time.Time
}

func (s *Services) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// ── memorize ─────────────────────────────────────────────────────────────

// MemorizeRequest is the memorize(text, category?, data?) call.
type MemorizeRequest struct {
	Text     string         `json:"text"`
	Category string         `json:"category"` // "", "memory" -> vector text; "profile" -> profile patch; else a table name
	Data     map[string]any `json:"data"`
	AgentID  string         `json:"-"`
	Origin   ledger.Origin  `json:"-"`
}

// MemorizeResult is memorize's stable return shape.
type MemorizeResult struct {
	Success     bool              `json:"success"`
	SourceRef   string            `json:"sourceRef"`
	WriteID     string            `json:"writeId"`
	WriteStatus ingest.WriteStatus `json:"writeStatus"`
}

// Memorize classifies req.Category and dispatches to the matching
// ingest.Kind, always returning the four-field result the tool contract
// promises regardless of which underlying store handled the write.
func Memorize(ctx context.Context, s *Services, req MemorizeRequest) (*MemorizeResult, error) {
	ingestReq := ingest.Request{
		Origin:    req.Origin,
		ChangedBy: req.AgentID,
		AgentID:   req.AgentID,
	}

	switch req.Category {
	case "", "memory":
		ingestReq.Kind = ingest.KindMemoryText
		ingestReq.Text = req.Text
		ingestReq.Metadata = req.Data
	case "profile":
		ingestReq.Kind = ingest.KindProfile
		patch := req.Data
		if patch == nil {
			patch = map[string]any{}
		}
		ingestReq.Patch = patch
	default:
		if err := tablestore.ValidateName(req.Category); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, req.Category)
		}
		ingestReq.Kind = ingest.KindTableRow
		ingestReq.Table = req.Category
		fields := req.Data
		if fields == nil {
			fields = map[string]any{}
		}
		if req.Text != "" {
			fields["text"] = req.Text
		}
		ingestReq.Fields = fields
	}

	result, err := s.Ingest.Ingest(ctx, ingestReq)
	recordIngest(string(ingestReq.Kind), err)
	if err != nil {
		return nil, err
	}
	return &MemorizeResult{
		Success:     true,
		SourceRef:   result.SourceRef,
		WriteID:     result.WriteID,
		WriteStatus: result.WriteStatus,
	}, nil
}

// ── recall ───────────────────────────────────────────────────────────────

// Mode selects which shape of recall to run.
type Mode string

const (
	ModeContext   Mode = "context"
	ModeKnowledge Mode = "knowledge"
	ModeTable     Mode = "table"
)

// RecallRequest is the recall(topic?, mode?, table?, budget?) call.
type RecallRequest struct {
	Topic   string `json:"topic"`
	Mode    Mode   `json:"mode"`
	Table   string `json:"table"`
	Budget  int    `json:"budget"` // max items per section; 0 means a built-in default
	AgentID string `json:"-"`
}

func (r RecallRequest) budget() int {
	if r.Budget > 0 {
		return r.Budget
	}
	return 10
}

// ContextResult is returned for ModeContext.
type ContextResult struct {
	Profile  map[string]any   `json:"profile,omitempty"`
	Tables   []tablestore.Registry `json:"tables,omitempty"`
	Entities []*graph.Entity  `json:"entities,omitempty"`
	Recent   []*ledger.Meta   `json:"recent,omitempty"`
}

// CoverageDetails reports what knowledge-mode actually managed to query.
type CoverageDetails struct {
	Score           float64  `json:"score"`
	PlannedSources  []string `json:"plannedSources"`
	QueriedSources  []string `json:"queriedSources"`
	MissingSources  []string `json:"missingSources"`
}

// Fact is one retrieved item in knowledge mode, regardless of which store
// it came from.
type Fact struct {
	SourceRef string  `json:"sourceRef"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// KnowledgeResult is returned for ModeKnowledge.
type KnowledgeResult struct {
	Topic           string          `json:"topic"`
	Facts           []Fact          `json:"facts"`
	CoverageDetails CoverageDetails `json:"coverageDetails"`
}

// TableResult is returned for ModeTable.
type TableResult struct {
	Table   string                `json:"table"`
	Records []*tablestore.Record  `json:"records"`
}

// Recall dispatches on req.Mode (defaulting to ModeContext) and returns
// one of *ContextResult, *KnowledgeResult, or *TableResult.
func Recall(ctx context.Context, s *Services, req RecallRequest) (any, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeContext
	}

	switch mode {
	case ModeContext:
		return recallContext(ctx, s, req)
	case ModeKnowledge:
		return recallKnowledge(ctx, s, req)
	case ModeTable:
		return recallTable(ctx, s, req)
	default:
		return nil, fmt.Errorf("recall: unknown mode %q", mode)
	}
}

func recallContext(ctx context.Context, s *Services, req RecallRequest) (*ContextResult, error) {
	out := &ContextResult{}
	budget := req.budget()

	if allowed, _ := s.Consent.Check(ctx, req.AgentID, "profile", consent.ActionRead); allowed {
		if v, err := s.Profile.Latest(ctx); err == nil {
			out.Profile = v.Data
		}
	}

	if allowed, _ := s.Consent.Check(ctx, req.AgentID, "tables", consent.ActionRead); allowed {
		if req.Table != "" {
			if reg, err := s.Tables.GetRegistry(ctx, req.Table); err == nil {
				out.Tables = []tablestore.Registry{*reg}
			}
		}
	}

	if allowed, _ := s.Consent.Check(ctx, req.AgentID, "graph", consent.ActionRead); allowed {
		entities, err := s.Graph.ListEntities(ctx, "", 0, budget, 0)
		if err == nil {
			out.Entities = entities
		}
	}

	if allowed, _ := s.Consent.Check(ctx, req.AgentID, "memory", consent.ActionRead); allowed {
		recent, err := s.Ledger.ListByStatus(ctx, ledger.StatusActive, budget, 0)
		if err == nil {
			out.Recent = recent
		}
	}

	return out, nil
}

func recallKnowledge(ctx context.Context, s *Services, req RecallRequest) (*KnowledgeResult, error) {
	planned := []string{"vectors", "graph", "tables"}
	queried := make([]string, 0, 3)
	missing := make([]string, 0, 3)
	facts := make([]Fact, 0, req.budget())

	if allowed, _ := s.Consent.Check(ctx, req.AgentID, "memory", consent.ActionRead); allowed && s.Embedder != nil {
		if embedding, err := s.Embedder.Embed(ctx, req.Topic); err == nil {
			if matches, err := s.Vectors.Search(ctx, "memory", embedding, req.budget()); err == nil {
				queried = append(queried, "vectors")
				for _, m := range matches {
					facts = append(facts, Fact{SourceRef: "memory:" + m.Vector.ID, Text: m.Vector.Text, Score: 1 - m.Distance})
				}
			} else {
				missing = append(missing, "vectors")
			}
		} else {
			missing = append(missing, "vectors")
		}
	} else {
		missing = append(missing, "vectors")
	}

	if allowed, _ := s.Consent.Check(ctx, req.AgentID, "graph", consent.ActionRead); allowed {
		entities, err := s.Graph.FindByName(ctx, "", req.Topic)
		if err == nil {
			queried = append(queried, "graph")
			for _, e := range entities {
				facts = append(facts, Fact{SourceRef: "entity:" + e.ID, Text: e.Name, Score: e.Confidence})
			}
		} else {
			missing = append(missing, "graph")
		}
	} else {
		missing = append(missing, "graph")
	}

	missing = append(missing, "tables") // table full-text search is not implemented for knowledge mode

	score := 0.0
	if len(planned) > 0 {
		score = float64(len(queried)) / float64(len(planned))
	}

	return &KnowledgeResult{
		Topic: req.Topic,
		Facts: facts,
		CoverageDetails: CoverageDetails{
			Score:          score,
			PlannedSources: planned,
			QueriedSources: queried,
			MissingSources: missing,
		},
	}, nil
}

func recallTable(ctx context.Context, s *Services, req RecallRequest) (*TableResult, error) {
	if allowed, err := s.Consent.Check(ctx, req.AgentID, "tables/"+req.Table, consent.ActionRead); err != nil {
		return nil, err
	} else if !allowed {
		return nil, ingest.ErrConsentDenied
	}
	records, err := s.Tables.ListRecords(ctx, req.Table, req.budget(), 0)
	if err != nil {
		return nil, err
	}
	return &TableResult{Table: req.Table, Records: records}, nil
}

// ── review ───────────────────────────────────────────────────────────────

// ReviewAction selects list vs resolve.
type ReviewAction string

const (
	ReviewList    ReviewAction = "list"
	ReviewResolve ReviewAction = "resolve"
)

// ReviewRequest is the review(action, metaId?, resolution?) call.
type ReviewRequest struct {
	Action     ReviewAction         `json:"action"`
	MetaID     string               `json:"metaId"`
	Resolution ledger.ResolveAction `json:"resolution"`
}

// ReviewListResult is returned for ReviewList.
type ReviewListResult struct {
	Items []*ledger.Meta `json:"items"`
}

// ReviewResolveResult is returned for ReviewResolve.
type ReviewResolveResult struct {
	Meta *ledger.Meta `json:"meta"`
}

// Review dispatches on req.Action and returns either
// *ReviewListResult or *ReviewResolveResult.
func Review(ctx context.Context, s *Services, req ReviewRequest) (any, error) {
	switch req.Action {
	case ReviewList:
		items, err := s.Ledger.ListByStatus(ctx, ledger.StatusReview, 100, 0)
		if err != nil {
			return nil, err
		}
		return &ReviewListResult{Items: items}, nil
	case ReviewResolve:
		meta, err := s.Ledger.Resolve(ctx, req.MetaID, req.Resolution)
		if err != nil {
			return nil, err
		}
		return &ReviewResolveResult{Meta: meta}, nil
	default:
		return nil, fmt.Errorf("review: unknown action %q", req.Action)
	}
}
