package enrichment

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nexusmemory/corestore/internal/graph"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

// capitalizedWordRe finds capitalized-word runs (simple proper-noun
// heuristic: "Seattle", "Jordan Park") inside free text. This is
// intentionally not NLP — a small, reviewable regex standing in for a
// named-entity recognizer, the same tradeoff queryPattern makes in graph.
var capitalizedWordRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\b`)

// maxMentionsPerJob bounds how many candidate entities one job can create,
// so a pathological wall of text cannot flood the graph from one write.
const maxMentionsPerJob = 8

// GraphExtractor is the default enrichment Handler: it resolves a job's
// SourceRef back to the content that was written and derives lightweight
// graph entities/edges from it. Each dependency is optional; a nil one
// simply means jobs referencing that source kind are skipped rather than
// erroring, so a deployment can wire only the kinds it cares about.
type GraphExtractor struct {
	vectors *vectorstore.VectorStore
	tables  *tablestore.TableStore
	profile *profile.Profile
	graph   *graph.Graph
}

// NewGraphExtractor creates a GraphExtractor over the given stores.
func NewGraphExtractor(vectors *vectorstore.VectorStore, tables *tablestore.TableStore, prof *profile.Profile, g *graph.Graph) *GraphExtractor {
	return &GraphExtractor{vectors: vectors, tables: tables, profile: prof, graph: g}
}

// Handle implements Handler. Replaying the same job does not duplicate
// rows: CreateEntity dedupes on (type, lower(name)) and CreateEdge dedupes
// on (source_id, target_id, relation). It is not idempotent per
// (meta_id, job_kind): job.MetaID is not consulted, and each replay bumps
// mention/weight counters again.
func (x *GraphExtractor) Handle(ctx context.Context, job ingest.Job) error {
	if x.graph == nil {
		return nil
	}
	switch job.Kind {
	case ingest.KindMemoryText:
		return x.handleMemoryText(ctx, job)
	case ingest.KindTableRow:
		return x.handleTableRow(ctx, job)
	case ingest.KindProfile:
		return x.handleProfile(ctx, job)
	default:
		return nil
	}
}

func (x *GraphExtractor) handleMemoryText(ctx context.Context, job ingest.Job) error {
	if x.vectors == nil {
		return nil
	}
	collection, id, ok := splitSourceRef(job.SourceRef)
	if !ok {
		return nil
	}
	vectors, err := x.vectors.ListVectors(ctx, collection)
	if err != nil {
		return fmt.Errorf("list vectors for enrichment: %w", err)
	}
	var text string
	for _, v := range vectors {
		if v.ID == id {
			text = v.Text
			break
		}
	}
	if text == "" {
		return nil
	}
	return x.extractMentions(ctx, text, job.SourceRef)
}

func (x *GraphExtractor) handleTableRow(ctx context.Context, job ingest.Job) error {
	if x.tables == nil {
		return nil
	}
	table, id, ok := splitSourceRef(job.SourceRef)
	if !ok {
		return nil
	}
	records, err := x.tables.ListRecords(ctx, table, 0, 0)
	if err != nil {
		return fmt.Errorf("list records for enrichment: %w", err)
	}
	var fields map[string]any
	for _, r := range records {
		if r.ID == id {
			fields = r.Fields
			break
		}
	}
	var sb strings.Builder
	for _, v := range fields {
		if s, ok := v.(string); ok {
			sb.WriteString(s)
			sb.WriteString(" ")
		}
	}
	return x.extractMentions(ctx, sb.String(), job.SourceRef)
}

func (x *GraphExtractor) handleProfile(ctx context.Context, job ingest.Job) error {
	if x.profile == nil {
		return nil
	}
	latest, err := x.profile.Latest(ctx)
	if err != nil {
		return fmt.Errorf("load profile for enrichment: %w", err)
	}
	var sb strings.Builder
	for _, v := range latest.Data {
		if s, ok := v.(string); ok {
			sb.WriteString(s)
			sb.WriteString(" ")
		}
	}
	return x.extractMentions(ctx, sb.String(), job.SourceRef)
}

// extractMentions creates one "mention" entity per distinct capitalized
// phrase in text and links consecutive mentions with a "co_mentioned"
// edge, giving the knowledge graph something to traverse even before any
// agent explicitly calls createEntity/createEdge.
func (x *GraphExtractor) extractMentions(ctx context.Context, text, sourceRef string) error {
	matches := capitalizedWordRe.FindAllString(text, -1)
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, m)
		if len(names) >= maxMentionsPerJob {
			break
		}
	}

	var entityIDs []string
	for _, name := range names {
		ent, err := x.graph.CreateEntity(ctx, "mention", name, nil, 0.4)
		if err != nil {
			return fmt.Errorf("create entity %q: %w", name, err)
		}
		entityIDs = append(entityIDs, ent.ID)
	}
	for i := 1; i < len(entityIDs); i++ {
		if _, err := x.graph.CreateEdge(ctx, entityIDs[i-1], entityIDs[i], "co_mentioned", 1.0, 0.4, sourceRef); err != nil {
			return fmt.Errorf("create edge: %w", err)
		}
	}
	return nil
}

// splitSourceRef splits a "prefix:id" source ref into its two parts.
func splitSourceRef(ref string) (prefix, id string, ok bool) {
	i := strings.LastIndex(ref, ":")
	if i < 0 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
