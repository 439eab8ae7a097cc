package enrichment_test

import (
	"context"
	"testing"

	"github.com/nexusmemory/corestore/internal/enrichment"
	"github.com/nexusmemory/corestore/internal/graph"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

func sequentialID(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('a'+n-1))
	}
}

func TestGraphExtractor_MemoryTextCreatesMentionEntities(t *testing.T) {
	ctx := context.Background()
	vectors := vectorstore.New(vectorstore.NewMemoryStoreForTest(), sequentialID("vec-"), nil)
	g := graph.New(graph.NewMemoryStoreForTest(), sequentialID("ent-"), nil)

	vec, err := vectors.Insert(ctx, "journal", "Went hiking with Jordan Park near Seattle", []float32{1, 0, 0}, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	x := enrichment.NewGraphExtractor(vectors, nil, nil, g)
	job := ingest.Job{Kind: ingest.KindMemoryText, SourceRef: "journal:" + vec.ID, MetaID: "meta-1"}
	if err := x.Handle(ctx, job); err != nil {
		t.Fatal(err)
	}

	entities, err := g.ListEntities(ctx, "mention", 0, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) == 0 {
		t.Fatal("expected at least one mention entity extracted")
	}

	found := false
	for _, e := range entities {
		if e.Name == "Seattle" || e.Name == "Jordan Park" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a recognizable capitalized phrase among entities, got %+v", entities)
	}
}

func TestGraphExtractor_HandleIsIdempotentAcrossReplay(t *testing.T) {
	ctx := context.Background()
	vectors := vectorstore.New(vectorstore.NewMemoryStoreForTest(), sequentialID("vec-"), nil)
	g := graph.New(graph.NewMemoryStoreForTest(), sequentialID("ent-"), nil)

	vec, err := vectors.Insert(ctx, "journal", "Saw Alice at the park", []float32{1, 0, 0}, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	x := enrichment.NewGraphExtractor(vectors, nil, nil, g)
	job := ingest.Job{Kind: ingest.KindMemoryText, SourceRef: "journal:" + vec.ID, MetaID: "meta-1"}

	if err := x.Handle(ctx, job); err != nil {
		t.Fatal(err)
	}
	first, err := g.ListEntities(ctx, "mention", 0, 10, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := x.Handle(ctx, job); err != nil {
		t.Fatal(err)
	}
	second, err := g.ListEntities(ctx, "mention", 0, 10, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("replaying the same job must not create duplicate entities: %d vs %d", len(first), len(second))
	}
}

func TestGraphExtractor_NilDependencySkipsRatherThanErrors(t *testing.T) {
	ctx := context.Background()
	g := graph.New(graph.NewMemoryStoreForTest(), sequentialID("ent-"), nil)

	x := enrichment.NewGraphExtractor(nil, nil, nil, g)
	job := ingest.Job{Kind: ingest.KindMemoryText, SourceRef: "journal:missing"}
	if err := x.Handle(ctx, job); err != nil {
		t.Fatalf("expected nil-dependency jobs to be skipped silently, got %v", err)
	}
}

func TestGraphExtractor_TableRowExtractsFromStringFields(t *testing.T) {
	ctx := context.Background()
	tables := tablestore.New(tablestore.NewMemoryStoreForTest(), sequentialID("rec-"), nil)
	g := graph.New(graph.NewMemoryStoreForTest(), sequentialID("ent-"), nil)

	rec, err := tables.Insert(ctx, "notes", map[string]any{"body": "Lunch with Priya"}, "")
	if err != nil {
		t.Fatal(err)
	}

	x := enrichment.NewGraphExtractor(nil, tables, nil, g)
	job := ingest.Job{Kind: ingest.KindTableRow, SourceRef: "notes:" + rec.ID}
	if err := x.Handle(ctx, job); err != nil {
		t.Fatal(err)
	}

	entities, err := g.ListEntities(ctx, "mention", 0, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) == 0 {
		t.Error("expected an entity extracted from the table row's string fields")
	}
}

func TestGraphExtractor_ProfileExtractsFromStringValues(t *testing.T) {
	ctx := context.Background()
	prof := profile.New(profile.NewMemoryStoreForTest(), nil)
	g := graph.New(graph.NewMemoryStoreForTest(), sequentialID("ent-"), nil)

	if _, err := prof.Apply(ctx, map[string]any{"city": "Portland"}, "user", ""); err != nil {
		t.Fatal(err)
	}

	x := enrichment.NewGraphExtractor(nil, nil, prof, g)
	job := ingest.Job{Kind: ingest.KindProfile, SourceRef: "profile:v1"}
	if err := x.Handle(ctx, job); err != nil {
		t.Fatal(err)
	}

	entities, err := g.ListEntities(ctx, "mention", 0, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) == 0 {
		t.Error("expected an entity extracted from the profile's string fields")
	}
}
