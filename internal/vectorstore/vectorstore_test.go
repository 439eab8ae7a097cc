package vectorstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmemory/corestore/internal/vectorstore"
)

func newStore() *vectorstore.VectorStore {
	n := 0
	idFunc := func() string {
		n++
		return "vec-" + string(rune('a'+n-1))
	}
	return vectorstore.New(vectorstore.NewMemoryStoreForTest(), idFunc, nil)
}

func TestInsert_AutoCreatesCollectionOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	vs := newStore()

	if _, err := vs.Insert(ctx, "memories", "went for a run", []float32{1, 0, 0}, nil, "meta-1"); err != nil {
		t.Fatal(err)
	}

	coll, err := vs.GetCollection(ctx, "memories")
	if err != nil {
		t.Fatal(err)
	}
	if coll.EmbeddingDim != 3 {
		t.Errorf("expected embedding_dim=3, got %d", coll.EmbeddingDim)
	}
	if coll.EntryCount != 1 {
		t.Errorf("expected entry_count=1, got %d", coll.EntryCount)
	}
}

func TestInsert_RejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	vs := newStore()

	if _, err := vs.Insert(ctx, "memories", "first", []float32{1, 0, 0}, nil, ""); err != nil {
		t.Fatal(err)
	}
	_, err := vs.Insert(ctx, "memories", "second", []float32{1, 0}, nil, "")
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearch_OrdersByDistanceAscending(t *testing.T) {
	ctx := context.Background()
	vs := newStore()

	if _, err := vs.Insert(ctx, "memories", "orthogonal", []float32{0, 1, 0}, nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := vs.Insert(ctx, "memories", "identical", []float32{1, 0, 0}, nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := vs.Insert(ctx, "memories", "opposite", []float32{-1, 0, 0}, nil, ""); err != nil {
		t.Fatal(err)
	}

	matches, err := vs.Search(ctx, "memories", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].Vector.Text != "identical" {
		t.Errorf("expected closest match to be 'identical', got %q", matches[0].Vector.Text)
	}
	if matches[len(matches)-1].Vector.Text != "opposite" {
		t.Errorf("expected farthest match to be 'opposite', got %q", matches[len(matches)-1].Vector.Text)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Distance < matches[i-1].Distance {
			t.Fatalf("matches not sorted ascending by distance: %v", matches)
		}
	}
}

func TestSearch_RespectsTopK(t *testing.T) {
	ctx := context.Background()
	vs := newStore()

	for i := 0; i < 5; i++ {
		if _, err := vs.Insert(ctx, "memories", "x", []float32{1, 0, 0}, nil, ""); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := vs.Search(ctx, "memories", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("expected topK=2 results, got %d", len(matches))
	}
}

func TestDelete_HidesVectorFromSearch(t *testing.T) {
	ctx := context.Background()
	vs := newStore()

	vec, err := vs.Insert(ctx, "memories", "to remove", []float32{1, 0, 0}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := vs.Delete(ctx, "memories", vec.ID); err != nil {
		t.Fatal(err)
	}

	matches, err := vs.Search(ctx, "memories", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("expected deleted vector hidden from search, got %d matches", len(matches))
	}
}

func TestGetCollection_UnknownNameIsNotFound(t *testing.T) {
	ctx := context.Background()
	vs := newStore()
	if _, err := vs.GetCollection(ctx, "nonexistent"); !errors.Is(err, vectorstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
