package graph_test

import (
	"context"
	"testing"

	"github.com/nexusmemory/corestore/internal/graph"
)

func newGraph() (*graph.Graph, func() string) {
	n := 0
	ids := []string{}
	idFunc := func() string {
		n++
		id := "id-" + string(rune('a'+n-1))
		ids = append(ids, id)
		return id
	}
	return graph.New(graph.NewMemoryStoreForTest(), idFunc, nil), func() string { return ids[len(ids)-1] }
}

func TestCreateEntity_IdempotentByTypeAndLowerName(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()

	e1, err := g.CreateEntity(ctx, "food", "Pizza", nil, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := g.CreateEntity(ctx, "food", "pizza", nil, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if e1.ID != e2.ID {
		t.Fatalf("expected same entity for case-insensitive dup, got %s / %s", e1.ID, e2.ID)
	}
	if e2.MentionCount != 2 {
		t.Errorf("expected mention_count=2 after second mention, got %d", e2.MentionCount)
	}
}

func TestCreateEdge_AccumulatesWeightAndClamps(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()

	a, _ := g.CreateEntity(ctx, "food", "Pizza", nil, 0.8)
	b, _ := g.CreateEntity(ctx, "person", "Alice", nil, 0.8)

	var last *graph.Edge
	var err error
	for i := 0; i < 300; i++ {
		last, err = g.CreateEdge(ctx, b.ID, a.ID, "likes", 1, 0.8, "journal:1")
		if err != nil {
			t.Fatal(err)
		}
	}
	if last.Weight > 100 {
		t.Errorf("expected weight clamped to 100, got %v", last.Weight)
	}
	if len(last.Evidence) != 300 {
		t.Errorf("expected 300 evidence entries, got %d", len(last.Evidence))
	}
}

func TestGetNeighbors_SortedByWeightDescending(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()

	alice, _ := g.CreateEntity(ctx, "person", "Alice", nil, 0.8)
	pizza, _ := g.CreateEntity(ctx, "food", "Pizza", nil, 0.8)
	sushi, _ := g.CreateEntity(ctx, "food", "Sushi", nil, 0.8)

	if _, err := g.CreateEdge(ctx, alice.ID, pizza.ID, "likes", 1, 0.8, "j:1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := g.CreateEdge(ctx, alice.ID, sushi.ID, "likes", 1, 0.8, "j:2"); err != nil {
			t.Fatal(err)
		}
	}

	neighbors, err := g.GetNeighbors(ctx, alice.ID, graph.DirectionOut, "likes", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbor edges, got %d", len(neighbors))
	}
	if neighbors[0].TargetID != sushi.ID {
		t.Errorf("expected sushi (weight 5) first, got target %s with weight %v", neighbors[0].TargetID, neighbors[0].Weight)
	}
}

func TestTraverse_BFSRespectsMaxDepthAndDedup(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()

	a, _ := g.CreateEntity(ctx, "person", "A", nil, 0.8)
	b, _ := g.CreateEntity(ctx, "person", "B", nil, 0.8)
	c, _ := g.CreateEntity(ctx, "person", "C", nil, 0.8)

	if _, err := g.CreateEdge(ctx, a.ID, b.ID, "knows", 1, 0.8, "j:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateEdge(ctx, b.ID, c.ID, "knows", 1, 0.8, "j:2"); err != nil {
		t.Fatal(err)
	}
	// Cycle back to a to confirm dedup doesn't revisit the start node.
	if _, err := g.CreateEdge(ctx, c.ID, a.ID, "knows", 1, 0.8, "j:3"); err != nil {
		t.Fatal(err)
	}

	depth1, err := g.Traverse(ctx, a.ID, graph.TraverseOptions{MaxDepth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(depth1) != 1 || depth1[0].ID != b.ID {
		t.Fatalf("depth 1 traversal: got %+v, want just B", depth1)
	}

	depth2, err := g.Traverse(ctx, a.ID, graph.TraverseOptions{MaxDepth: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(depth2) != 2 {
		t.Fatalf("depth 2 traversal: expected 2 nodes (B, C), got %d: %+v", len(depth2), depth2)
	}
}

func TestGetPathBetween_ShortestPath(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()

	a, _ := g.CreateEntity(ctx, "person", "A", nil, 0.8)
	b, _ := g.CreateEntity(ctx, "person", "B", nil, 0.8)
	c, _ := g.CreateEntity(ctx, "person", "C", nil, 0.8)

	if _, err := g.CreateEdge(ctx, a.ID, b.ID, "knows", 1, 0.8, "j:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateEdge(ctx, b.ID, c.ID, "knows", 1, 0.8, "j:2"); err != nil {
		t.Fatal(err)
	}

	path, err := g.GetPathBetween(ctx, a.ID, c.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 || path[0] != a.ID || path[2] != c.ID {
		t.Fatalf("expected path [A B C], got %v", path)
	}
}

func TestGetPathBetween_NoPathReturnsNil(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()
	a, _ := g.CreateEntity(ctx, "person", "A", nil, 0.8)
	b, _ := g.CreateEntity(ctx, "person", "B", nil, 0.8)

	path, err := g.GetPathBetween(ctx, a.ID, b.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if path != nil {
		t.Fatalf("expected nil path for disconnected nodes, got %v", path)
	}
}

func TestDeleteEntity_HiddenFromListings(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()
	a, _ := g.CreateEntity(ctx, "person", "A", nil, 0.8)

	if err := g.DeleteEntity(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	entities, err := g.ListEntities(ctx, "person", 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 0 {
		t.Errorf("expected soft-deleted entity hidden from listing, got %d", len(entities))
	}
}

func TestQueryPattern_WhatDoILikeReturnsLikedEntities(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()
	alice, _ := g.CreateEntity(ctx, "person", "Alice", nil, 0.8)
	pizza, _ := g.CreateEntity(ctx, "food", "Pizza", nil, 0.8)
	if _, err := g.CreateEdge(ctx, alice.ID, pizza.ID, "likes", 1, 0.8, "j:1"); err != nil {
		t.Fatal(err)
	}

	result, err := g.QueryPattern(ctx, alice.ID, "What do I like?")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entities) != 1 || result.Entities[0].ID != pizza.ID {
		t.Fatalf("expected [Pizza], got %+v", result.Entities)
	}
}

func TestQueryPattern_UnrecognizedPattern(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()
	alice, _ := g.CreateEntity(ctx, "person", "Alice", nil, 0.8)

	if _, err := g.QueryPattern(ctx, alice.ID, "tell me something random"); err != graph.ErrUnrecognizedPattern {
		t.Fatalf("expected ErrUnrecognizedPattern, got %v", err)
	}
}

func TestClusteringCoefficient_FullyConnectedTriad(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()
	a, _ := g.CreateEntity(ctx, "person", "A", nil, 0.8)
	b, _ := g.CreateEntity(ctx, "person", "B", nil, 0.8)
	c, _ := g.CreateEntity(ctx, "person", "C", nil, 0.8)

	if _, err := g.CreateEdge(ctx, a.ID, b.ID, "knows", 1, 0.8, "j:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateEdge(ctx, a.ID, c.ID, "knows", 1, 0.8, "j:2"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateEdge(ctx, b.ID, c.ID, "knows", 1, 0.8, "j:3"); err != nil {
		t.Fatal(err)
	}

	coeff, err := g.GetClusteringCoefficient(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if coeff != 1.0 {
		t.Errorf("expected clustering coefficient 1.0 for fully connected triad, got %v", coeff)
	}
}

func TestGetEntityCentrality_ChainBridgeHasFullBetweenness(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()
	a, _ := g.CreateEntity(ctx, "person", "A", nil, 0.8)
	b, _ := g.CreateEntity(ctx, "person", "B", nil, 0.8)
	c, _ := g.CreateEntity(ctx, "person", "C", nil, 0.8)

	if _, err := g.CreateEdge(ctx, a.ID, b.ID, "knows", 2, 0.8, "j:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateEdge(ctx, b.ID, c.ID, "knows", 3, 0.8, "j:2"); err != nil {
		t.Fatal(err)
	}

	cent, err := g.GetEntityCentrality(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cent.Degree != 2 {
		t.Errorf("expected degree 2, got %d", cent.Degree)
	}
	if cent.Weighted != 5 {
		t.Errorf("expected weighted 5, got %v", cent.Weighted)
	}
	if cent.Betweenness != 1.0 {
		t.Errorf("expected betweenness 1.0 (B bridges the only other pair, A-C), got %v", cent.Betweenness)
	}
}

func TestGetEntityCentrality_LeafHasZeroBetweenness(t *testing.T) {
	ctx := context.Background()
	g, _ := newGraph()
	a, _ := g.CreateEntity(ctx, "person", "A", nil, 0.8)
	b, _ := g.CreateEntity(ctx, "person", "B", nil, 0.8)
	c, _ := g.CreateEntity(ctx, "person", "C", nil, 0.8)

	if _, err := g.CreateEdge(ctx, a.ID, b.ID, "knows", 1, 0.8, "j:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateEdge(ctx, b.ID, c.ID, "knows", 1, 0.8, "j:2"); err != nil {
		t.Fatal(err)
	}

	cent, err := g.GetEntityCentrality(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cent.Degree != 1 {
		t.Errorf("expected degree 1, got %d", cent.Degree)
	}
	if cent.Betweenness != 0 {
		t.Errorf("expected betweenness 0 for a leaf node, got %v", cent.Betweenness)
	}
}
