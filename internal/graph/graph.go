// Package graph implements the typed knowledge graph store: entities and
// the edges between them, with idempotent creation, BFS traversal, and the
// handful of analytic queries the tool facade exposes (centrality,
// clustering coefficient, pattern queries).
package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when an operation names an unknown entity or edge.
var ErrNotFound = errors.New("GRAPH_NOT_FOUND")

// maxEdgeWeight is the ceiling weight-accumulation clamps to.
const maxEdgeWeight = 100.0

// Direction filters getNeighbors/traverse by edge direction relative to a node.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Entity is a node in the graph.
type Entity struct {
	ID        string
	Type      string
	Name      string
	Properties map[string]any
	Confidence float64
	MentionCount int
	FirstSeen time.Time
	LastSeen  time.Time
	DeletedAt *time.Time
}

// Evidence is one append-only observation supporting an edge.
type Evidence struct {
	SourceRef string    `json:"source_ref"`
	At        time.Time `json:"at"`
}

// Edge is a directed, typed relation between two entities.
type Edge struct {
	ID         string
	SourceID   string
	TargetID   string
	Relation   string
	Weight     float64
	Confidence float64
	Evidence   []Evidence
	Properties map[string]any
	FirstSeen  time.Time
	LastSeen   time.Time
	DeletedAt  *time.Time
}

// Store persists entities and edges for one tenant namespace.
type Store interface {
	UpsertEntity(ctx context.Context, e *Entity) (*Entity, bool, error) // bool = created
	GetEntity(ctx context.Context, id string) (*Entity, error)
	UpdateEntity(ctx context.Context, e *Entity) error
	SoftDeleteEntity(ctx context.Context, id string) error
	ListEntities(ctx context.Context, entityType string, minConfidence float64, limit, offset int) ([]*Entity, error)
	FindEntityByName(ctx context.Context, entityType, name string) ([]*Entity, error)

	UpsertEdge(ctx context.Context, e *Edge) (*Edge, bool, error)
	GetEdge(ctx context.Context, id string) (*Edge, error)
	UpdateEdge(ctx context.Context, e *Edge) error
	SoftDeleteEdge(ctx context.Context, id string) error
	ListEdges(ctx context.Context, entityID string, dir Direction, relation string, minConfidence float64) ([]*Edge, error)

	AllEntities(ctx context.Context) ([]*Entity, error)
	AllEdges(ctx context.Context) ([]*Edge, error)
}

// Graph implements the §4.6 operations against a Store.
type Graph struct {
	store Store
	newID func() string
	now   func() time.Time
}

// New creates a Graph.
func New(store Store, idFunc func() string, nowFunc func() time.Time) *Graph {
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC() }
	}
	return &Graph{store: store, newID: idFunc, now: nowFunc}
}

// CreateEntity idempotently creates or mention-bumps an entity, keyed on
// (type, lower(name)) among undeleted rows.
func (g *Graph) CreateEntity(ctx context.Context, entityType, name string, properties map[string]any, confidence float64) (*Entity, error) {
	now := g.now()
	candidate := &Entity{
		ID: g.newID(), Type: entityType, Name: name, Properties: properties,
		Confidence: confidence, MentionCount: 1, FirstSeen: now, LastSeen: now,
	}
	entity, created, err := g.store.UpsertEntity(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !created {
		entity.MentionCount++
		entity.LastSeen = now
		if err := g.store.UpdateEntity(ctx, entity); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

func (g *Graph) GetEntity(ctx context.Context, id string) (*Entity, error) {
	return g.store.GetEntity(ctx, id)
}

// UpdateEntity merges properties into the existing entity rather than
// replacing them wholesale.
func (g *Graph) UpdateEntity(ctx context.Context, id string, properties map[string]any, confidence *float64) (*Entity, error) {
	e, err := g.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	for k, v := range properties {
		e.Properties[k] = v
	}
	if confidence != nil {
		e.Confidence = *confidence
	}
	e.LastSeen = g.now()
	if err := g.store.UpdateEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEntity soft-deletes an entity; the caller is responsible for
// flipping the corresponding memory_meta row's status to rejected.
func (g *Graph) DeleteEntity(ctx context.Context, id string) error {
	return g.store.SoftDeleteEntity(ctx, id)
}

func (g *Graph) ListEntities(ctx context.Context, entityType string, minConfidence float64, limit, offset int) ([]*Entity, error) {
	entities, err := g.store.ListEntities(ctx, entityType, minConfidence, limit, offset)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Confidence != entities[j].Confidence {
			return entities[i].Confidence > entities[j].Confidence
		}
		return entities[i].Name < entities[j].Name
	})
	return entities, nil
}

// FindByName looks for an exact match first, then falls back to a
// substring (fuzzy) match ordered by how much of the candidate name the
// query covers — a stand-in for trigram similarity that does not require
// the pg_trgm extension to be present.
func (g *Graph) FindByName(ctx context.Context, entityType, name string) ([]*Entity, error) {
	exact, err := g.store.FindEntityByName(ctx, entityType, name)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return exact, nil
	}

	all, err := g.store.ListEntities(ctx, entityType, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	var fuzzy []*Entity
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.Name), needle) {
			fuzzy = append(fuzzy, e)
		}
	}
	sort.SliceStable(fuzzy, func(i, j int) bool {
		return similarity(needle, strings.ToLower(fuzzy[i].Name)) > similarity(needle, strings.ToLower(fuzzy[j].Name))
	})
	return fuzzy, nil
}

// similarity scores how much of candidate the needle covers; a crude proxy
// for trigram similarity sufficient for ranking fuzzy name matches.
func similarity(needle, candidate string) float64 {
	if len(candidate) == 0 {
		return 0
	}
	return float64(len(needle)) / float64(len(candidate))
}

// CreateEdge idempotently creates an edge keyed on (source, target,
// relation); a repeat observation accumulates weight rather than
// duplicating the row, clamped to maxEdgeWeight.
func (g *Graph) CreateEdge(ctx context.Context, sourceID, targetID, relation string, weight, confidence float64, sourceRef string) (*Edge, error) {
	now := g.now()
	candidate := &Edge{
		ID: g.newID(), SourceID: sourceID, TargetID: targetID, Relation: relation,
		Weight: weight, Confidence: confidence, FirstSeen: now, LastSeen: now,
		Evidence: []Evidence{{SourceRef: sourceRef, At: now}},
	}
	edge, created, err := g.store.UpsertEdge(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !created {
		edge.Weight = clampWeight(edge.Weight + weight)
		edge.LastSeen = now
		edge.Evidence = append(edge.Evidence, Evidence{SourceRef: sourceRef, At: now})
		if err := g.store.UpdateEdge(ctx, edge); err != nil {
			return nil, err
		}
	}
	return edge, nil
}

func clampWeight(w float64) float64 {
	if w > maxEdgeWeight {
		return maxEdgeWeight
	}
	return w
}

func (g *Graph) UpdateEdge(ctx context.Context, id string, properties map[string]any, confidence *float64) (*Edge, error) {
	e, err := g.store.GetEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	for k, v := range properties {
		e.Properties[k] = v
	}
	if confidence != nil {
		e.Confidence = *confidence
	}
	e.LastSeen = g.now()
	if err := g.store.UpdateEdge(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (g *Graph) DeleteEdge(ctx context.Context, id string) error {
	return g.store.SoftDeleteEdge(ctx, id)
}

// GetNeighbors returns edges touching entityID, sorted by weight DESC
//.
func (g *Graph) GetNeighbors(ctx context.Context, entityID string, dir Direction, relation string, minConfidence float64) ([]*Edge, error) {
	edges, err := g.store.ListEdges(ctx, entityID, dir, relation, minConfidence)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
	return edges, nil
}

// TraverseOptions bounds a BFS traversal.
type TraverseOptions struct {
	MaxDepth      int
	RelationFilter string
	TypeFilter    string
	ConfidenceMin float64
	Limit         int
}

// Traverse performs a breadth-first walk from startID along outgoing edges,
// visiting each node at most once, and respecting every filter in opts. It never recurses —
// the frontier is an explicit queue — so traversal depth is bounded only
// by opts.MaxDepth, not by Go's call stack.
func (g *Graph) Traverse(ctx context.Context, startID string, opts TraverseOptions) ([]*Entity, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}
	visited := map[string]bool{startID: true}
	type frontierNode struct {
		id    string
		depth int
	}
	queue := []frontierNode{{id: startID, depth: 0}}
	var out []*Entity

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.depth >= opts.MaxDepth {
			continue
		}

		edges, err := g.store.ListEdges(ctx, node.id, DirectionOut, opts.RelationFilter, opts.ConfidenceMin)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			next := e.TargetID
			if next == node.id {
				next = e.SourceID
			}
			if visited[next] {
				continue
			}
			entity, err := g.store.GetEntity(ctx, next)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			if entity.DeletedAt != nil {
				continue
			}
			if opts.TypeFilter != "" && entity.Type != opts.TypeFilter {
				continue
			}
			visited[next] = true
			out = append(out, entity)
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return out, nil
			}
			queue = append(queue, frontierNode{id: next, depth: node.depth + 1})
		}
	}
	return out, nil
}

// GetPathBetween returns the shortest path (by hop count, not weight) from
// a to b within maxDepth hops, or nil if none exists.
func (g *Graph) GetPathBetween(ctx context.Context, a, b string, maxDepth int) ([]string, error) {
	if a == b {
		return []string{a}, nil
	}
	type frontierNode struct {
		id   string
		path []string
	}
	visited := map[string]bool{a: true}
	queue := []frontierNode{{id: a, path: []string{a}}}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if len(node.path)-1 >= maxDepth {
			continue
		}
		edges, err := g.store.ListEdges(ctx, node.id, DirectionBoth, "", 0)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			next := e.TargetID
			if next == node.id {
				next = e.SourceID
			}
			if visited[next] {
				continue
			}
			path := append(append([]string{}, node.path...), next)
			if next == b {
				return path, nil
			}
			visited[next] = true
			queue = append(queue, frontierNode{id: next, path: path})
		}
	}
	return nil, nil
}

// Stats summarizes the graph's size.
type Stats struct {
	EntityCount int
	EdgeCount   int
	TypeCounts  map[string]int
}

func (g *Graph) GetGraphStats(ctx context.Context) (*Stats, error) {
	entities, err := g.store.AllEntities(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := g.store.AllEdges(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TypeCounts: make(map[string]int)}
	for _, e := range entities {
		if e.DeletedAt != nil {
			continue
		}
		stats.EntityCount++
		stats.TypeCounts[e.Type]++
	}
	for _, e := range edges {
		if e.DeletedAt == nil {
			stats.EdgeCount++
		}
	}
	return stats, nil
}

// centralityMaxDepth bounds the shortest-path search GetEntityCentrality
// runs for every other pair of entities, keeping the otherwise O(V^2)
// betweenness pass from walking arbitrarily deep chains.
const centralityMaxDepth = 6

// Centrality is GetEntityCentrality's result.
type Centrality struct {
	Degree      int     `json:"degree"`
	Weighted    float64 `json:"weighted"`
	Betweenness float64 `json:"betweenness"`
}

// GetEntityCentrality reports degree centrality (raw edge count), weighted
// centrality (sum of edge weights), and an approximate betweenness for
// entityID: the fraction of other-entity-pair shortest paths, among pairs
// reachable within centralityMaxDepth hops, that pass through entityID.
// Each pair's shortest path is the single path GetPathBetween finds, not
// every shortest path tied for that length, since this store has no
// native graph engine to enumerate them all.
func (g *Graph) GetEntityCentrality(ctx context.Context, entityID string) (Centrality, error) {
	edges, err := g.store.ListEdges(ctx, entityID, DirectionBoth, "", 0)
	if err != nil {
		return Centrality{}, err
	}
	cent := Centrality{}
	for _, e := range edges {
		cent.Degree++
		cent.Weighted += e.Weight
	}

	entities, err := g.store.AllEntities(ctx)
	if err != nil {
		return Centrality{}, err
	}
	others := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.DeletedAt != nil || e.ID == entityID {
			continue
		}
		others = append(others, e.ID)
	}

	var pairs, through int
	for i := 0; i < len(others); i++ {
		for j := i + 1; j < len(others); j++ {
			path, perr := g.GetPathBetween(ctx, others[i], others[j], centralityMaxDepth)
			if perr != nil || path == nil {
				continue
			}
			pairs++
			if len(path) < 3 {
				continue // a direct edge has no interior node to credit
			}
			for _, id := range path[1 : len(path)-1] {
				if id == entityID {
					through++
					break
				}
			}
		}
	}
	if pairs > 0 {
		cent.Betweenness = float64(through) / float64(pairs)
	}
	return cent, nil
}

// GetClusteringCoefficient computes the local clustering coefficient of
// entityID: the fraction of entityID's neighbor pairs that are themselves
// connected.
func (g *Graph) GetClusteringCoefficient(ctx context.Context, entityID string) (float64, error) {
	edges, err := g.store.ListEdges(ctx, entityID, DirectionBoth, "", 0)
	if err != nil {
		return 0, err
	}
	neighborSet := make(map[string]bool)
	for _, e := range edges {
		n := e.TargetID
		if n == entityID {
			n = e.SourceID
		}
		neighborSet[n] = true
	}
	neighbors := make([]string, 0, len(neighborSet))
	for n := range neighborSet {
		neighbors = append(neighbors, n)
	}
	if len(neighbors) < 2 {
		return 0, nil
	}

	links := 0
	possible := len(neighbors) * (len(neighbors) - 1) / 2
	for i := 0; i < len(neighbors); i++ {
		neighborEdges, err := g.store.ListEdges(ctx, neighbors[i], DirectionBoth, "", 0)
		if err != nil {
			return 0, err
		}
		for _, e := range neighborEdges {
			other := e.TargetID
			if other == neighbors[i] {
				other = e.SourceID
			}
			for j := i + 1; j < len(neighbors); j++ {
				if neighbors[j] == other {
					links++
				}
			}
		}
	}
	return float64(links) / float64(possible), nil
}
