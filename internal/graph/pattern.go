package graph

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrUnrecognizedPattern is returned when a query string matches none of
// the fixed grammar templates.
var ErrUnrecognizedPattern = errors.New("GRAPH_UNRECOGNIZED_PATTERN")

// patternTemplate is one fixed-grammar question shape, parsed to a filter
// expression. These are intentionally not free-form NLP: a small,
// reviewable set of regexes, each mapped to a concrete relation/direction.
type patternTemplate struct {
	re       *regexp.Regexp
	relation string
	dir      Direction
}

var patternTemplates = []patternTemplate{
	{regexp.MustCompile(`(?i)^what (do|does) i like\??$`), "likes", DirectionOut},
	{regexp.MustCompile(`(?i)^where do i (\w+)\??$`), "locates_at", DirectionOut},
	{regexp.MustCompile(`(?i)^who do i (\w+) with\??$`), "does_with", DirectionOut},
}

// QueryResult is the outcome of a pattern query: the entities reachable
// from startID via the matched relation.
type QueryResult struct {
	Relation string
	Entities []*Entity
}

// QueryPattern parses pattern against the fixed template set and resolves
// it to neighbor entities of startID.
func (g *Graph) QueryPattern(ctx context.Context, startID, pattern string) (*QueryResult, error) {
	trimmed := strings.TrimSpace(pattern)
	for _, tpl := range patternTemplates {
		if !tpl.re.MatchString(trimmed) {
			continue
		}
		edges, err := g.store.ListEdges(ctx, startID, tpl.dir, tpl.relation, 0)
		if err != nil {
			return nil, err
		}
		var entities []*Entity
		for _, e := range edges {
			id := e.TargetID
			if tpl.dir == DirectionIn {
				id = e.SourceID
			}
			entity, err := g.store.GetEntity(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			entities = append(entities, entity)
		}
		return &QueryResult{Relation: tpl.relation, Entities: entities}, nil
	}
	return nil, ErrUnrecognizedPattern
}
