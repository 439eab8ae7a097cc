package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/graph"
)

// ListEntities handles GET /v1/graph/entities?type&minConfidence&limit&offset.
func (h *Handler) ListEntities(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "graph", consent.ActionRead) {
		return
	}
	limit, offset := pagination(c)
	minConfidence, _ := strconv.ParseFloat(c.DefaultQuery("minConfidence", "0"), 64)
	entities, err := b.Graph.ListEntities(c.Request.Context(), c.Query("type"), minConfidence, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"entities": entities}, nil)
}

// GetEntity handles GET /v1/graph/entities/:id.
func (h *Handler) GetEntity(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "graph", consent.ActionRead) {
		return
	}
	entity, err := b.Graph.GetEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"entity": entity}, nil)
}

// GetNeighbors handles GET /v1/graph/entities/:id/neighbors?dir&relation&minConfidence.
func (h *Handler) GetNeighbors(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "graph", consent.ActionRead) {
		return
	}
	dir := graph.Direction(c.DefaultQuery("dir", string(graph.DirectionBoth)))
	minConfidence, _ := strconv.ParseFloat(c.DefaultQuery("minConfidence", "0"), 64)
	edges, err := b.Graph.GetNeighbors(c.Request.Context(), c.Param("id"), dir, c.Query("relation"), minConfidence)
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"edges": edges}, nil)
}

type traverseBody struct {
	StartID       string  `json:"startId"`
	MaxDepth      int     `json:"maxDepth"`
	RelationFilter string `json:"relationFilter"`
	TypeFilter    string  `json:"typeFilter"`
	ConfidenceMin float64 `json:"confidenceMin"`
	Limit         int     `json:"limit"`
}

// Traverse handles POST /v1/graph/traverse.
func (h *Handler) Traverse(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "graph", consent.ActionRead) {
		return
	}
	var body traverseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	entities, err := b.Graph.Traverse(c.Request.Context(), body.StartID, graph.TraverseOptions{
		MaxDepth:       body.MaxDepth,
		RelationFilter: body.RelationFilter,
		TypeFilter:     body.TypeFilter,
		ConfidenceMin:  body.ConfidenceMin,
		Limit:          body.Limit,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"entities": entities}, nil)
}

type queryPatternBody struct {
	StartID string `json:"startId"`
	Pattern string `json:"pattern"`
}

// QueryPattern handles POST /v1/graph/query and POST /v1/graph/pattern —
// both names reach the same fixed-grammar pattern query.
func (h *Handler) QueryPattern(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "graph", consent.ActionRead) {
		return
	}
	var body queryPatternBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := b.Graph.QueryPattern(c.Request.Context(), body.StartID, body.Pattern)
	if err != nil {
		if errors.Is(err, graph.ErrUnrecognizedPattern) {
			fail(c, http.StatusBadRequest, "UNRECOGNIZED_PATTERN", err.Error())
			return
		}
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"relation": result.Relation, "entities": result.Entities}, nil)
}

// GraphStats handles GET /v1/graph/stats.
func (h *Handler) GraphStats(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "graph", consent.ActionRead) {
		return
	}
	stats, err := b.Graph.GetGraphStats(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"stats": stats}, nil)
}

// GetEntityCentrality handles GET /v1/graph/entities/:id/centrality.
func (h *Handler) GetEntityCentrality(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "graph", consent.ActionRead) {
		return
	}
	cent, err := b.Graph.GetEntityCentrality(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"centrality": cent}, nil)
}
