package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/consent"
)

type addVectorBody struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// AddVector handles POST /v1/vectors/:c/add. Embedding happens inline
// since there is no ledger pipeline wrapping a raw vector write the way
// memorize wraps memory-text writes — the caller already named the
// collection explicitly. The consent gate still runs, same as memorize.
func (h *Handler) AddVector(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "vectors/"+c.Param("c"), consent.ActionWrite) {
		return
	}
	var body addVectorBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if b.Embedder == nil {
		fail(c, http.StatusServiceUnavailable, "EMBEDDING_UNAVAILABLE", "no embedding provider is configured")
		return
	}
	embedding, err := b.Embedder.Embed(c.Request.Context(), body.Text)
	if err != nil {
		writeErr(c, err)
		return
	}
	vec, err := b.Vectors.Insert(c.Request.Context(), c.Param("c"), body.Text, embedding, body.Metadata, "")
	if err != nil {
		writeErr(c, err)
		return
	}
	h.audit(c, b, agentOrUser(p), "vector_add", "vectors/"+c.Param("c"), gin.H{"id": vec.ID})
	ok(c, http.StatusCreated, gin.H{"id": vec.ID}, nil)
}

type searchVectorsBody struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// SearchVectors handles POST /v1/vectors/:c/search.
func (h *Handler) SearchVectors(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "vectors/"+c.Param("c"), consent.ActionRead) {
		return
	}
	var body searchVectorsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if b.Embedder == nil {
		fail(c, http.StatusServiceUnavailable, "EMBEDDING_UNAVAILABLE", "no embedding provider is configured")
		return
	}
	topK := body.TopK
	if topK <= 0 {
		topK = 10
	}
	embedding, err := b.Embedder.Embed(c.Request.Context(), body.Query)
	if err != nil {
		writeErr(c, err)
		return
	}
	matches, err := b.Vectors.Search(c.Request.Context(), c.Param("c"), embedding, topK)
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"matches": matches}, nil)
}
