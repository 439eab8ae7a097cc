package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/toolfacade"
)

// ListReview handles GET /v1/memory/review. Session-auth only: review
// queues span every source an agent's memorize calls have touched, which
// an individual agent key should not be able to enumerate.
func (h *Handler) ListReview(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if p.AccountID == "" {
		fail(c, http.StatusForbidden, "FORBIDDEN", "memory review requires a signed-in session")
		return
	}
	result, err := toolfacade.Review(c.Request.Context(), b.Services, toolfacade.ReviewRequest{Action: toolfacade.ReviewList})
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, result, nil)
}

type resolveReviewBody struct {
	Resolution ledger.ResolveAction `json:"resolution"`
}

// ResolveReview handles POST /v1/memory/review/:id/resolve.
func (h *Handler) ResolveReview(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	var body resolveReviewBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := toolfacade.Review(c.Request.Context(), b.Services, toolfacade.ReviewRequest{
		Action: toolfacade.ReviewResolve, MetaID: c.Param("id"), Resolution: body.Resolution,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	h.audit(c, b, agentOrUser(p), "review_resolve", "memory/"+c.Param("id"), gin.H{"resolution": body.Resolution})
	ok(c, http.StatusOK, result, nil)
}

// MemoryStats handles GET /v1/memory/stats: a per-status count of every
// row in the memory-quality ledger.
func (h *Handler) MemoryStats(c *gin.Context) {
	b, _, proceed := h.bundle(c)
	if !proceed {
		return
	}
	stats, err := b.Ledger.Stats(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"statusCounts": stats}, nil)
}
