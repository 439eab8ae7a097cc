package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/auditlog"
)

// ListActivity handles GET /v1/activity?agentId&action&resource&limit&offset.
// The audit chain only exposes Recent(limit), so filtering and the offset
// window are applied here rather than pushed into the store.
func (h *Handler) ListActivity(c *gin.Context) {
	b, _, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if b.Audit == nil {
		ok(c, http.StatusOK, gin.H{"entries": []any{}}, nil)
		return
	}
	limit, offset := pagination(c)
	agentID := c.Query("agentId")
	action := c.Query("action")
	resource := c.Query("resource")

	fetch := offset + limit
	if fetch < 500 {
		fetch = 500
	}
	entries, err := b.Audit.Recent(c.Request.Context(), fetch)
	if err != nil {
		writeErr(c, err)
		return
	}

	filtered := make([]*auditlog.Entry, 0, len(entries))
	for _, e := range entries {
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		if action != "" && e.Action != action {
			continue
		}
		if resource != "" && e.Resource != resource {
			continue
		}
		filtered = append(filtered, e)
	}
	if offset >= len(filtered) {
		ok(c, http.StatusOK, gin.H{"entries": []*auditlog.Entry{}}, nil)
		return
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	ok(c, http.StatusOK, gin.H{"entries": filtered[offset:end]}, nil)
}
