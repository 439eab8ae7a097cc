package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DeleteAgent handles DELETE /v1/agents/:id. Only a signed-in session may
// revoke an agent's credential; an agent can never delete itself or any
// other agent through this route.
func (h *Handler) DeleteAgent(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if p.AccountID == "" {
		fail(c, http.StatusForbidden, "FORBIDDEN", "deleting an agent requires a signed-in session")
		return
	}
	if err := b.Agents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	h.audit(c, b, "user", "agent_delete", "agents/"+c.Param("id"), nil)
	c.Status(http.StatusNoContent)
}
