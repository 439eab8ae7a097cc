package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/toolfacade"
)

// GetProfile handles GET /v1/profile.
func (h *Handler) GetProfile(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "profile", consent.ActionRead) {
		return
	}
	v, err := b.Profile.Latest(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"version": v.Version, "data": v.Data}, nil)
}

// updateProfileBody is the PATCH /v1/profile request body.
type updateProfileBody struct {
	Data map[string]any `json:"data"`
}

// UpdateProfile handles PATCH /v1/profile. It routes through
// toolfacade.Memorize rather than calling Profile.Apply directly so the
// ledger, consent check, and identity-conflict guard the write pipeline
// already implements run the same way they do for an agent-originated
// profile write.
func (h *Handler) UpdateProfile(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	var body updateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	origin := ledger.OriginUserStated
	agentID := "user"
	if p.IsAgent() {
		origin = ledger.OriginAIStated
		agentID = p.AgentID
	}

	result, err := toolfacade.Memorize(c.Request.Context(), b.Services, toolfacade.MemorizeRequest{
		Category: "profile", Data: body.Data, AgentID: agentID, Origin: origin,
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	h.audit(c, b, agentID, "profile_update", "profile", body.Data)

	v, err := b.Profile.Latest(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"version":       v.Version,
		"changedFields": v.ChangedFields,
		"data":          v.Data,
	}, gin.H{"writeId": result.WriteID, "writeStatus": result.WriteStatus})
}

// GetProfileHistory handles GET /v1/profile/history?limit&offset. Session-auth
// only: an agent bearer key is never sufficient, since the version history
// exposes every prior value a field has held.
func (h *Handler) GetProfileHistory(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if p.AccountID == "" {
		fail(c, http.StatusForbidden, "FORBIDDEN", "profile history requires a signed-in session")
		return
	}
	limit, offset := pagination(c)
	versions, err := b.Profile.History(c.Request.Context(), limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"versions": versions}, nil)
}
