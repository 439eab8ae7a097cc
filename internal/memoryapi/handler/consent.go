package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/consent"
)

type consentPermissionBody struct {
	Resource   string             `json:"resource"`
	Permission consent.Permission `json:"permission"`
}

type updateConsentBody struct {
	Permissions []consentPermissionBody `json:"permissions"`
}

// consentResourcePrefixes are the only resource families a consent rule
// may name, matching the resource strings toolfacade.Recall and
// ingest.Pipeline.Ingest actually check against.
var consentResourcePrefixes = []string{"profile", "tables", "vectors", "graph", "memory"}

func validConsentResource(resource string) bool {
	for _, prefix := range consentResourcePrefixes {
		if resource == prefix || strings.HasPrefix(resource, prefix+"/") {
			return true
		}
	}
	return false
}

// UpdateConsent handles PATCH /v1/consent/:agent. Session-auth only: an
// agent API key must never be able to grant or revoke its own (or any
// other agent's) permissions. Setting a permission to "none" stores a deny
// rule, which consent.Engine.Check honours even where a broader rule would
// grant access; an empty permission revokes the rule for that resource.
func (h *Handler) UpdateConsent(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if p.AccountID == "" {
		fail(c, http.StatusForbidden, "FORBIDDEN", "consent changes require a signed-in session")
		return
	}
	var body updateConsentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if len(body.Permissions) == 0 {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", "permissions is required")
		return
	}

	agentID := c.Param("agent")
	for _, perm := range body.Permissions {
		if !validConsentResource(perm.Resource) {
			fail(c, http.StatusBadRequest, "BAD_REQUEST", "unknown resource: "+perm.Resource)
			return
		}
		switch perm.Permission {
		case consent.PermissionRead, consent.PermissionWrite, consent.PermissionNone:
			if err := b.Consent.Grant(c.Request.Context(), agentID, perm.Resource, perm.Permission); err != nil {
				writeErr(c, err)
				return
			}
		case "":
			if err := b.Consent.Revoke(c.Request.Context(), agentID, perm.Resource); err != nil {
				writeErr(c, err)
				return
			}
		default:
			fail(c, http.StatusBadRequest, "BAD_REQUEST", "unknown permission value")
			return
		}
	}

	rules, err := b.Consent.ListActiveForAgent(c.Request.Context(), agentID)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.audit(c, b, agentOrUser(p), "consent_update", "consent/"+agentID, body)
	ok(c, http.StatusOK, gin.H{"rules": rules}, nil)
}
