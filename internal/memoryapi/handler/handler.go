// Package handler implements the REST surface over the same tenant-scoped
// components internal/toolfacade wraps for the MCP transport: one file per
// resource group, a single Handler type whose Register(*gin.RouterGroup)
// method wires every route, and a {data, meta} / {error:{code, message}} JSON envelope on
// every response.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexusmemory/corestore/internal/agentprincipal"
	"github.com/nexusmemory/corestore/internal/auditlog"
	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/middleware"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/toolfacade"
)

// Bundle is the tenant-scoped set of component handles one REST request
// needs. It embeds *toolfacade.Services so handlers can call
// toolfacade.Memorize/Recall/Review directly, plus the two handles the
// facade's three stable tools don't expose: agent principal management
// and the audit log.
type Bundle struct {
	*toolfacade.Services
	Agents *agentprincipal.Registry
	Audit  auditlog.Log

	// QueryRaw runs a sandbox-validated, read-only SQL statement against
	// this tenant's schema and returns each row as a column-name-keyed
	// map. The transport supplies it already bound to the caller's
	// search_path, the same way every other repository in this system is
	// scoped to one tenant's namespace.
	QueryRaw func(ctx context.Context, sql string) ([]map[string]any, error)
}

// ServicesFor resolves the caller's tenant-scoped Bundle and Principal for
// one request. A transport (cmd/memoryserver) supplies this — it is the
// seam where middleware.PrincipalFromCtx's output is turned into concrete
// storage handles bound to that principal's tenant schema.
type ServicesFor func(c *gin.Context) (*Bundle, middleware.Principal, error)

// Handler groups every REST resource handler behind one Register call.
type Handler struct {
	servicesFor ServicesFor
	logger      *zap.Logger
}

// New creates a Handler. logger may be nil.
func New(servicesFor ServicesFor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{servicesFor: servicesFor, logger: logger}
}

// Register wires every route this package serves onto rg. rg is expected
// to already sit behind middleware.AuthResolver; individual routes that
// need a signed-in account rather than any principal layer
// middleware.RequirePrincipal plus their own AccountID check.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/profile", h.GetProfile)
	rg.PATCH("/profile", h.UpdateProfile)
	rg.GET("/profile/history", h.GetProfileHistory)

	rg.GET("/tables", h.ListTables)
	rg.POST("/tables/:n/records", h.CreateRecord)
	rg.POST("/tables/:n/query", h.QueryTable)
	rg.PATCH("/tables/:n/records/:id", h.UpdateRecord)
	rg.DELETE("/tables/:n/records/:id", h.DeleteRecord)

	rg.POST("/vectors/:c/add", h.AddVector)
	rg.POST("/vectors/:c/search", h.SearchVectors)

	rg.GET("/graph/entities", h.ListEntities)
	rg.GET("/graph/entities/:id", h.GetEntity)
	rg.GET("/graph/entities/:id/neighbors", h.GetNeighbors)
	rg.GET("/graph/entities/:id/centrality", h.GetEntityCentrality)
	rg.POST("/graph/traverse", h.Traverse)
	rg.POST("/graph/query", h.QueryPattern)
	rg.POST("/graph/pattern", h.QueryPattern)
	rg.GET("/graph/stats", h.GraphStats)

	rg.GET("/memory/review", h.ListReview)
	rg.POST("/memory/review/:id/resolve", h.ResolveReview)
	rg.GET("/memory/stats", h.MemoryStats)

	rg.PATCH("/consent/:agent", h.UpdateConsent)

	rg.GET("/activity", h.ListActivity)
	rg.DELETE("/agents/:id", h.DeleteAgent)
	rg.GET("/export", h.Export)
}

// ── envelope helpers ─────────────────────────────────────────────────────

func ok(c *gin.Context, status int, data any, meta map[string]any) {
	body := gin.H{"data": data}
	if meta != nil {
		body["meta"] = meta
	}
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// writeErr maps a domain error to the REST envelope's status/code pair,
// following the taxonomy error handling design lays out: validation and
// not-found errors surface directly, anything unrecognized becomes a
// generic 500 INTERNAL rather than leaking internals.
func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrConsentDenied):
		fail(c, http.StatusForbidden, "CONSENT_DENIED", err.Error())
	case errors.Is(err, ingest.ErrIdentityConflict):
		fail(c, http.StatusConflict, "IDENTITY_CONFLICT", err.Error())
	case errors.Is(err, tablestore.ErrInvalidTableName):
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, tablestore.ErrNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ledger.ErrInvalidState):
		fail(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, agentprincipal.ErrNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, toolfacade.ErrUnknownCategory):
		fail(c, http.StatusBadRequest, "INVALID_ARGS", err.Error())
	default:
		fail(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (h *Handler) bundle(c *gin.Context) (*Bundle, middleware.Principal, bool) {
	b, principal, err := h.servicesFor(c)
	if err != nil {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return nil, middleware.Principal{}, false
	}
	return b, principal, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// audit is a best-effort append; failures are logged and swallowed per the
// error handling design's "best-effort post-write steps" rule.
func (h *Handler) audit(c *gin.Context, b *Bundle, agentID, action, resource string, details any) {
	if b.Audit == nil {
		return
	}
	if _, err := b.Audit.Append(c.Request.Context(), agentID, action, resource, details); err != nil {
		h.logger.Warn("audit append failed", zap.Error(err), zap.String("action", action))
	}
}

// agentOrUser returns the principal's agent id, or "user" for a signed-in
// session; it is the actor id consent checks and audit entries use.
func agentOrUser(p middleware.Principal) string {
	if p.IsAgent() {
		return p.AgentID
	}
	return "user"
}

// requireConsent enforces a consent check before a handler touches a
// store directly, the same resource/action gate ingest.Pipeline.Ingest
// runs for every write toolfacade.Memorize makes. Handlers that bypass
// Memorize/Recall (raw vector, table-record, and graph reads/writes) call
// this themselves so every agent-initiated access is gated, not just the
// ones that happen to go through the facade.
func (h *Handler) requireConsent(c *gin.Context, b *Bundle, p middleware.Principal, resource string, action consent.Action) bool {
	allowed, err := b.Consent.Check(c.Request.Context(), agentOrUser(p), resource, action)
	if err != nil {
		writeErr(c, err)
		return false
	}
	if !allowed {
		fail(c, http.StatusForbidden, "CONSENT_DENIED", "consent denied for "+resource)
		return false
	}
	return true
}
