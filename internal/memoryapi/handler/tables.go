package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/sqlsandbox"
	"github.com/nexusmemory/corestore/internal/toolfacade"
)

// ListTables handles GET /v1/tables, returning every table registry this
// tenant has created.
func (h *Handler) ListTables(c *gin.Context) {
	b, _, proceed := h.bundle(c)
	if !proceed {
		return
	}
	registries, err := b.Tables.ListRegistries(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"tables": registries}, nil)
}

type createRecordBody struct {
	Fields map[string]any `json:"fields"`
}

// CreateRecord handles POST /v1/tables/:n/records. It routes through
// toolfacade.Memorize so a REST-originated table write carries the same
// consent check and ledger registration an agent's memorize call does.
func (h *Handler) CreateRecord(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	var body createRecordBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	agentID := agentOrUser(p)
	result, err := toolfacade.Memorize(c.Request.Context(), b.Services, toolfacade.MemorizeRequest{
		Category: c.Param("n"), Data: body.Fields, AgentID: agentID,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	h.audit(c, b, agentID, "record_create", "tables/"+c.Param("n"), body.Fields)
	ok(c, http.StatusCreated, gin.H{"sourceRef": result.SourceRef}, gin.H{
		"writeId": result.WriteID, "writeStatus": result.WriteStatus,
	})
}

type queryTableBody struct {
	SQL string `json:"sql"`
}

// QueryTable handles POST /v1/tables/:n/query. The SQL sandbox rejects
// anything but a single read-only SELECT before the statement ever
// reaches the tenant's schema.
func (h *Handler) QueryTable(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "tables/"+c.Param("n"), consent.ActionRead) {
		return
	}
	var body queryTableBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := sqlsandbox.Validate(body.SQL); err != nil {
		fail(c, http.StatusBadRequest, "SQL_REJECTED", err.Error())
		return
	}
	if b.QueryRaw == nil {
		fail(c, http.StatusNotImplemented, "NOT_IMPLEMENTED", "raw table queries are not available on this deployment")
		return
	}
	rows, err := b.QueryRaw(c.Request.Context(), body.SQL)
	if err != nil {
		writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"rows": rows}, nil)
}

type updateRecordBody struct {
	Fields map[string]any `json:"fields"`
}

// UpdateRecord handles PATCH /v1/tables/:n/records/:id.
func (h *Handler) UpdateRecord(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "tables/"+c.Param("n"), consent.ActionWrite) {
		return
	}
	var body updateRecordBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	rec, err := b.Tables.UpdateRecord(c.Request.Context(), c.Param("n"), c.Param("id"), body.Fields)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.audit(c, b, agentOrUser(p), "record_update", "tables/"+c.Param("n")+"/"+c.Param("id"), body.Fields)
	ok(c, http.StatusOK, gin.H{"record": rec}, nil)
}

// DeleteRecord handles DELETE /v1/tables/:n/records/:id. Deletes are soft:
// the row's deleted_at is set rather than the row being removed.
func (h *Handler) DeleteRecord(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if !h.requireConsent(c, b, p, "tables/"+c.Param("n"), consent.ActionWrite) {
		return
	}
	if err := b.Tables.DeleteRecord(c.Request.Context(), c.Param("n"), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	h.audit(c, b, agentOrUser(p), "record_delete", "tables/"+c.Param("n")+"/"+c.Param("id"), nil)
	c.Status(http.StatusNoContent)
}
