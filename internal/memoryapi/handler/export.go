package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/tablestore"
)

// exportTable pairs a table's registry with every record it holds.
type exportTable struct {
	Registry *tablestore.Registry   `json:"registry"`
	Records  []*tablestore.Record   `json:"records"`
}

// Export handles GET /v1/export: the tenant's latest profile version,
// every table's registry and records, every graph entity, and per-status
// ledger counts. Vectors, graph edges and individual ledger rows are not
// included.
func (h *Handler) Export(c *gin.Context) {
	b, p, proceed := h.bundle(c)
	if !proceed {
		return
	}
	if p.AccountID == "" {
		fail(c, http.StatusForbidden, "FORBIDDEN", "export requires a signed-in session")
		return
	}
	ctx := c.Request.Context()

	profileVersion, err := b.Profile.Latest(ctx)
	if err != nil {
		writeErr(c, err)
		return
	}

	registries, err := b.Tables.ListRegistries(ctx)
	if err != nil {
		writeErr(c, err)
		return
	}
	// exportBatchSize stands in for "every row": both Store
	// implementations treat limit<=0 inconsistently (memory-store means
	// unbounded, Postgres means zero rows), so export asks for a large
	// fixed page instead of relying on that to mean "all".
	const exportBatchSize = 100000

	tables := make([]exportTable, 0, len(registries))
	for _, reg := range registries {
		records, err := b.Tables.ListRecords(ctx, reg.TableName, exportBatchSize, 0)
		if err != nil {
			writeErr(c, err)
			return
		}
		tables = append(tables, exportTable{Registry: reg, Records: records})
	}

	entities, err := b.Graph.ListEntities(ctx, "", 0, exportBatchSize, 0)
	if err != nil {
		writeErr(c, err)
		return
	}

	ledgerStats, err := b.Ledger.Stats(ctx)
	if err != nil {
		writeErr(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{
		"profile":     profileVersion,
		"tables":      tables,
		"entities":    entities,
		"ledgerStats": ledgerStats,
	}, nil)
}
