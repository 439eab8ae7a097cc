package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexusmemory/corestore/internal/auditlog"
)

// mutatingMethods are the HTTP verbs Audit appends an entry for. GET/HEAD
// requests never mutate state, so they are not audited here; nothing in
// the request path records reads elsewhere either.
var mutatingMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true, "DELETE": true}

// Audit appends one auditlog entry per mutating call, after the handler
// has run so the recorded status code reflects the actual outcome.
// logFor resolves the tenant-scoped auditlog.Log for the current
// Principal's UserID; a nil Log (e.g. principal unresolved) skips
// auditing rather than failing the request.
func Audit(logFor func(userID string) auditlog.Log, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		c.Next()

		if !mutatingMethods[c.Request.Method] {
			return
		}
		p, ok := PrincipalFromCtx(c)
		if !ok {
			return
		}
		log := logFor(p.UserID)
		if log == nil {
			return
		}

		agentID := p.AgentID
		if agentID == "" {
			agentID = p.AccountID
		}
		details := map[string]any{
			"method": c.Request.Method,
			"status": c.Writer.Status(),
		}
		if _, err := log.Append(c.Request.Context(), agentID, c.Request.Method, c.FullPath(), details); err != nil {
			logger.Warn("audit append failed", zap.Error(err), zap.String("path", c.FullPath()))
		}
	}
}
