package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentChecker is the contract with the out-of-scope payment collaborator
// (Stripe billing / x402 micropayments): given a principal, report whether
// the call is allowed to proceed. Implementations are injected; this
// package never talks to a payment provider directly.
type PaymentChecker interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// PaymentGate invokes checker for free-tier, agent-authenticated requests
// only — session-authenticated and paid-tier callers always bypass it.
// On any checker error the gate fails open: a degraded payment provider
// must never turn into an outage for the memory store itself.
func PaymentGate(checker PaymentChecker, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if checker == nil {
			c.Next()
			return
		}
		p, ok := PrincipalFromCtx(c)
		if !ok || !p.IsAgent() || p.Tier == TierPaid {
			c.Next()
			return
		}

		allowed, err := checker.Allow(c.Request.Context(), p.UserID)
		if err != nil {
			logger.Warn("payment gate check failed, failing open", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(402, gin.H{
				"error": gin.H{"code": "PAYMENT_REQUIRED", "message": "payment required to continue"},
			})
			return
		}
		c.Next()
	}
}
