// Package middleware implements the request-level concerns every transport
// (REST, JSON-RPC) runs through before reaching a handler: resolving the
// calling principal, rate limiting, and the payment gate. The ordering
// follows the request lifecycle: CORS, auth, rate limit, payment gate —
// consent is checked inside the handlers themselves since it needs
// resource-level context a generic middleware does not have. Audit
// (audit.go) records one entry per mutating request, and handlers append
// their own resource-level audit entries as well.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/account"
	"github.com/nexusmemory/corestore/internal/agentprincipal"
)

const ctxPrincipal = "corestore_principal"

// Tier selects which rate-limit bucket a request is billed against.
type Tier string

const (
	TierUnauthenticated Tier = "unauth"
	TierFree            Tier = "free"
	TierPaid            Tier = "paid"
)

// Principal is the resolved caller of a request: either a signed-in
// account (session cookie) or an agent (API key) acting on behalf of a
// tenant. Exactly one of AccountID/AgentID is non-empty.
type Principal struct {
	UserID    string // tenant-owning user id; always set once resolved
	AccountID string
	AgentID   string
	Tier      Tier
}

func (p Principal) IsAgent() bool { return p.AgentID != "" }

// accountAuthenticator is the narrow interface AuthResolver needs from
// *account.Manager.
type accountAuthenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*account.Account, error)
}

// AuthResolver resolves the session-cookie-or-API-key principal for a
// request and injects it into the Gin context. It never aborts by
// itself — routes that require authentication use RequirePrincipal.
type AuthResolver struct {
	accounts   accountAuthenticator
	keyIndex   agentprincipal.KeyIndex
	cookieName string
}

// NewAuthResolver creates an AuthResolver. keyIndex resolves a bearer
// agent API key to its owning tenant before the per-tenant
// agentprincipal.Registry can be consulted — see agentprincipal.KeyIndex.
func NewAuthResolver(accounts accountAuthenticator, keyIndex agentprincipal.KeyIndex, cookieName string) *AuthResolver {
	if cookieName == "" {
		cookieName = "corestore_session"
	}
	return &AuthResolver{accounts: accounts, keyIndex: keyIndex, cookieName: cookieName}
}

// Resolve returns Gin middleware that tries a session cookie first, then
// an `Authorization: Bearer` agent API key, and injects whichever
// Principal it finds. A request with neither proceeds as anonymous
// (zero-value Principal) — RequirePrincipal is what actually rejects it.
func (a *AuthResolver) Resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if cookie, err := c.Cookie(a.cookieName); err == nil && cookie != "" {
			if acc, err := a.accounts.Authenticate(ctx, cookie); err == nil {
				c.Set(ctxPrincipal, Principal{UserID: acc.ID, AccountID: acc.ID, Tier: TierFree})
				c.Next()
				return
			}
		}

		if key, ok := bearerToken(c); ok && a.keyIndex != nil {
			if loc, err := a.keyIndex.Lookup(ctx, agentprincipal.HashKey(key)); err == nil {
				c.Set(ctxPrincipal, Principal{UserID: loc.UserID, AgentID: loc.AgentID, Tier: TierFree})
				c.Next()
				return
			}
		}

		c.Next()
	}
}

// RequirePrincipal aborts with 401 UNAUTHORIZED unless a Principal was
// already injected by Resolve.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := PrincipalFromCtx(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "authentication required"},
			})
			return
		}
		c.Next()
	}
}

// PrincipalFromCtx retrieves the Principal injected by AuthResolver.Resolve.
func PrincipalFromCtx(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}
