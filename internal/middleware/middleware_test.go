package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/account"
	"github.com/nexusmemory/corestore/internal/agentprincipal"
	"github.com/nexusmemory/corestore/internal/middleware"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestRouter(resolver *middleware.AuthResolver) *gin.Engine {
	r := gin.New()
	r.Use(resolver.Resolve())
	r.GET("/whoami", middleware.RequirePrincipal(), func(c *gin.Context) {
		p, _ := middleware.PrincipalFromCtx(c)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "is_agent": p.IsAgent()})
	})
	return r
}

func TestAuthResolver_SessionCookieResolvesAccountPrincipal(t *testing.T) {
	accounts := account.NewManager(account.NewMemoryStoreForTest(), 0)
	acc, err := accounts.Signup(context.Background(), "alice@example.com", "hunter222", "Alice")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	_, token, err := accounts.Login(context.Background(), "alice@example.com", "hunter222")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	resolver := middleware.NewAuthResolver(accounts, nil, "")
	r := newTestRouter(resolver)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "corestore_session", Value: token})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if acc.ID == "" {
		t.Fatal("expected a non-empty account id")
	}
}

func TestAuthResolver_BearerKeyResolvesAgentPrincipal(t *testing.T) {
	keyIndex := agentprincipal.NewMemoryKeyIndex()
	agents := agentprincipal.New(agentprincipal.NewMemoryStoreForTest(), func() string { return "agent-1" }, nil).
		WithKeyIndex(keyIndex, "user-1")

	_, rawKey, err := agents.Register(context.Background(), "garden-bot")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	resolver := middleware.NewAuthResolver(account.NewManager(account.NewMemoryStoreForTest(), 0), keyIndex, "")
	r := newTestRouter(resolver)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestAuthResolver_NoCredentialsRejectedByRequirePrincipal(t *testing.T) {
	resolver := middleware.NewAuthResolver(account.NewManager(account.NewMemoryStoreForTest(), 0), nil, "")
	r := newTestRouter(resolver)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLimiter_RejectsOverLimitWithRetryAfterHeader(t *testing.T) {
	limits := middleware.DefaultRateLimits()
	limits.UnauthPerMinute = 1
	limiter := middleware.NewLimiter(limits)

	r := gin.New()
	r.Use(limiter.Standard())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	first := httptest.NewRecorder()
	r.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on a 429")
	}
}

func TestLimiter_SeparatesBucketsByIP(t *testing.T) {
	limits := middleware.DefaultRateLimits()
	limits.UnauthPerMinute = 1
	limiter := middleware.NewLimiter(limits)

	r := gin.New()
	r.Use(limiter.Standard())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	reqA := httptest.NewRequest(http.MethodGet, "/ping", nil)
	reqA.RemoteAddr = "10.0.0.1:1"
	recA := httptest.NewRecorder()
	r.ServeHTTP(recA, reqA)

	reqB := httptest.NewRequest(http.MethodGet, "/ping", nil)
	reqB.RemoteAddr = "10.0.0.2:1"
	recB := httptest.NewRecorder()
	r.ServeHTTP(recB, reqB)

	if recA.Code != http.StatusOK || recB.Code != http.StatusOK {
		t.Fatalf("expected both distinct IPs to succeed: a=%d b=%d", recA.Code, recB.Code)
	}
}

type stubPaymentChecker struct {
	allow bool
	err   error
}

func (s stubPaymentChecker) Allow(context.Context, string) (bool, error) { return s.allow, s.err }

func TestPaymentGate_BlocksFreeAgentWhenDisallowed(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("corestore_principal", middleware.Principal{UserID: "u1", AgentID: "a1", Tier: middleware.TierFree})
		c.Next()
	})
	r.Use(middleware.PaymentGate(stubPaymentChecker{allow: false}, nil))
	r.GET("/pay", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/pay", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 402 {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}

func TestPaymentGate_FailsOpenOnCheckerError(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("corestore_principal", middleware.Principal{UserID: "u1", AgentID: "a1", Tier: middleware.TierFree})
		c.Next()
	})
	r.Use(middleware.PaymentGate(stubPaymentChecker{err: context.DeadlineExceeded}, nil))
	r.GET("/pay", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/pay", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (fail open)", rec.Code)
	}
}

func TestPaymentGate_BypassesPaidTier(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("corestore_principal", middleware.Principal{UserID: "u1", AgentID: "a1", Tier: middleware.TierPaid})
		c.Next()
	})
	r.Use(middleware.PaymentGate(stubPaymentChecker{allow: false}, nil))
	r.GET("/pay", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/pay", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (paid tier bypasses gate)", rec.Code)
	}
}
