package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimits holds the requests-per-minute ceiling for each bucket the
// transport layer enforces. Values come from RATE_LIMIT_* config.
type RateLimits struct {
	UnauthPerMinute      int // per source IP
	FreePerMinute        int // per principal
	PaidPerMinute        int // per principal
	MCPToolsPerMinute    int // per principal, MCP tools/call specifically
	ExpensiveOpsPerMinute int // per principal: vector search, graph query/traverse, SQL sandbox
}

// DefaultRateLimits matches the literal figures named for this system:
// unauthenticated 20/min/IP, free tier 100/min, paid 1000/min, MCP tool
// calls 500/min, and a tighter 100/min ceiling on expensive operations.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		UnauthPerMinute:       20,
		FreePerMinute:         100,
		PaidPerMinute:         1000,
		MCPToolsPerMinute:     500,
		ExpensiveOpsPerMinute: 100,
	}
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a token-bucket rate limiter keyed per principal (falling back
// to source IP for unauthenticated callers), following the same
// map-of-limiters-plus-periodic-sweep shape as the single-tier limiter
// this system generalizes.
type Limiter struct {
	limits RateLimits

	mu      sync.Mutex
	buckets map[string]*bucketEntry
}

// NewLimiter creates a Limiter and starts its background stale-entry sweep.
func NewLimiter(limits RateLimits) *Limiter {
	l := &Limiter{limits: limits, buckets: make(map[string]*bucketEntry)}
	go l.sweepLoop()
	return l
}

func (l *Limiter) sweepLoop() {
	for {
		time.Sleep(5 * time.Minute)
		l.mu.Lock()
		for key, b := range l.buckets {
			if time.Since(b.lastSeen) > 10*time.Minute {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// Standard returns Gin middleware enforcing the tier-appropriate bucket for
// the resolved Principal (or per-IP for anonymous callers).
func (l *Limiter) Standard() gin.HandlerFunc {
	return l.middleware("standard", func(p Principal, _ bool) int {
		if !p.IsAgent() && p.AccountID == "" {
			return l.limits.UnauthPerMinute
		}
		if p.Tier == TierPaid {
			return l.limits.PaidPerMinute
		}
		return l.limits.FreePerMinute
	})
}

// MCPTools returns Gin middleware enforcing the MCP tools/call bucket.
func (l *Limiter) MCPTools() gin.HandlerFunc {
	return l.middleware("mcp_tools", func(Principal, bool) int { return l.limits.MCPToolsPerMinute })
}

// Expensive returns Gin middleware enforcing the tighter bucket applied to
// vector search, graph query/traverse, and SQL sandbox calls.
func (l *Limiter) Expensive() gin.HandlerFunc {
	return l.middleware("expensive", func(Principal, bool) int { return l.limits.ExpensiveOpsPerMinute })
}

func (l *Limiter) middleware(bucketName string, limitFor func(p Principal, authenticated bool) int) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, authenticated := PrincipalFromCtx(c)
		key := bucketKey(c, p, authenticated)
		perMinute := limitFor(p, authenticated)

		b := l.bucket(key, perMinute)
		if !b.limiter.Allow() {
			retryAfter := time.Second
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))
			RecordRateLimitRejection(bucketName)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"code": "RATE_LIMIT_EXCEEDED", "message": "rate limit exceeded", "retryAfter": retryAfter.Seconds()},
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(b.limiter.Tokens())))
		c.Next()
	}
}

func (l *Limiter) bucket(key string, perMinute int) *bucketEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		rps := rate.Limit(float64(perMinute) / 60.0)
		b = &bucketEntry{limiter: rate.NewLimiter(rps, perMinute)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b
}

func bucketKey(c *gin.Context, p Principal, authenticated bool) string {
	if !authenticated {
		return "ip:" + c.ClientIP()
	}
	if p.IsAgent() {
		return fmt.Sprintf("agent:%s:%s", p.UserID, p.AgentID)
	}
	return "account:" + p.AccountID
}
