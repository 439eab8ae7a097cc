package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nexusmemory/corestore/internal/account"
	"github.com/nexusmemory/corestore/internal/agentprincipal"
	"github.com/nexusmemory/corestore/internal/auditlog"
	"github.com/nexusmemory/corestore/internal/config"
	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/enrichment"
	"github.com/nexusmemory/corestore/internal/graph"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/memoryapi/handler"
	"github.com/nexusmemory/corestore/internal/mcprpc"
	"github.com/nexusmemory/corestore/internal/middleware"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/tenant"
	"github.com/nexusmemory/corestore/internal/toolfacade"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("memoryserver exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ── Shared (public-schema) database handles ─────────────────────────────
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	tenantStore := tenant.NewPostgresStore(pool)
	if err := tenantStore.EnsureRegistry(context.Background()); err != nil {
		return fmt.Errorf("ensure tenants registry: %w", err)
	}
	tenantManager := tenant.NewManager(tenantStore)

	accountStore := account.NewPostgresStore(pool)
	if err := accountStore.EnsureRegistry(context.Background()); err != nil {
		return fmt.Errorf("ensure accounts registry: %w", err)
	}
	accounts := account.NewManager(accountStore, 30*24*time.Hour)

	keyIndex := agentprincipal.NewPostgresKeyIndex(pool)
	if err := keyIndex.EnsureRegistry(context.Background()); err != nil {
		return fmt.Errorf("ensure agent key index: %w", err)
	}

	toolfacade.OnIngest = middleware.RecordIngestion

	// ── Per-tenant runtime cache ─────────────────────────────────────────────
	runtimes := newRuntimeCache(cfg.DatabaseURL, keyIndex, logger)
	defer runtimes.closeAll()

	bundleFor := func(ctx context.Context, userID string) (*handler.Bundle, error) {
		t, err := tenantManager.Lookup(ctx, userID)
		if err != nil {
			return nil, err
		}
		rt, err := runtimes.get(ctx, t.Namespace, t.UserID)
		if err != nil {
			return nil, err
		}
		return rt.bundle, nil
	}

	auditFor := func(userID string) auditlog.Log {
		t, err := tenantManager.Lookup(context.Background(), userID)
		if err != nil {
			return nil
		}
		rt, err := runtimes.get(context.Background(), t.Namespace, t.UserID)
		if err != nil {
			return nil
		}
		return rt.bundle.Audit
	}

	// ── Transport middleware ─────────────────────────────────────────────────
	authResolver := middleware.NewAuthResolver(accounts, keyIndex, "")
	limiter := middleware.NewLimiter(middleware.RateLimits{
		UnauthPerMinute:       cfg.RateLimits.UnauthPerMinute,
		FreePerMinute:         cfg.RateLimits.FreePerMinute,
		PaidPerMinute:         cfg.RateLimits.PaidPerMinute,
		MCPToolsPerMinute:     cfg.RateLimits.MCPToolsPerMinute,
		ExpensiveOpsPerMinute: cfg.RateLimits.ExpensiveOpsPerMinute,
	})

	restServicesFor := func(c *gin.Context) (*handler.Bundle, middleware.Principal, error) {
		p, ok := middleware.PrincipalFromCtx(c)
		if !ok {
			return nil, middleware.Principal{}, errors.New("no principal resolved")
		}
		b, err := bundleFor(c.Request.Context(), p.UserID)
		if err != nil {
			return nil, middleware.Principal{}, err
		}
		return b, p, nil
	}

	mcpServicesFor := func(ctx context.Context, c *gin.Context) (*toolfacade.Services, string, error) {
		p, ok := middleware.PrincipalFromCtx(c)
		if !ok {
			return nil, "", errors.New("no principal resolved")
		}
		b, err := bundleFor(ctx, p.UserID)
		if err != nil {
			return nil, "", err
		}
		agentID := p.AgentID
		if agentID == "" {
			agentID = "user"
		}
		return b.Services, agentID, nil
	}

	legacyEnabled := func() bool { return cfg.EnableLegacyToolTranslation }
	mcpHandler := mcprpc.NewHandler(mcpServicesFor, legacyEnabled, auditFor, logger)
	restHandler := handler.New(restServicesFor, logger)

	// ── HTTP router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Metrics())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	// Dashboard-facing API: session auth, strict CORS, standard rate limit.
	v1 := router.Group("/v1")
	v1.Use(middleware.StrictCORS(cfg.CORSOrigins))
	v1.Use(authResolver.Resolve())
	v1.Use(middleware.RequirePrincipal())
	v1.Use(limiter.Standard())
	v1.Use(middleware.Audit(auditFor, logger))
	restHandler.Register(v1)

	// Agent/tool-facing MCP surface: bearer-key auth, permissive CORS, its
	// own MCP-tools rate-limit bucket, separate from /v1's tier buckets.
	mcp := router.Group("")
	mcp.Use(middleware.PermissiveCORS())
	mcp.Use(authResolver.Resolve())
	mcp.Use(middleware.RequirePrincipal())
	mcp.Use(limiter.MCPTools())
	mcp.Use(middleware.PaymentGate(nil, logger)) // no checker wired yet; billing is an out-of-scope collaborator
	mcp.POST("/mcp", mcpHandler.ServeHTTP())
	if cfg.EnableLegacyRESTEndpoints {
		mcp.POST("/chatgpt-mcp", mcpHandler.ServeHTTP())
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("memoryserver listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down memoryserver...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	logger.Info("memoryserver stopped")
	return nil
}

// tenantRuntime bundles the live component handles and background workers
// for one tenant namespace. Namespaces are never user-supplied directly —
// they are tenant.DeriveNamespace's deterministic hex output — so no
// namespace here ever reaches a query unsanitized.
type tenantRuntime struct {
	pool   *pgxpool.Pool
	bundle *handler.Bundle
	cancel context.CancelFunc
}

// runtimeCache lazily builds and caches one tenantRuntime per namespace,
// so a tenant pays the cost of its dedicated connection pool and
// enrichment workers only once, on first request.
type runtimeCache struct {
	dsn      string
	keyIndex agentprincipal.KeyIndex
	logger   *zap.Logger

	mu  sync.Mutex
	set map[string]*tenantRuntime
}

func newRuntimeCache(dsn string, keyIndex agentprincipal.KeyIndex, logger *zap.Logger) *runtimeCache {
	return &runtimeCache{dsn: dsn, keyIndex: keyIndex, logger: logger, set: make(map[string]*tenantRuntime)}
}

func (c *runtimeCache) get(ctx context.Context, namespace, userID string) (*tenantRuntime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rt, ok := c.set[namespace]; ok {
		return rt, nil
	}

	rt, err := c.build(ctx, namespace, userID)
	if err != nil {
		return nil, err
	}
	c.set[namespace] = rt
	return rt, nil
}

// build provisions a pgxpool.Pool whose connections bind search_path to
// namespace on every physical connection, then wires every tenant-scoped
// component over it, the same stack toolfacade.Services bundles for a
// single request but held open for this namespace's lifetime.
func (c *runtimeCache) build(ctx context.Context, namespace, userID string) (*tenantRuntime, error) {
	poolCfg, err := pgxpool.ParseConfig(c.dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{namespace}.Sanitize()))
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open tenant pool for %s: %w", namespace, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping tenant pool for %s: %w", namespace, err)
	}

	consentEngine := consent.NewEngine(consent.NewPostgresStore(pool))
	ledgerL := ledger.New(ledger.NewPostgresStore(pool), newRecordID, nil)
	ledgerL.OnTransition = func(from, to ledger.Status) {
		middleware.RecordLedgerTransition(string(from), string(to))
	}
	profileS := profile.New(profile.NewPostgresStore(pool), nil)
	tables := tablestore.New(tablestore.NewPostgresStore(pool), newRecordID, nil)
	vectors := vectorstore.New(vectorstore.NewPostgresStore(pool), newRecordID, nil)
	graphStore := graph.New(graph.NewPostgresStore(pool), newRecordID, nil)
	pending := ingest.NewPostgresPendingStore(pool)
	backlog := ingest.NewPostgresBacklogStore(pool)
	agents := agentprincipal.New(agentprincipal.NewPostgresStore(pool), newRecordID, nil).WithKeyIndex(c.keyIndex, userID)
	audit := auditlog.NewPostgresLog(pool, namespaceLockSalt(namespace), c.logger)

	extractor := enrichment.NewGraphExtractor(vectors, tables, profileS, graphStore)
	queue := enrichment.New(extractor, enrichment.Config{}, c.logger)

	pipeline := ingest.New(consentEngine, ledgerL, profileS, tables, vectors, pending, backlog,
		nil, queue, audit, c.logger, newRecordID, nil)

	queueCtx, cancel := context.WithCancel(context.Background())
	go queue.Run(queueCtx)
	go runDecayLoop(queueCtx, ledgerL, c.logger, namespace)

	services := &toolfacade.Services{
		Ingest: pipeline, Consent: consentEngine, Ledger: ledgerL, Profile: profileS,
		Tables: tables, Vectors: vectors, Graph: graphStore,
	}
	bundle := &handler.Bundle{
		Services: services,
		Agents:   agents,
		Audit:    audit,
		QueryRaw: func(ctx context.Context, sql string) ([]map[string]any, error) {
			return queryRaw(ctx, pool, sql)
		},
	}

	return &tenantRuntime{pool: pool, bundle: bundle, cancel: cancel}, nil
}

func (c *runtimeCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rt := range c.set {
		rt.cancel()
		rt.pool.Close()
	}
}

// runDecayLoop periodically moves stale unvetted ledger rows to decayed,
// one background sweep per tenant runtime.
func runDecayLoop(ctx context.Context, l *ledger.Ledger, logger *zap.Logger, namespace string) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := l.DecayScan(ctx)
			if err != nil {
				logger.Warn("ledger decay scan error", zap.Error(err), zap.String("namespace", namespace))
				continue
			}
			if n > 0 {
				logger.Info("ledger decay scan", zap.Int("decayed", n), zap.String("namespace", namespace))
			}
		case <-ctx.Done():
			return
		}
	}
}

// queryRaw executes a sandbox-validated, read-only statement and decodes
// every row into a column-name-keyed map.
func queryRaw(ctx context.Context, pool *pgxpool.Pool, sql string) ([]map[string]any, error) {
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("execute sandboxed query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read sandboxed query row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// newRecordID generates the id every per-tenant store uses for new rows.
func newRecordID() string { return uuid.NewString() }

// namespaceLockSalt derives a stable int64 advisory-lock salt from a
// tenant namespace, so PostgresLog's append-chain lock never collides
// across tenants sharing the same physical database.
func namespaceLockSalt(namespace string) int64 {
	var h int64
	for _, r := range namespace {
		h = h*31 + int64(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}
