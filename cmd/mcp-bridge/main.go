// corestore-mcp-bridge exposes one signed-in user's memory store as MCP
// tools, allowing Claude Desktop and any MCP-compatible AI host to
// memorize, recall, and review that user's data over stdio.
//
// Add to Claude Desktop (~/.claude/claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "corestore": {
//	      "command": "/path/to/corestore-mcp-bridge",
//	      "args": ["--database-url", "postgres://...", "--api-key", "ak_..."]
//	    }
//	  }
//	}
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexusmemory/corestore/internal/account"
	"github.com/nexusmemory/corestore/internal/agentprincipal"
	"github.com/nexusmemory/corestore/internal/auditlog"
	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/graph"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/mcpbridge"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/tenant"
	"github.com/nexusmemory/corestore/internal/toolfacade"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

func newRecordID() string { return uuid.NewString() }

// namespaceLockSalt derives a stable int64 advisory-lock salt from a
// tenant namespace, so the audit chain's append lock never collides
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

var (
	databaseURL string
	apiKey      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corestore-mcp-bridge",
	Short: "stdio MCP bridge for a corestore memory tenant",
	Long: `corestore-mcp-bridge is a stdio MCP server that exposes three tools
against one signed-in user's memory store:

  memorize — store a fact, a profile patch, or a table row
  recall   — retrieve a context snapshot, a topic search, or a table page
  review   — list or resolve memory items awaiting confirmation

The bridge runs in stdio mode (the MCP standard for local servers).
All logging goes to stderr so it does not interfere with the protocol.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (required)")
	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "Agent API key issued by the dashboard (required)")
}

func run(cmd *cobra.Command, _ []string) error {
	stderrLogger := log.New(os.Stderr, "[corestore-mcp] ", log.LstdFlags)
	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync() //nolint:errcheck

	if databaseURL == "" || apiKey == "" {
		return fmt.Errorf("--database-url and --api-key are required")
	}

	ctx := cmd.Context()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	keyIndex := agentprincipal.NewPostgresKeyIndex(pool)
	loc, err := keyIndex.Lookup(ctx, account.HashToken(apiKey))
	if err != nil {
		return fmt.Errorf("resolve api key: %w", err)
	}

	tenantStore := tenant.NewPostgresStore(pool)
	tenantManager := tenant.NewManager(tenantStore)
	t, err := tenantManager.Lookup(ctx, loc.UserID)
	if err != nil {
		return fmt.Errorf("look up tenant: %w", err)
	}

	tenantPool, err := openTenantPool(ctx, databaseURL, t.Namespace)
	if err != nil {
		return fmt.Errorf("open tenant pool: %w", err)
	}
	defer tenantPool.Close()

	consentEngine := consent.NewEngine(consent.NewPostgresStore(tenantPool))
	ledgerL := ledger.New(ledger.NewPostgresStore(tenantPool), newRecordID, nil)
	profileS := profile.New(profile.NewPostgresStore(tenantPool), nil)
	tables := tablestore.New(tablestore.NewPostgresStore(tenantPool), newRecordID, nil)
	vectors := vectorstore.New(vectorstore.NewPostgresStore(tenantPool), newRecordID, nil)
	graphStore := graph.New(graph.NewPostgresStore(tenantPool), newRecordID, nil)
	audit := auditlog.NewPostgresLog(tenantPool, namespaceLockSalt(t.Namespace), zapLogger)

	pipeline := ingest.New(consentEngine, ledgerL, profileS, tables, vectors,
		ingest.NewPostgresPendingStore(tenantPool), ingest.NewPostgresBacklogStore(tenantPool),
		nil, nil, audit, zapLogger, newRecordID, nil)

	services := &toolfacade.Services{
		Ingest: pipeline, Consent: consentEngine, Ledger: ledgerL, Profile: profileS,
		Tables: tables, Vectors: vectors, Graph: graphStore,
	}

	tools := mcpbridge.NewToolRegistry(services, loc.AgentID)
	server := mcpbridge.NewServer(os.Stdout, tools, stderrLogger)

	stderrLogger.Printf("corestore MCP bridge ready — agent: %s", loc.AgentID)
	stderrLogger.Printf("tools: memorize, recall, review")

	return server.Serve(ctx, os.Stdin)
}

// openTenantPool opens a pool whose connections bind search_path to
// namespace on every physical connection, the same per-tenant isolation
// convention the HTTP server uses.
func openTenantPool(ctx context.Context, dsn, namespace string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{namespace}.Sanitize()))
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
