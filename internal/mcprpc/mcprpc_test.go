package mcprpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nexusmemory/corestore/internal/consent"
	"github.com/nexusmemory/corestore/internal/graph"
	"github.com/nexusmemory/corestore/internal/ingest"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/mcprpc"
	"github.com/nexusmemory/corestore/internal/profile"
	"github.com/nexusmemory/corestore/internal/tablestore"
	"github.com/nexusmemory/corestore/internal/toolfacade"
	"github.com/nexusmemory/corestore/internal/vectorstore"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestHandler(t *testing.T, legacyEnabled bool) *mcprpc.Handler {
	t.Helper()
	consentEngine := consent.NewEngine(consent.NewMemoryStoreForTest())
	if err := consentEngine.Grant(context.Background(), "agent-1", "*", consent.PermissionWrite); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	ledgerL := ledger.New(ledger.NewMemoryStoreForTest(), idSeq("meta-"), nil)
	profileS := profile.New(profile.NewMemoryStoreForTest(), nil)
	tables := tablestore.New(tablestore.NewMemoryStoreForTest(), idSeq("rec-"), nil)
	vectors := vectorstore.New(vectorstore.NewMemoryStoreForTest(), idSeq("vec-"), nil)
	graphStore := graph.New(graph.NewMemoryStoreForTest(), idSeq("ent-"), nil)
	pipeline := ingest.New(consentEngine, ledgerL, profileS, tables, vectors,
		ingest.NewMemoryPendingStoreForTest(), ingest.NewMemoryBacklogStoreForTest(), nil, nil, nil, nil, idSeq("write-"), nil)

	services := &toolfacade.Services{
		Ingest: pipeline, Consent: consentEngine, Ledger: ledgerL,
		Profile: profileS, Tables: tables, Vectors: vectors, Graph: graphStore,
	}

	servicesFor := func(ctx context.Context, c *gin.Context) (*toolfacade.Services, string, error) {
		return services, "agent-1", nil
	}
	var legacyFn mcprpc.LegacyTranslationEnabled
	if legacyEnabled {
		legacyFn = func() bool { return true }
	}
	return mcprpc.NewHandler(servicesFor, legacyFn, nil, nil)
}

func idSeq(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func postRPC(t *testing.T, h *mcprpc.Handler, body map[string]any) map[string]any {
	t.Helper()
	r := gin.New()
	r.POST("/mcp", h.ServeHTTP())

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v, body=%s", err, rec.Body.String())
	}
	return resp
}

func TestInitialize_ReturnsProtocolVersion(t *testing.T) {
	h := newTestHandler(t, false)
	resp := postRPC(t, h, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	result, ok := resp["result"].(map[string]any)
	if !ok || result["protocolVersion"] != "2024-11-05" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestToolsList_ReturnsExactlyThreeTools(t *testing.T) {
	h := newTestHandler(t, false)
	resp := postRPC(t, h, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"})
	result := resp["result"].(map[string]any)
	tools := result["tools"].([]any)
	if len(tools) != 3 {
		t.Fatalf("tools = %d, want 3", len(tools))
	}
}

func TestToolsCall_MemorizeStoresAndReturnsStructuredContent(t *testing.T) {
	h := newTestHandler(t, false)
	resp := postRPC(t, h, map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "tools/call",
		"params": map[string]any{
			"name":      "memorize",
			"arguments": map[string]any{"text": "likes tea", "category": "memory"},
		},
	})
	result := resp["result"].(map[string]any)
	if result["isError"] == true {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if result["structuredContent"] == nil {
		t.Fatal("expected structuredContent to be populated")
	}
}

func TestToolsCall_UnknownToolIsError(t *testing.T) {
	h := newTestHandler(t, false)
	resp := postRPC(t, h, map[string]any{
		"jsonrpc": "2.0", "id": 4, "method": "tools/call",
		"params": map[string]any{"name": "not_a_tool", "arguments": map[string]any{}},
	})
	result := resp["result"].(map[string]any)
	if result["isError"] != true {
		t.Fatalf("expected isError=true, got %+v", result)
	}
	content := result["content"].([]any)[0].(map[string]any)
	text, _ := content["text"].(string)
	if !strings.HasPrefix(text, "UNKNOWN_TOOL:") {
		t.Fatalf("expected UNKNOWN_TOOL code, got %q", text)
	}
}

func TestToolsCall_LegacyAliasTranslatesWhenEnabled(t *testing.T) {
	h := newTestHandler(t, true)
	resp := postRPC(t, h, map[string]any{
		"jsonrpc": "2.0", "id": 5, "method": "tools/call",
		"params": map[string]any{
			"name":      "save_memory",
			"arguments": map[string]any{"text": "likes coffee"},
		},
	})
	result := resp["result"].(map[string]any)
	if result["isError"] == true {
		t.Fatalf("legacy-translated call should have succeeded: %+v", result)
	}
}

func TestToolsCall_LegacyAliasRejectedWhenDisabled(t *testing.T) {
	h := newTestHandler(t, false)
	resp := postRPC(t, h, map[string]any{
		"jsonrpc": "2.0", "id": 6, "method": "tools/call",
		"params": map[string]any{
			"name":      "save_memory",
			"arguments": map[string]any{"text": "likes coffee"},
		},
	})
	result := resp["result"].(map[string]any)
	if result["isError"] != true {
		t.Fatal("expected legacy alias to be rejected when translation is disabled")
	}
}
