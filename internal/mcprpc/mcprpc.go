// Package mcprpc adapts the Model Context Protocol's JSON-RPC 2.0
// methods (initialize, tools/list, tools/call) to a single HTTP POST
// endpoint, the way internal/mcpbridge adapts the same methods to
// stdio. The method dispatch and error-code shape mirror mcpbridge's
// server.go; only the transport underneath differs.
package mcprpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexusmemory/corestore/internal/auditlog"
	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/toolfacade"
)

// argsToRequest decodes a tools/call arguments map into the request type
// the named facade tool expects, via a JSON round-trip — the same
// technique mcpbridge's own handlers use to turn json.RawMessage
// arguments into a typed struct.
func argsToRequest(name string, args map[string]any, agentID string) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	switch name {
	case "memorize":
		var req toolfacade.MemorizeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		req.AgentID = agentID
		if req.Origin == "" {
			req.Origin = ledger.OriginAIStated
		}
		return req, nil
	case "recall":
		var req toolfacade.RecallRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		req.AgentID = agentID
		return req, nil
	case "review":
		var req toolfacade.ReviewRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return req, nil
	default:
		return nil, errUnknownTool(name)
	}
}

const protocolVersion = "2024-11-05"

// Standard JSON-RPC 2.0 error codes, matching mcpbridge/server.go.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// rpcRequest is an inbound JSON-RPC 2.0 message.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is an outbound JSON-RPC 2.0 message.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDescriptor is one entry of tools/list's response.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Annotations map[string]any `json:"annotations"`
}

var toolDescriptors = []ToolDescriptor{
	{
		Name:        "memorize",
		Description: "Store a fact, profile update, or table row in the caller's memory store.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":     map[string]any{"type": "string"},
				"category": map[string]any{"type": "string", "description": "\"profile\", a table name, or omitted for plain memory"},
				"data":     map[string]any{"type": "object"},
			},
		},
		Annotations: map[string]any{"readOnlyHint": false, "destructiveHint": false},
	},
	{
		Name:        "recall",
		Description: "Retrieve profile, table, vector, or graph data from the caller's memory store.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic":  map[string]any{"type": "string"},
				"mode":   map[string]any{"type": "string", "enum": []string{"context", "knowledge", "table"}},
				"table":  map[string]any{"type": "string"},
				"budget": map[string]any{"type": "integer"},
			},
		},
		Annotations: map[string]any{"readOnlyHint": true, "destructiveHint": false},
	},
	{
		Name:        "review",
		Description: "List memory-quality ledger rows pending review, or resolve one.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":     map[string]any{"type": "string", "enum": []string{"list", "resolve"}},
				"metaId":     map[string]any{"type": "string"},
				"resolution": map[string]any{"type": "string", "enum": []string{"confirm", "reject", "keep_both"}},
			},
			"required": []string{"action"},
		},
		Annotations: map[string]any{"readOnlyHint": false, "destructiveHint": false},
	},
}

// ServicesFor resolves the tenant-scoped *toolfacade.Services and
// acting-agent id for an authenticated request. Handler calls this once
// per tools/call so every call is bound to the caller's own namespace,
// never a process-wide default.
type ServicesFor func(ctx context.Context, c *gin.Context) (*toolfacade.Services, string, error)

// LegacyTranslationEnabled reports whether a deployment has
// MCP_ENABLE_LEGACY_TOOL_TRANSLATION turned on; when false, legacy tool
// names fall straight through to UNKNOWN_TOOL.
type LegacyTranslationEnabled func() bool

// Handler serves POST /mcp (and /chatgpt-mcp, which is the same
// dispatch under a different mount point for a client that insists on
// its own path).
type Handler struct {
	servicesFor   ServicesFor
	legacyEnabled LegacyTranslationEnabled
	audit         func(userID string) auditlog.Log
	logger        *zap.Logger
}

// NewHandler creates a Handler. legacyEnabled and audit may be nil —
// nil legacyEnabled disables legacy translation outright; nil audit
// skips the audit-log append after a tool call.
func NewHandler(servicesFor ServicesFor, legacyEnabled LegacyTranslationEnabled, audit func(userID string) auditlog.Log, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{servicesFor: servicesFor, legacyEnabled: legacyEnabled, audit: audit, logger: logger}
}

// ServeHTTP is the gin.HandlerFunc mounted at /mcp.
func (h *Handler) ServeHTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rpcRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			return
		}

		switch req.Method {
		case "initialize":
			c.JSON(http.StatusOK, rpcResponse{
				JSONRPC: "2.0", ID: req.ID,
				Result: map[string]any{
					"protocolVersion": protocolVersion,
					"capabilities":    map[string]any{"tools": map[string]any{}},
					"serverInfo":      map[string]any{"name": "corestore-mcp", "version": "0.1.0"},
				},
			})
		case "tools/list":
			c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": toolDescriptors}})
		case "tools/call":
			h.handleToolsCall(c, req)
		default:
			c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}})
		}
	}
}

func (h *Handler) handleToolsCall(c *gin.Context, req rpcRequest) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: "invalid params"}})
		return
	}

	ctx := c.Request.Context()
	services, agentID, err := h.servicesFor(ctx, c)
	if err != nil {
		c.JSON(http.StatusOK, rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Result: map[string]any{"content": []map[string]any{{"type": "text", "text": toolfacade.ErrorContent("UNAUTHORIZED", err.Error())}}, "isError": true},
		})
		return
	}

	name := params.Name
	result, callErr := h.dispatch(ctx, services, agentID, name, params.Arguments)

	if h.audit != nil {
		if log := h.audit(agentID); log != nil {
			if _, aerr := log.Append(ctx, agentID, "tools/call:"+name, name, params.Arguments); aerr != nil {
				h.logger.Warn("audit append failed", zap.Error(aerr), zap.String("tool", name))
			}
		}
	}

	if callErr != nil {
		code := "TOOL_CALL_FAILED"
		var unknown *unknownToolError
		if errors.As(callErr, &unknown) {
			code = "UNKNOWN_TOOL"
		}
		c.JSON(http.StatusOK, rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Result: map[string]any{"content": []map[string]any{{"type": "text", "text": toolfacade.ErrorContent(code, callErr.Error())}}, "isError": true},
		})
		return
	}

	text, structured := toolfacade.StructuredContent(result)
	c.JSON(http.StatusOK, rpcResponse{
		JSONRPC: "2.0", ID: req.ID,
		Result: map[string]any{
			"content":           []map[string]any{{"type": "text", "text": text}},
			"structuredContent": structured,
		},
	})
}

func (h *Handler) dispatch(ctx context.Context, s *toolfacade.Services, agentID, name string, args map[string]any) (any, error) {
	facadeName, req, err := h.resolveRequest(name, args, agentID)
	if err != nil {
		return nil, err
	}

	switch v := req.(type) {
	case toolfacade.MemorizeRequest:
		return toolfacade.Memorize(ctx, s, v)
	case toolfacade.RecallRequest:
		return toolfacade.Recall(ctx, s, v)
	case toolfacade.ReviewRequest:
		return toolfacade.Review(ctx, s, v)
	default:
		return nil, errUnknownTool(facadeName)
	}
}

// resolveRequest turns a raw tools/call (name, arguments) pair into a
// typed facade request, trying legacy-alias translation first when
// enabled and falling back to decoding args directly against the named
// facade tool.
func (h *Handler) resolveRequest(name string, args map[string]any, agentID string) (facadeName string, req any, err error) {
	if h.legacyEnabled != nil && h.legacyEnabled() && toolfacade.IsLegacyAlias(name) {
		if translated, translatedReq, ok := toolfacade.TranslateLegacy(name, args, agentID); ok {
			return translated, translatedReq, nil
		}
	}
	req, err = argsToRequest(name, args, agentID)
	return name, req, err
}

func errUnknownTool(name string) error {
	return &unknownToolError{name: name}
}

type unknownToolError struct{ name string }

func (e *unknownToolError) Error() string { return "unknown tool: " + e.name }
