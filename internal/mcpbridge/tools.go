package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexusmemory/corestore/internal/ledger"
	"github.com/nexusmemory/corestore/internal/toolfacade"
)

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func ok(text string) (string, bool)   { return text, false }
func fail(text string) (string, bool) { return text, true }
func failf(format string, a ...any) (string, bool) {
	return fmt.Sprintf(format, a...), true
}

// ToolRegistry holds the tenant-scoped services and the definitions/handlers
// for the three stable memory tools. A stdio bridge runs for a single
// signed-in user, so it holds one Services value for the whole process
// rather than resolving one per call the way the HTTP transports do.
type ToolRegistry struct {
	services *toolfacade.Services
	agentID  string
	defs     []ToolDefinition
}

// NewToolRegistry creates a ToolRegistry backed by the given tenant-scoped
// services. agentID identifies the caller for consent checks and the
// audit trail — "user" when the bridge speaks for the signed-in owner
// directly rather than on behalf of a registered agent.
func NewToolRegistry(services *toolfacade.Services, agentID string) *ToolRegistry {
	r := &ToolRegistry{services: services, agentID: agentID}
	r.defs = []ToolDefinition{
		{
			Name: "memorize",
			Description: "Store a fact, a profile update, or a structured table row. " +
				"Leave category empty (or \"memory\") to store free text into the vector-backed " +
				"memory store; set category to \"profile\" to patch the user's durable profile; " +
				"set category to any other table name to insert a row into that table.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "Free text to remember. Used directly for memory writes, or merged into data.text for table rows.",
					},
					"category": map[string]any{
						"type":        "string",
						"description": "\"\" or \"memory\" for free-text recall, \"profile\" for a profile patch, or a table name.",
					},
					"data": map[string]any{
						"type":        "object",
						"description": "Structured fields for a profile patch or table row.",
					},
				},
			},
		},
		{
			Name: "recall",
			Description: "Retrieve stored memory. mode=\"context\" (default) returns a snapshot of " +
				"profile, tables, graph entities, and recent memory; mode=\"knowledge\" runs a " +
				"topic-scoped search across vectors, graph, and tables; mode=\"table\" lists rows " +
				"from one named table.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic": map[string]any{
						"type":        "string",
						"description": "Search topic, used by mode=\"knowledge\".",
					},
					"mode": map[string]any{
						"type": "string",
						"enum": []string{"context", "knowledge", "table"},
					},
					"table": map[string]any{
						"type":        "string",
						"description": "Table name, required when mode=\"table\".",
					},
					"budget": map[string]any{
						"type":        "integer",
						"description": "Max items per section. Defaults to 10.",
					},
				},
			},
		},
		{
			Name: "review",
			Description: "List memory items awaiting review (action=\"list\"), or resolve one by " +
				"accepting or rejecting it (action=\"resolve\" with metaId and resolution).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"list", "resolve"},
					},
					"metaId": map[string]any{
						"type":        "string",
						"description": "Identifies the item to resolve. Required when action=\"resolve\".",
					},
					"resolution": map[string]any{
						"type": "string",
						"enum": []string{"confirm", "reject", "keep_both"},
					},
				},
				"required": []string{"action"},
			},
		},
	}
	return r
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Call dispatches a tool call by name and returns (output text, isError).
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (string, bool) {
	switch name {
	case "memorize":
		return r.memorize(ctx, args)
	case "recall":
		return r.recall(ctx, args)
	case "review":
		return r.review(ctx, args)
	default:
		return failf("unknown tool: %q", name)
	}
}

// ── tool handlers ────────────────────────────────────────────────────────────

func (r *ToolRegistry) memorize(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Text     string         `json:"text"`
		Category string         `json:"category"`
		Data     map[string]any `json:"data"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return fail("invalid arguments")
	}

	result, err := toolfacade.Memorize(ctx, r.services, toolfacade.MemorizeRequest{
		Text: in.Text, Category: in.Category, Data: in.Data,
		AgentID: r.agentID, Origin: ledger.OriginAIStated,
	})
	if err != nil {
		return failf("memorize failed: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) recall(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Topic  string          `json:"topic"`
		Mode   toolfacade.Mode `json:"mode"`
		Table  string          `json:"table"`
		Budget int             `json:"budget"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return fail("invalid arguments")
	}

	result, err := toolfacade.Recall(ctx, r.services, toolfacade.RecallRequest{
		Topic: in.Topic, Mode: in.Mode, Table: in.Table, Budget: in.Budget, AgentID: r.agentID,
	})
	if err != nil {
		return failf("recall failed: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) review(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Action     toolfacade.ReviewAction `json:"action"`
		MetaID     string                  `json:"metaId"`
		Resolution ledger.ResolveAction    `json:"resolution"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Action == "" {
		return fail("action is required")
	}

	result, err := toolfacade.Review(ctx, r.services, toolfacade.ReviewRequest{
		Action: in.Action, MetaID: in.MetaID, Resolution: in.Resolution,
	})
	if err != nil {
		return failf("review failed: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return ok(string(out))
}
