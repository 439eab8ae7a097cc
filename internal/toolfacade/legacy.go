package toolfacade

// legacyAlias names one pre-facade tool name this system still accepts on
// ingress, gated by MCP_ENABLE_LEGACY_TOOL_TRANSLATION, and the facade
// tool + argument shape it translates to.
type legacyAlias string

const (
	legacyGetUserContext legacyAlias = "get_user_context"
	legacyListTables     legacyAlias = "list_tables"
	legacySearchMemory   legacyAlias = "search_memory"
	legacyQueryTable     legacyAlias = "query_table"
	legacyQueryGraph     legacyAlias = "query_graph"
	legacySaveMemory     legacyAlias = "save_memory"
	legacyUpdateProfile  legacyAlias = "update_profile"
	legacyAddRecord      legacyAlias = "add_record"
	legacyReviewMemories legacyAlias = "review_memories"
)

// IsLegacyAlias reports whether name is a recognized pre-facade tool name.
func IsLegacyAlias(name string) bool {
	switch legacyAlias(name) {
	case legacyGetUserContext, legacyListTables, legacySearchMemory, legacyQueryTable,
		legacyQueryGraph, legacySaveMemory, legacyUpdateProfile, legacyAddRecord, legacyReviewMemories:
		return true
	default:
		return false
	}
}

// TranslateLegacy rewrites a legacy tool name + its raw argument map into
// the facade tool name ("memorize", "recall", "review") and the request
// value that tool's entry point expects. ok is false for any name that
// is not a recognized legacy alias — callers fall through to Dispatch's
// own UNKNOWN_TOOL handling in that case.
func TranslateLegacy(name string, args map[string]any, agentID string) (facadeTool string, req any, ok bool) {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}
	obj := func(key string) map[string]any {
		v, _ := args[key].(map[string]any)
		return v
	}

	switch legacyAlias(name) {
	case legacyGetUserContext:
		return "recall", RecallRequest{Mode: ModeContext, AgentID: agentID}, true

	case legacyListTables:
		return "recall", RecallRequest{Mode: ModeTable, Table: str("table"), AgentID: agentID}, true

	case legacySearchMemory:
		return "recall", RecallRequest{Mode: ModeKnowledge, Topic: str("query"), AgentID: agentID}, true

	case legacyQueryTable:
		return "recall", RecallRequest{Mode: ModeTable, Table: str("table"), AgentID: agentID}, true

	case legacyQueryGraph:
		return "recall", RecallRequest{Mode: ModeKnowledge, Topic: str("topic"), AgentID: agentID}, true

	case legacySaveMemory:
		return "memorize", MemorizeRequest{Text: str("text"), Category: "memory", AgentID: agentID}, true

	case legacyUpdateProfile:
		patch := obj("data")
		if patch == nil {
			patch = args
		}
		return "memorize", MemorizeRequest{Category: "profile", Data: patch, AgentID: agentID}, true

	case legacyAddRecord:
		return "memorize", MemorizeRequest{Category: str("table"), Data: obj("fields"), AgentID: agentID}, true

	case legacyReviewMemories:
		return "review", ReviewRequest{Action: ReviewList}, true

	default:
		return "", nil, false
	}
}
