package toolfacade

import (
	"encoding/json"
	"fmt"
)

// PlainContent renders a facade result as the single text block the MCP
// stdio bridge (and any other plain-text transport) sends back in
// content[0].text.
func PlainContent(result any) string {
	switch v := result.(type) {
	case *MemorizeResult:
		return fmt.Sprintf("memorized: sourceRef=%s writeId=%s status=%s", v.SourceRef, v.WriteID, v.WriteStatus)
	case *ReviewListResult:
		return fmt.Sprintf("%d item(s) pending review", len(v.Items))
	case *ReviewResolveResult:
		return fmt.Sprintf("resolved %s -> status=%s", v.Meta.ID, v.Meta.Status)
	default:
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", result)
		}
		return string(out)
	}
}

// StructuredContent shapes a facade result for an MCP client that reads
// tools/call's structuredContent field in addition to the text block:
// the same plain text, plus the raw result as a JSON-marshalable value.
func StructuredContent(result any) (text string, structured any) {
	return PlainContent(result), result
}

// RESTEnvelope wraps a facade result in the `{data, meta}` shape every
// REST response uses on success.
func RESTEnvelope(result any, meta map[string]any) map[string]any {
	env := map[string]any{"data": result}
	if meta != nil {
		env["meta"] = meta
	}
	return env
}

// ErrorContent shapes a failed tool call's content block: "CODE: message".
func ErrorContent(code, message string) string {
	return fmt.Sprintf("%s: %s", code, message)
}
