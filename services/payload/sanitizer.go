// Package payload holds the pure transformations applied to wire bodies before
// they leave the gateway: sanitization, canonical fingerprinting and
// unsupported-parameter trimming.
package payload

import (
	"strings"

	"github.com/samber/lo"
)

const (
	// ReservedPrefix marks internal control fields that never cross the transport boundary
	ReservedPrefix = "__"

	// ToolBridgeMarker is set by the tool-call bridge on bodies it produced
	ToolBridgeMarker = ReservedPrefix + "toolBridge"

	// BridgeToolName is the single text-channel tool declared by the bridge
	BridgeToolName = "respond_with_text"
)

// tools the bridge may declare; the action names match the toolbridge package
var bridgeTools = map[string]bool{
	BridgeToolName: true,
	"read_file":    true,
	"write_file":   true,
	"list_dir":     true,
	"list_goals":   true,
	"answer":       true,
	"unable":       true,
}

// Sanitize returns a cleaned copy of a wire body. The input is never modified and
// non-object values are returned unchanged. Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(provider string, body any) any {
	obj, ok := body.(map[string]any)
	if !ok {
		return body
	}

	var kept []any
	if isBridged(obj) {
		kept = keepBridgeTools(obj["tools"])
	}
	out := make(map[string]any, len(obj))
	for key, value := range obj {
		switch key {
		case "tools":
			if len(kept) == 0 {
				continue
			}
			value = kept
		case "tool_choice":
			if len(kept) == 0 {
				continue
			}
		case "functions", "function_call", "parallel_tool_calls":
			continue
		case "response_format":
			if isEmptyValue(value) {
				continue
			}
		case "messages":
			value = sanitizeMessages(value)
		}
		if strings.HasPrefix(key, ReservedPrefix) {
			continue
		}
		out[key] = value
	}
	return out
}

// isBridged reports whether a body was produced by the tool-call bridge: it
// carries the marker, or every tool it declares is a bridge tool. The second
// form recognizes a sanitized bridge body, whose marker is gone.
func isBridged(body map[string]any) bool {
	if marked, _ := body[ToolBridgeMarker].(bool); marked {
		return true
	}
	tools := asSlice(body["tools"])
	return len(tools) > 0 && lo.EveryBy(tools, isBridgeTool)
}

// keepBridgeTools drops every declared tool the bridge does not own
func keepBridgeTools(tools any) []any {
	all := asSlice(tools)
	kept := lo.Filter(all, func(tool any, _ int) bool { return isBridgeTool(tool) })
	if len(kept) == len(all) {
		return all
	}
	return kept
}

func isBridgeTool(tool any) bool {
	return bridgeTools[toolName(tool)]
}

func toolName(tool any) string {
	t, ok := tool.(map[string]any)
	if !ok {
		return ""
	}
	if fn, ok := t["function"].(map[string]any); ok {
		if name, _ := fn["name"].(string); name != "" {
			return name
		}
	}
	name, _ := t["name"].(string)
	return name
}

// DeclaresTool reports whether a tools array declares a function with the given name
func DeclaresTool(tools any, name string) bool {
	return lo.ContainsBy(asSlice(tools), func(tool any) bool {
		return toolName(tool) == name
	})
}

func sanitizeMessages(value any) any {
	switch msgs := value.(type) {
	case []any:
		out := make([]any, len(msgs))
		for i, m := range msgs {
			if obj, ok := m.(map[string]any); ok {
				out[i] = sanitizeMessage(obj)
			} else {
				out[i] = m
			}
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(msgs))
		for i, m := range msgs {
			out[i] = sanitizeMessage(m)
		}
		return out
	default:
		return value
	}
}

func sanitizeMessage(msg map[string]any) map[string]any {
	out := make(map[string]any, len(msg))
	for key, value := range msg {
		switch key {
		case "tool_calls":
			continue
		case "name":
			if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			if value == nil {
				continue
			}
		}
		out[key] = value
	}
	return out
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(val) == 0
	case map[string]string:
		return len(val) == 0
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

func asSlice(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case []map[string]any:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out
	}
	return nil
}
