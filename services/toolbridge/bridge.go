package toolbridge

import (
	"fmt"
	"maps"
	"strings"

	"github.com/samber/lo"
	"github.com/upb/llm-gateway/services/payload"
)

// Mode is the strength of the tool-call bridge applied to a request
type Mode string

const (
	ModeNone    Mode = "none"
	ModeMinimal Mode = "minimal"
	ModeFull    Mode = "full"
)

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNone, "":
		return ModeNone, nil
	case ModeMinimal:
		return ModeMinimal, nil
	case ModeFull:
		return ModeFull, nil
	}
	return ModeNone, fmt.Errorf("unknown tool bridge mode: %q", s)
}

// Action tool names understood by the response extractor
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolListDir   = "list_dir"
	ToolListGoals = "list_goals"
	ToolAnswer    = "answer"
	ToolUnable    = "unable"
)

// providers that only produce reliable free text when a matching tool is declared
var bridgeByDefault = map[string]bool{
	"groq":    true,
	"mistral": true,
}

// ShouldUseActionToolBridgeByDefault reports whether the provider needs the
// full bridge unless the caller opts out
func ShouldUseActionToolBridgeByDefault(provider string) bool {
	return bridgeByDefault[strings.ToLower(strings.TrimSpace(provider))]
}

// ResolveMode picks the initial bridge mode for a call
func ResolveMode(provider string, disabled bool) Mode {
	if disabled || !ShouldUseActionToolBridgeByDefault(provider) {
		return ModeNone
	}
	return ModeFull
}

// Apply returns a copy of body with the tool contract for mode attached.
// ModeNone removes any tool fields. The input is not modified.
func Apply(body map[string]any, mode Mode) map[string]any {
	out := maps.Clone(body)
	if out == nil {
		out = map[string]any{}
	}

	switch mode {
	case ModeMinimal:
		out["tools"] = []any{textTool()}
		out["tool_choice"] = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": payload.BridgeToolName},
		}
		out[payload.ToolBridgeMarker] = true
	case ModeFull:
		out["tools"] = append([]any{textTool()}, actionTools()...)
		out["tool_choice"] = "auto"
		out[payload.ToolBridgeMarker] = true
	default:
		delete(out, "tools")
		delete(out, "tool_choice")
		delete(out, payload.ToolBridgeMarker)
	}
	return out
}

type toolSpec struct {
	name        string
	description string
	properties  map[string]any
	required    []string
}

var actionToolSpecs = []toolSpec{
	{
		name:        ToolReadFile,
		description: "Read the contents of a file in the workspace.",
		properties:  map[string]any{"path": stringProp("Path of the file to read"), "reason": stringProp("Why the file is needed")},
		required:    []string{"path"},
	},
	{
		name:        ToolWriteFile,
		description: "Write content to a file in the workspace.",
		properties: map[string]any{
			"path":    stringProp("Path of the file to write"),
			"content": stringProp("Full file content"),
			"reason":  stringProp("Why the file is written"),
		},
		required: []string{"path", "content"},
	},
	{
		name:        ToolListDir,
		description: "List the entries of a directory in the workspace.",
		properties:  map[string]any{"path": stringProp("Directory to list"), "reason": stringProp("Why the listing is needed")},
		required:    []string{"path"},
	},
	{
		name:        ToolListGoals,
		description: "List the goals of the current task.",
		properties:  map[string]any{"reason": stringProp("Why the goals are needed")},
	},
	{
		name:        ToolAnswer,
		description: "Give the final answer.",
		properties:  map[string]any{"content": stringProp("The answer")},
		required:    []string{"content"},
	},
	{
		name:        ToolUnable,
		description: "Report that the task cannot be completed.",
		properties:  map[string]any{"reason": stringProp("Why the task cannot be completed")},
		required:    []string{"reason"},
	},
}

func textTool() map[string]any {
	return functionTool(toolSpec{
		name:        payload.BridgeToolName,
		description: "Respond to the user with plain text.",
		properties:  map[string]any{"text": stringProp("The full response text")},
		required:    []string{"text"},
	})
}

func actionTools() []any {
	return lo.Map(actionToolSpecs, func(s toolSpec, _ int) any {
		return functionTool(s)
	})
}

func functionTool(s toolSpec) map[string]any {
	params := map[string]any{
		"type":       "object",
		"properties": maps.Clone(s.properties),
	}
	if len(s.required) > 0 {
		params["required"] = lo.ToAnySlice(s.required)
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        s.name,
			"description": s.description,
			"parameters":  params,
		},
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
