package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func bridgeToolDecls() []any {
	return []any{
		map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":       BridgeToolName,
				"parameters": map[string]any{"type": "object"},
			},
		},
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{
			name:  "non-object passes through",
			input: "raw string",
			want:  "raw string",
		},
		{
			name:  "nil passes through",
			input: nil,
			want:  nil,
		},
		{
			name: "strips tool fields without bridge marker",
			input: map[string]any{
				"model":               "gpt-4o",
				"tools":               []any{map[string]any{"type": "function"}},
				"tool_choice":         "auto",
				"functions":           []any{},
				"function_call":       "auto",
				"parallel_tool_calls": true,
			},
			want: map[string]any{"model": "gpt-4o"},
		},
		{
			name: "keeps bridge tools and strips marker",
			input: map[string]any{
				"model":          "gpt-4o",
				"tools":          bridgeToolDecls(),
				"tool_choice":    "auto",
				ToolBridgeMarker: true,
				"functions":      []any{},
			},
			want: map[string]any{
				"model":       "gpt-4o",
				"tools":       bridgeToolDecls(),
				"tool_choice": "auto",
			},
		},
		{
			name: "drops empty response_format keeps non-empty",
			input: map[string]any{
				"response_format": map[string]any{},
				"model":           "m",
			},
			want: map[string]any{"model": "m"},
		},
		{
			name: "non-empty response_format kept",
			input: map[string]any{
				"response_format": map[string]any{"type": "json_object"},
			},
			want: map[string]any{
				"response_format": map[string]any{"type": "json_object"},
			},
		},
		{
			name: "strips reserved prefix fields",
			input: map[string]any{
				"__disableDedup": true,
				"__anything":     "x",
				"model":          "m",
			},
			want: map[string]any{"model": "m"},
		},
		{
			name: "cleans messages",
			input: map[string]any{
				"messages": []any{
					map[string]any{"role": "user", "content": "hi", "name": "  "},
					map[string]any{"role": "assistant", "content": "", "tool_calls": []any{}},
					map[string]any{"role": "user", "content": "x", "name": "bob"},
					"not an object",
				},
			},
			want: map[string]any{
				"messages": []any{
					map[string]any{"role": "user", "content": "hi"},
					map[string]any{"role": "assistant", "content": ""},
					map[string]any{"role": "user", "content": "x", "name": "bob"},
					"not an object",
				},
			},
		},
		{
			name:  "non-array messages untouched",
			input: map[string]any{"messages": "hello"},
			want:  map[string]any{"messages": "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize("openai", tt.input))
		})
	}
}

func TestSanitize_DoesNotMutateInput(t *testing.T) {
	input := map[string]any{
		"tools":          []any{map[string]any{"type": "function"}},
		"__disableDedup": true,
		"messages": []any{
			map[string]any{"role": "user", "content": "hi", "name": "", "tool_calls": []any{}},
		},
	}
	snapshot := Canonical(input)

	_ = Sanitize("groq", input)

	assert.Equal(t, snapshot, Canonical(input))
	msg := input["messages"].([]any)[0].(map[string]any)
	assert.Contains(t, msg, "tool_calls")
	assert.Contains(t, msg, "name")
}

func TestSanitize_BridgeBodyIsStable(t *testing.T) {
	body := map[string]any{"tools": bridgeToolDecls(), "tool_choice": "auto", ToolBridgeMarker: true}

	once := Sanitize("mistral", body)
	twice := Sanitize("mistral", once)

	require.Equal(t, once, twice)
	assert.Contains(t, twice.(map[string]any), "tools")
}

func genValue(depth int) *rapid.Generator[any] {
	return rapid.Custom(func(t *rapid.T) any {
		kind := rapid.IntRange(0, 5).Draw(t, "kind")
		if depth <= 0 && kind >= 4 {
			kind = 0
		}
		switch kind {
		case 0:
			return rapid.String().Draw(t, "str")
		case 1:
			return rapid.Float64().Draw(t, "num")
		case 2:
			return rapid.Bool().Draw(t, "bool")
		case 3:
			return nil
		case 4:
			return rapid.SliceOfN(genValue(depth-1), 0, 3).Draw(t, "slice")
		default:
			keys := rapid.SliceOfN(rapid.SampledFrom([]string{
				"model", "tools", "tool_choice", "functions", "function_call",
				"parallel_tool_calls", "response_format", "messages", "name",
				"tool_calls", "__toolBridge", "__flag", "content", "role",
			}), 0, 5).Draw(t, "keys")
			m := make(map[string]any, len(keys))
			for _, k := range keys {
				m[k] = genValue(depth - 1).Draw(t, k)
			}
			return m
		}
	})
}

func TestSanitize_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := genValue(3).Draw(t, "body")
		before := Canonical(input)

		once := Sanitize("openai", input)
		twice := Sanitize("openai", once)

		if Canonical(once) != Canonical(twice) {
			t.Fatalf("not idempotent:\n once=%s\ntwice=%s", Canonical(once), Canonical(twice))
		}
		if Canonical(input) != before {
			t.Fatalf("input mutated: %s -> %s", before, Canonical(input))
		}
	})
}

func TestDeclaresTool(t *testing.T) {
	assert.True(t, DeclaresTool(bridgeToolDecls(), BridgeToolName))
	assert.True(t, DeclaresTool([]any{map[string]any{"name": "x"}}, "x"))
	assert.False(t, DeclaresTool([]any{map[string]any{"name": "x"}}, "y"))
	assert.False(t, DeclaresTool("nope", "x"))
}

func TestSanitize_CallerToolsNextToBridgeTool(t *testing.T) {
	deleteDB := map[string]any{"type": "function", "function": map[string]any{"name": "delete_db"}}

	t.Run("without marker every tool is dropped", func(t *testing.T) {
		body := map[string]any{
			"model":       "gpt-4o",
			"tools":       append(bridgeToolDecls(), deleteDB),
			"tool_choice": "auto",
		}

		assert.Equal(t, map[string]any{"model": "gpt-4o"}, Sanitize("openai", body))
	})

	t.Run("with marker only bridge tools are kept", func(t *testing.T) {
		body := map[string]any{
			"model":          "gpt-4o",
			"tools":          append(bridgeToolDecls(), deleteDB),
			"tool_choice":    "auto",
			ToolBridgeMarker: true,
		}

		once := Sanitize("openai", body).(map[string]any)
		assert.Equal(t, bridgeToolDecls(), once["tools"])
		assert.Equal(t, "auto", once["tool_choice"])
		assert.NotContains(t, once, ToolBridgeMarker)
		assert.Equal(t, once, Sanitize("openai", once))
	})

	t.Run("action tools without marker are kept", func(t *testing.T) {
		tools := append(bridgeToolDecls(), map[string]any{"type": "function", "function": map[string]any{"name": "answer"}})
		body := map[string]any{"tools": tools, "tool_choice": "auto"}

		assert.Equal(t, body, Sanitize("mistral", body))
	})
}

func TestIsBridged(t *testing.T) {
	assert.True(t, isBridged(map[string]any{ToolBridgeMarker: true}))
	assert.True(t, isBridged(map[string]any{"tools": bridgeToolDecls()}))
	assert.False(t, isBridged(map[string]any{"tools": []any{}}))
	assert.False(t, isBridged(map[string]any{"tools": []any{map[string]any{"name": "delete_db"}}}))
	assert.False(t, isBridged(map[string]any{
		"tools":          append(bridgeToolDecls(), map[string]any{"name": "delete_db"}),
		ToolBridgeMarker: "yes",
	}))
}

func TestSanitize_MarkerWithoutBridgeToolDropsTools(t *testing.T) {
	body := map[string]any{
		"tools":          []any{map[string]any{"type": "function", "function": map[string]any{"name": "other"}}},
		"tool_choice":    "auto",
		ToolBridgeMarker: true,
	}

	assert.Equal(t, map[string]any{}, Sanitize("openai", body))
}
