package toolbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-gateway/services/payload"
)

func TestShouldUseActionToolBridgeByDefault(t *testing.T) {
	tests := []struct {
		provider string
		want     bool
	}{
		{"groq", true},
		{"GROQ", true},
		{" Mistral ", true},
		{"openai", false},
		{"", false},
		{"unknown-vendor", false},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldUseActionToolBridgeByDefault(tt.provider))
		})
	}
}

func TestResolveMode(t *testing.T) {
	assert.Equal(t, ModeFull, ResolveMode("groq", false))
	assert.Equal(t, ModeNone, ResolveMode("groq", true))
	assert.Equal(t, ModeNone, ResolveMode("openai", false))
}

func TestApply_Minimal(t *testing.T) {
	body := map[string]any{"model": "m"}

	out := Apply(body, ModeMinimal)

	tools, ok := out["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.True(t, payload.DeclaresTool(tools, payload.BridgeToolName))
	assert.Equal(t, map[string]any{
		"type":     "function",
		"function": map[string]any{"name": payload.BridgeToolName},
	}, out["tool_choice"])
	assert.Equal(t, true, out[payload.ToolBridgeMarker])
	assert.NotContains(t, body, "tools", "input must not be modified")
}

func TestApply_Full(t *testing.T) {
	out := Apply(map[string]any{"model": "m"}, ModeFull)

	tools := out["tools"].([]any)
	assert.Len(t, tools, 7)
	for _, name := range []string{payload.BridgeToolName, ToolReadFile, ToolWriteFile, ToolListDir, ToolListGoals, ToolAnswer, ToolUnable} {
		assert.True(t, payload.DeclaresTool(tools, name), name)
	}
	assert.Equal(t, "auto", out["tool_choice"])
}

func TestApply_NoneRemovesTools(t *testing.T) {
	bridged := Apply(map[string]any{"model": "m"}, ModeFull)

	out := Apply(bridged, ModeNone)

	assert.Equal(t, map[string]any{"model": "m"}, out)
	assert.Contains(t, bridged, "tools")
}

func TestApply_SurvivesSanitizer(t *testing.T) {
	for _, mode := range []Mode{ModeMinimal, ModeFull} {
		out := Apply(map[string]any{"model": "m"}, mode)
		clean := payload.Sanitize("groq", out).(map[string]any)

		assert.Equal(t, out["tools"], clean["tools"], "every bridge tool survives for %s", mode)
		assert.Contains(t, clean, "tool_choice", mode)
		assert.NotContains(t, clean, payload.ToolBridgeMarker, mode)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Minimal")
	require.NoError(t, err)
	assert.Equal(t, ModeMinimal, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeNone, m)

	_, err = ParseMode("strong")
	assert.Error(t, err)
}
