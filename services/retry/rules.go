package retry

import (
	"strings"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/toolbridge"
)

// Rule names, also used as metric labels
const (
	RuleToolNotDeclared        = "tool_not_declared"
	RuleMalformedToolArguments = "malformed_tool_arguments"
	RuleToolChoiceNone         = "tool_choice_none"
	RuleToolSchemaRejected     = "tool_schema_rejected"
)

// Rule pairs an error-message predicate with the bridge modes to resend with.
// Modes are tried in order; the chain continues only while failures keep the same class.
type Rule struct {
	Name  string
	Match func(lowerMessage string) bool
	Modes []toolbridge.Mode
}

// DefaultRules is evaluated top to bottom; the first match wins
var DefaultRules = []Rule{
	{
		Name: RuleToolNotDeclared,
		Match: containsAny(
			"not in request.tools",
			"was not in request",
			"not declared in tools",
			"tool is not declared",
			"attempted to call tool",
		),
		Modes: []toolbridge.Mode{toolbridge.ModeFull},
	},
	{
		Name: RuleMalformedToolArguments,
		Match: containsAny(
			"failed to parse tool call",
			"tool call arguments",
			"invalid tool call arguments",
			"malformed tool call",
			"failed to call a function",
			"tool_use_failed",
		),
		Modes: []toolbridge.Mode{toolbridge.ModeNone},
	},
	{
		Name: RuleToolChoiceNone,
		Match: containsAny(
			"tool choice is none",
			"tool_choice is none",
			"tool_choice was none",
			"tool choice was none",
			"tool_choice: none",
		),
		Modes: []toolbridge.Mode{toolbridge.ModeMinimal, toolbridge.ModeFull},
	},
	{
		Name:  RuleToolSchemaRejected,
		Match: toolSchemaRejected,
		Modes: []toolbridge.Mode{toolbridge.ModeNone},
	},
}

func toolSchemaRejected(msg string) bool {
	if strings.Contains(msg, "parameter") {
		return false
	}
	mentionsTools := containsAny("tool", "function call", "function_call", "functions")(msg)
	rejected := containsAny("not supported", "unsupported", "does not support", "rejected", "invalid", "not allowed", "not available")(msg)
	return mentionsTools && rejected
}

func containsAny(needles ...string) func(string) bool {
	return func(msg string) bool {
		for _, n := range needles {
			if strings.Contains(msg, n) {
				return true
			}
		}
		return false
	}
}

// Classify returns the first rule matching err's message
func Classify(err error) (Rule, bool) {
	return classifyWith(DefaultRules, err)
}

func classifyWith(rules []Rule, err error) (Rule, bool) {
	if err == nil {
		return Rule{}, false
	}
	msg := strings.ToLower(providers.MessageOf(err))
	for _, r := range rules {
		if r.Match(msg) {
			return r, true
		}
	}
	return Rule{}, false
}
