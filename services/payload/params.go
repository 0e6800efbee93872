package payload

import (
	"encoding/json"
	"maps"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// IsDeterministic reports whether the sampling temperature is exactly zero,
// at the top level or inside the provider-specific nested options.
func IsDeterministic(body any) bool {
	obj, ok := body.(map[string]any)
	if !ok {
		return false
	}
	if isZero(obj["temperature"]) {
		return true
	}
	for _, nested := range []string{"generationConfig", "options"} {
		if inner, ok := obj[nested].(map[string]any); ok && isZero(inner["temperature"]) {
			return true
		}
	}
	return false
}

func isZero(v any) bool {
	switch n := v.(type) {
	case float64:
		return n == 0
	case float32:
		return n == 0
	case int:
		return n == 0
	case int64:
		return n == 0
	case int32:
		return n == 0
	case json.Number:
		f, err := n.Float64()
		return err == nil && f == 0
	}
	return false
}

// unsupportedParamGroups maps a name mentioned in an upstream error to the wire fields it covers
var unsupportedParamGroups = []struct {
	mentions []string
	fields   []string
	nested   []string
}{
	{
		mentions: []string{"temperature"},
		fields:   []string{"temperature"},
		nested:   []string{"temperature"},
	},
	{
		mentions: []string{"top_p", "topp", "top-p"},
		fields:   []string{"top_p", "topP"},
		nested:   []string{"top_p", "topP"},
	},
	{
		mentions: []string{"max_tokens", "max_completion_tokens", "maxoutputtokens", "max-tokens"},
		fields:   []string{"max_tokens", "max_completion_tokens"},
		nested:   []string{"maxOutputTokens", "num_predict"},
	},
}

var unsupportedMarkers = []string{"unsupported", "not supported", "does not support", "unknown", "unrecognized", "not allowed"}

// IsUnsupportedParameterError reports whether an upstream message rejects a request parameter
func IsUnsupportedParameterError(message string) bool {
	lower := strings.ToLower(message)
	if !strings.Contains(lower, "param") && !mentionsSamplingField(lower) {
		return false
	}
	return mentionsAny(lower, unsupportedMarkers)
}

func mentionsSamplingField(lower string) bool {
	for _, group := range unsupportedParamGroups {
		if mentionsAny(lower, group.mentions) {
			return true
		}
	}
	return false
}

// TrimUnsupportedParams returns a copy of body without the sampling fields an
// upstream "unsupported parameter" message names, plus the sorted list of removed
// fields. Nested generationConfig/options maps are trimmed too. The input is not modified.
func TrimUnsupportedParams(body map[string]any, message string) (map[string]any, []string) {
	if !IsUnsupportedParameterError(message) {
		return cloneBody(body), nil
	}
	lower := strings.ToLower(message)
	return trimGroups(body, func(mentions []string) bool {
		return mentionsAny(lower, mentions)
	})
}

// OmitParams returns a copy of body without the wire fields of the named
// sampling parameters (temperature, top_p, max_tokens), in any provider shape.
func OmitParams(body map[string]any, names []string) (map[string]any, []string) {
	if len(names) == 0 {
		return cloneBody(body), nil
	}
	wanted := lo.Map(names, func(n string, _ int) string { return strings.ToLower(n) })
	return trimGroups(body, func(mentions []string) bool {
		return lo.Some(mentions, wanted)
	})
}

func cloneBody(body map[string]any) map[string]any {
	out := maps.Clone(body)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func trimGroups(body map[string]any, match func(mentions []string) bool) (map[string]any, []string) {
	out := cloneBody(body)
	var removed []string
	for _, group := range unsupportedParamGroups {
		if !match(group.mentions) {
			continue
		}
		for _, field := range group.fields {
			if _, ok := out[field]; ok {
				delete(out, field)
				removed = append(removed, field)
			}
		}
		for _, key := range []string{"generationConfig", "options"} {
			inner, ok := out[key].(map[string]any)
			if !ok {
				continue
			}
			trimmed := maps.Clone(inner)
			for _, field := range group.nested {
				if _, ok := trimmed[field]; ok {
					delete(trimmed, field)
					removed = append(removed, key+"."+field)
				}
			}
			out[key] = trimmed
		}
	}

	sort.Strings(removed)
	return out, removed
}

func mentionsAny(lower string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
