package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

var (
	textTools   = []string{"respond_with_text", "text", "respond", "reply"}
	jsonTools   = []string{"json", "respond_with_json", "return_json", "output_json"}
	actionTools = []string{"read_file", "write_file", "list_dir", "list_directory", "list_file", "list_goals", "answer", "unable"}
)

var actionAliases = map[string]string{
	"list_directory": "list_dir",
	"list_file":      "list_dir",
}

var fieldAliases = map[string]string{
	"filePath":  "path",
	"file_path": "path",
	"filename":  "path",
	"file":      "path",
	"text":      "content",
	"contents":  "content",
}

type call struct {
	name string
	args gjson.Result
	// raw holds string arguments that were not valid JSON
	raw string
}

func toolCall(doc gjson.Result) (Result, bool) {
	c, ok := findToolCall(doc)
	if !ok {
		return Result{}, false
	}

	name := strings.ToLower(strings.TrimSpace(c.name))
	switch {
	case lo.Contains(textTools, name):
		for _, field := range []string{"text", "answer"} {
			if s := c.args.Get(field); s.Type == gjson.String && strings.TrimSpace(s.Str) != "" {
				return Result{Text: s.Str}, true
			}
		}
		// empty tool text: let the message content extractors run
		return Result{}, false
	case lo.Contains(jsonTools, name):
		return Result{Text: jsonToolText(c)}, true
	case lo.Contains(actionTools, name):
		env := envelope(name, c.args)
		data, err := json.Marshal(env)
		if err != nil {
			return Result{Text: fmt.Sprint(env), Action: env}, true
		}
		return Result{Text: string(data), Action: env}, true
	default:
		return Result{Text: wholeBody(doc)}, true
	}
}

func findToolCall(doc gjson.Result) (call, bool) {
	for _, p := range []string{
		"choices.0.message.tool_calls.0.function",
		"choices.0.message.function_call",
		"message.tool_calls.0.function",
	} {
		if fn := doc.Get(p); fn.IsObject() {
			return newCall(fn.Get("name").String(), fn.Get("arguments")), true
		}
	}

	// cohere
	if tc := doc.Get("tool_calls.0"); tc.IsObject() {
		return newCall(tc.Get("name").String(), tc.Get("parameters")), true
	}

	var found call
	var ok bool
	doc.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "tool_use" {
			found, ok = newCall(block.Get("name").String(), block.Get("input")), true
			return false
		}
		return true
	})
	if ok {
		return found, true
	}

	doc.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if fc := part.Get("functionCall"); fc.IsObject() {
			found, ok = newCall(fc.Get("name").String(), fc.Get("args")), true
			return false
		}
		return true
	})
	return found, ok
}

// newCall decodes stringified JSON arguments as sent by OpenAI-compatible APIs
func newCall(name string, args gjson.Result) call {
	if args.Type == gjson.String {
		if gjson.Valid(args.Str) {
			return call{name: name, args: gjson.Parse(args.Str)}
		}
		return call{name: name, raw: args.Str}
	}
	return call{name: name, args: args}
}

func jsonToolText(c call) string {
	if !c.args.Exists() {
		return c.raw
	}
	if c.args.IsObject() {
		for _, field := range []string{"json", "value", "data", "text"} {
			if v := c.args.Get(field); v.Exists() {
				if v.Type == gjson.String {
					return v.Str
				}
				return serialize(v.Value())
			}
		}
	}
	return serialize(c.args.Value())
}

func serialize(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// envelope builds {action, ...fields, reason?} with aliases normalized.
// Canonical field names win over their aliases.
func envelope(name string, args gjson.Result) map[string]any {
	action := name
	if alias, ok := actionAliases[name]; ok {
		action = alias
	}
	env := map[string]any{"action": action}

	if !args.IsObject() {
		return env
	}

	aliased := map[string]any{}
	args.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		switch {
		case k == "action":
		case k == "reason":
			if value.Type != gjson.Null && strings.TrimSpace(value.String()) != "" {
				env["reason"] = value.Value()
			}
		case fieldAliases[k] != "":
			if _, seen := aliased[fieldAliases[k]]; !seen {
				aliased[fieldAliases[k]] = value.Value()
			}
		default:
			env[k] = value.Value()
		}
		return true
	})
	for k, v := range aliased {
		if _, exists := env[k]; !exists {
			env[k] = v
		}
	}
	return env
}
