// Package extract decodes heterogeneous provider responses into plain text or a
// normalized action envelope. Extraction never fails: when no known field holds
// usable text the whole response body is returned.
package extract

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/upb/llm-gateway/services/providers"
)

// Result is the normalized output of a provider response
type Result struct {
	Text   string
	Action map[string]any
}

// IsAction reports whether the model invoked a recognized action tool
func (r Result) IsAction() bool {
	return r.Action != nil
}

// extractor returns ok=false when its shape is absent or empty
type extractor func(doc gjson.Result) (Result, bool)

// Extractor resolves a provider's response shape through the registry
type Extractor struct {
	registry *providers.Registry
}

// New creates an Extractor backed by registry
func New(registry *providers.Registry) *Extractor {
	return &Extractor{registry: registry}
}

// Extract returns the text (or serialized action envelope) of a response body
func (e *Extractor) Extract(provider string, body []byte) string {
	return e.ExtractResult(provider, body).Text
}

// ExtractResult runs the ordered extractors and stops at the first match
func (e *Extractor) ExtractResult(provider string, body []byte) Result {
	if !gjson.ValidBytes(body) {
		return Result{Text: string(body)}
	}
	doc := gjson.ParseBytes(body)

	shape := e.registry.Resolve(provider).Shape
	for _, fn := range e.chain(shape) {
		if res, ok := fn(doc); ok {
			return res
		}
	}
	return Result{Text: wholeBody(doc)}
}

func (e *Extractor) chain(shape providers.Shape) []extractor {
	chain := []extractor{toolCall}
	if primary, ok := primaryExtractors[shape]; ok {
		chain = append(chain, primary...)
	}
	for _, s := range shapeOrder {
		if s != shape {
			chain = append(chain, primaryExtractors[s]...)
		}
	}
	return append(chain, genericExtractors...)
}

var shapeOrder = []providers.Shape{
	providers.ShapeOpenAI,
	providers.ShapeAnthropic,
	providers.ShapeGoogle,
	providers.ShapeCohere,
	providers.ShapeOllama,
}

var primaryExtractors = map[providers.Shape][]extractor{
	providers.ShapeOpenAI: {
		path("choices.0.message.content"),
		path("choices.0.message.reasoning_content"),
	},
	providers.ShapeAnthropic: {
		blocks("content", "text", "text"),
		blocks("content", "thinking", "thinking"),
	},
	providers.ShapeGoogle: {
		path("candidates.0.content.parts"),
	},
	providers.ShapeCohere: {
		path("text"),
		path("message.content"),
	},
	providers.ShapeOllama: {
		path("message.content"),
		path("message.thinking"),
		path("response"),
	},
}

var genericExtractors = []extractor{
	joinedPath("choices.#.text"),
	path("message.reasoning"),
	path("choices.0.message.reasoning"),
	path("choices.0.message.reasoning_content"),
	path("content"),
	path("output_text"),
	path("output.#.content"),
}

// path matches a string value, or an array whose usable elements are joined
func path(p string) extractor {
	return func(doc gjson.Result) (Result, bool) {
		text := usableText(doc.Get(p))
		return Result{Text: text}, text != ""
	}
}

func joinedPath(p string) extractor {
	return func(doc gjson.Result) (Result, bool) {
		text := joinUsable(doc.Get(p))
		return Result{Text: text}, text != ""
	}
}

// blocks matches typed content blocks such as Anthropic's {type:"text", text:"..."}
func blocks(p, blockType, field string) extractor {
	return func(doc gjson.Result) (Result, bool) {
		var parts []string
		doc.Get(p).ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == blockType {
				if s := block.Get(field).String(); strings.TrimSpace(s) != "" {
					parts = append(parts, s)
				}
			}
			return true
		})
		text := strings.Join(parts, "\n")
		return Result{Text: text}, text != ""
	}
}

func usableText(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		if strings.TrimSpace(v.Str) == "" {
			return ""
		}
		return v.Str
	case v.IsArray():
		return joinUsable(v)
	}
	return ""
}

// joinUsable joins the array elements that carry text, skipping everything else
func joinUsable(arr gjson.Result) string {
	if !arr.IsArray() {
		return ""
	}
	var parts []string
	arr.ForEach(func(_, el gjson.Result) bool {
		var s string
		switch {
		case el.Type == gjson.String:
			s = el.Str
		case el.IsObject():
			s = stringField(el, "text")
			if s == "" {
				s = stringField(el, "content")
			}
		case el.IsArray():
			s = joinUsable(el)
		}
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func stringField(obj gjson.Result, key string) string {
	if v := obj.Get(key); v.Type == gjson.String {
		return v.Str
	}
	return ""
}

func wholeBody(doc gjson.Result) string {
	return doc.Raw
}
