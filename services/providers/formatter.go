package providers

import (
	"strings"
)

// Message is a single chat turn
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// SamplingOptions carries caller-supplied sampling values. Nil means "use the default".
type SamplingOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
}

// resolve applies the profile defaults to the omitted options
func (o SamplingOptions) resolve(defaults Limits) Limits {
	out := defaults
	if o.MaxTokens != nil {
		out.MaxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		out.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		out.TopP = *o.TopP
	}
	return out
}

// Format builds the provider-specific wire body for a conversation
func (r *Registry) Format(provider, model string, messages []Message, opts SamplingOptions) (map[string]any, error) {
	profile, ok := r.Lookup(provider)
	if !ok {
		return nil, &UnsupportedProviderError{Provider: provider}
	}

	limits := opts.resolve(profile.Defaults)

	switch profile.Shape {
	case ShapeAnthropic:
		return formatAnthropic(model, messages, limits), nil
	case ShapeGoogle:
		return formatGoogle(messages, limits), nil
	case ShapeCohere:
		return formatCohere(model, messages, limits), nil
	case ShapeOllama:
		return formatOllama(model, messages, limits), nil
	default:
		return formatOpenAI(model, messages, limits), nil
	}
}

// FormatPrompt wraps a single prompt as a one-message conversation
func (r *Registry) FormatPrompt(provider, model, prompt string, opts SamplingOptions) (map[string]any, error) {
	return r.Format(provider, model, []Message{{Role: "user", Content: prompt}}, opts)
}

func formatOpenAI(model string, messages []Message, limits Limits) map[string]any {
	return map[string]any{
		"model":       model,
		"messages":    wireMessages(messages),
		"max_tokens":  limits.MaxTokens,
		"temperature": limits.Temperature,
		"top_p":       limits.TopP,
	}
}

func formatAnthropic(model string, messages []Message, limits Limits) map[string]any {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	body := map[string]any{
		"model":       model,
		"messages":    wireMessages(turns),
		"max_tokens":  limits.MaxTokens,
		"temperature": limits.Temperature,
		"top_p":       limits.TopP,
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	return body
}

func formatGoogle(messages []Message, limits Limits) map[string]any {
	var system []any
	contents := make([]any, 0, len(messages))
	for _, m := range messages {
		part := map[string]any{"text": m.Content}
		switch m.Role {
		case "system":
			system = append(system, part)
		case "assistant":
			contents = append(contents, map[string]any{"role": "model", "parts": []any{part}})
		default:
			contents = append(contents, map[string]any{"role": "user", "parts": []any{part}})
		}
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"maxOutputTokens": limits.MaxTokens,
			"temperature":     limits.Temperature,
			"topP":            limits.TopP,
		},
	}
	if len(system) > 0 {
		body["systemInstruction"] = map[string]any{"parts": system}
	}
	return body
}

// formatCohere sends the last user turn as "message"; earlier turns go to chat_history
func formatCohere(model string, messages []Message, limits Limits) map[string]any {
	var preamble []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			preamble = append(preamble, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	current := ""
	lastUser := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			lastUser = i
			break
		}
	}
	var history []any
	for i, m := range turns {
		if i == lastUser {
			current = m.Content
			continue
		}
		role := "USER"
		if m.Role == "assistant" {
			role = "CHATBOT"
		}
		history = append(history, map[string]any{"role": role, "message": m.Content})
	}

	body := map[string]any{
		"model":       model,
		"message":     current,
		"max_tokens":  limits.MaxTokens,
		"temperature": limits.Temperature,
		"p":           limits.TopP,
	}
	if len(history) > 0 {
		body["chat_history"] = history
	}
	if len(preamble) > 0 {
		body["preamble"] = strings.Join(preamble, "\n\n")
	}
	return body
}

func formatOllama(model string, messages []Message, limits Limits) map[string]any {
	return map[string]any{
		"model":    model,
		"messages": wireMessages(messages),
		"stream":   false,
		"options": map[string]any{
			"temperature": limits.Temperature,
			"num_predict": limits.MaxTokens,
			"top_p":       limits.TopP,
		},
	}
}

func wireMessages(messages []Message) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		msg := map[string]any{
			"role":    m.Role,
			"content": m.Content,
		}
		if m.Name != "" {
			msg["name"] = m.Name
		}
		out = append(out, msg)
	}
	return out
}
