package providers

import (
	"maps"
	"slices"
)

// Shape identifies the request/response family a provider speaks.
type Shape string

const (
	ShapeOpenAI    Shape = "openai"
	ShapeAnthropic Shape = "anthropic"
	ShapeGoogle    Shape = "google"
	ShapeCohere    Shape = "cohere"
	ShapeOllama    Shape = "ollama"
)

// AuthStyle describes how the API key is attached to outbound requests.
type AuthStyle string

const (
	AuthBearer AuthStyle = "bearer"
	AuthNone   AuthStyle = "none"
)

const (
	// DefaultEndpointPath is used for OpenAI-compatible and unknown providers
	DefaultEndpointPath = "/chat/completions"

	// AnthropicVersion is sent on every Anthropic request
	AnthropicVersion = "2023-06-01"
)

// Limits holds the default sampling values applied when a caller omits them
type Limits struct {
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
}

// DefaultLimits returns the sampling defaults shared by every built-in provider
func DefaultLimits() Limits {
	return Limits{
		MaxTokens:   1000,
		Temperature: 0.7,
		TopP:        0.9,
	}
}

// Profile holds the static facts about one upstream provider.
// Profiles are immutable once registered; Registry.Lookup hands out copies.
type Profile struct {
	// ID is the canonical lower-case provider identifier
	ID string `toml:"id"`

	// Aliases are alternate identifiers resolving to this profile
	Aliases []string `toml:"aliases"`

	// EndpointPath is appended to the configured base URL.
	// The "{model}" placeholder is replaced with the model name.
	EndpointPath string `toml:"endpoint_path"`

	AuthStyle    AuthStyle         `toml:"auth_style"`
	ExtraHeaders map[string]string `toml:"extra_headers"`
	Shape        Shape             `toml:"shape"`
	Defaults     Limits            `toml:"defaults"`

	// FallbackEndpoint marks local runtimes that get the longer fallback timeout
	FallbackEndpoint bool `toml:"fallback_endpoint"`
}

func (p Profile) clone() Profile {
	p.Aliases = slices.Clone(p.Aliases)
	p.ExtraHeaders = maps.Clone(p.ExtraHeaders)
	return p
}

// withDefaults fills in the zero-valued fields of a profile loaded from a file
func (p Profile) withDefaults() Profile {
	if p.EndpointPath == "" {
		p.EndpointPath = DefaultEndpointPath
	}
	if p.AuthStyle == "" {
		p.AuthStyle = AuthBearer
	}
	if p.Shape == "" {
		p.Shape = ShapeOpenAI
	}
	if p.Defaults == (Limits{}) {
		p.Defaults = DefaultLimits()
	}
	return p
}

func builtinProfiles() []Profile {
	openAICompatible := func(id string) Profile {
		return Profile{
			ID:           id,
			EndpointPath: DefaultEndpointPath,
			AuthStyle:    AuthBearer,
			Shape:        ShapeOpenAI,
			Defaults:     DefaultLimits(),
		}
	}

	return []Profile{
		openAICompatible("openai"),
		{
			ID:           "anthropic",
			Aliases:      []string{"claude"},
			EndpointPath: "/messages",
			AuthStyle:    AuthBearer,
			ExtraHeaders: map[string]string{"anthropic-version": AnthropicVersion},
			Shape:        ShapeAnthropic,
			Defaults:     DefaultLimits(),
		},
		{
			ID:           "google",
			Aliases:      []string{"gemini"},
			EndpointPath: "/models/{model}:generateContent",
			AuthStyle:    AuthBearer,
			Shape:        ShapeGoogle,
			Defaults:     DefaultLimits(),
		},
		{
			ID:           "cohere",
			EndpointPath: "/chat",
			AuthStyle:    AuthBearer,
			Shape:        ShapeCohere,
			Defaults:     DefaultLimits(),
		},
		openAICompatible("mistral"),
		openAICompatible("groq"),
		openAICompatible("openrouter"),
		openAICompatible("deepseek"),
		openAICompatible("together"),
		openAICompatible("custom"),
		{
			ID:               "ollama",
			EndpointPath:     "/api/chat",
			AuthStyle:        AuthNone,
			Shape:            ShapeOllama,
			Defaults:         DefaultLimits(),
			FallbackEndpoint: true,
		},
		{
			ID:               "lmstudio",
			EndpointPath:     DefaultEndpointPath,
			AuthStyle:        AuthNone,
			Shape:            ShapeOpenAI,
			Defaults:         DefaultLimits(),
			FallbackEndpoint: true,
		},
	}
}
