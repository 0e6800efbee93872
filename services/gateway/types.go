package gateway

import (
	"time"

	"github.com/upb/llm-gateway/services/providers"
)

// Target is a resolved provider endpoint
type Target struct {
	Provider    string
	Model       string
	APIURL      string
	APIKey      string
	RequiresKey bool
}

// Options are the per-call knobs. Nil sampling values use the provider defaults.
type Options struct {
	MaxTokens         *int
	Temperature       *float64
	TopP              *float64
	DisableToolBridge bool
	DisableDedup      bool
	DisableFallback   bool

	// ToolBridge forces the first bridge mode (none, minimal or full).
	// Empty uses the provider default.
	ToolBridge string

	// OmitParams names sampling parameters to leave off the wire entirely
	// (temperature, top_p, max_tokens)
	OmitParams []string

	// Extra is merged into the wire body after formatting
	Extra map[string]any
}

func (o Options) sampling() providers.SamplingOptions {
	return providers.SamplingOptions{
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
		TopP:        o.TopP,
	}
}

// Result is the normalized output of a Generate call
type Result struct {
	Text     string         `json:"text"`
	Action   map[string]any `json:"action,omitempty"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Cached   bool           `json:"cached"`
	Attempts int            `json:"attempts"`
}

// Connection test failure classes
const (
	ErrorTypeAPI     = "api"
	ErrorTypeNetwork = "network"
	ErrorTypeSetup   = "setup"
)

// ConnectionResult is the outcome of a connection test
type ConnectionResult struct {
	Success    bool   `json:"success"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	ErrorType  string `json:"error_type,omitempty"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Response   string `json:"response,omitempty"`
}

// GatewayError is the single error surfaced once all recovery is exhausted.
// It unwraps to the upstream cause.
type GatewayError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *GatewayError) Error() string {
	return "LLM gateway request failed: " + providers.MessageOf(e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Config holds configuration for the Gateway
type Config struct {
	RequestTimeout  time.Duration
	FallbackTimeout time.Duration
}
