package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/llm-gateway/services/providers"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds one outbound attempt
	DefaultTimeout = 30 * time.Second

	// DefaultFallbackTimeout bounds attempts against fallback endpoints
	DefaultFallbackTimeout = 60 * time.Second

	maxResponseBytes = 10 << 20
)

// Request is one outbound provider call
type Request struct {
	Provider string
	URL      string
	Headers  map[string]string
	Body     any
	Timeout  time.Duration
}

// Response is a received provider response, successful or not
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// Client performs outbound provider calls
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Observer receives one notification per completed attempt
type Observer interface {
	ObserveUpstream(provider, status string, latency time.Duration)
}

// SetupError means the request could not be built or sent at all
type SetupError struct {
	Provider string
	Cause    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to prepare %s request: %v", e.Provider, e.Cause)
}

func (e *SetupError) Unwrap() error {
	return e.Cause
}

// Config holds configuration for the HTTP client
type Config struct {
	DefaultTimeout time.Duration
	DebugRequests  bool
}

// HTTPClient implements Client over net/http
type HTTPClient struct {
	httpClient *http.Client
	config     Config
	logger     *zap.Logger
	observer   Observer
}

// NewHTTPClient creates a new HTTPClient. A nil observer is allowed.
func NewHTTPClient(config Config, logger *zap.Logger, observer Observer) *HTTPClient {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultTimeout
	}
	return &HTTPClient{
		// per-request deadlines come from the context
		httpClient: &http.Client{},
		config:     config,
		logger:     logger,
		observer:   observer,
	}
}

// Do POSTs the JSON body. Non-2xx responses return the Response together with
// a *providers.UpstreamError; failures without a response return a
// *providers.TransportError, or a *SetupError when nothing was sent.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &SetupError{Provider: req.Provider, Cause: fmt.Errorf("failed to marshal request: %w", err)}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &SetupError{Provider: req.Provider, Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	if u := httpReq.URL; (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &SetupError{Provider: req.Provider, Cause: fmt.Errorf("cannot send to %q: only absolute http and https URLs are supported", req.URL)}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.config.DebugRequests {
		c.logger.Info("outbound llm request",
			zap.String("provider", req.Provider),
			zap.String("url", req.URL),
			zap.Duration("timeout", timeout),
			zap.ByteString("body", body))
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(req.Provider, "error", time.Since(start))
		return nil, &providers.TransportError{Provider: req.Provider, URL: req.URL, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	latency := time.Since(start)
	if err != nil {
		c.observe(req.Provider, "error", latency)
		return nil, &providers.TransportError{Provider: req.Provider, URL: req.URL, Cause: fmt.Errorf("failed to read response: %w", err)}
	}
	c.observe(req.Provider, strconv.Itoa(httpResp.StatusCode), latency)

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       respBody,
		Latency:    latency,
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		upstreamErr := providers.NewUpstreamError(req.Provider, httpResp.StatusCode, httpResp.Status, respBody, httpResp.Header)
		c.logger.Debug("upstream returned error status",
			zap.String("provider", req.Provider),
			zap.Int("status", httpResp.StatusCode),
			zap.String("message", upstreamErr.Message))
		return resp, upstreamErr
	}

	return resp, nil
}

func (c *HTTPClient) observe(provider, status string, latency time.Duration) {
	if c.observer != nil {
		c.observer.ObserveUpstream(provider, status, latency)
	}
}
