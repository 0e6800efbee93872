// Package gateway runs a chat request against the configured provider:
// format, bridge, sanitize, deduplicate, send, recover and extract.
package gateway

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/audit"
	"github.com/upb/llm-gateway/services/credentials"
	"github.com/upb/llm-gateway/services/dedup"
	"github.com/upb/llm-gateway/services/extract"
	"github.com/upb/llm-gateway/services/payload"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/retry"
	"github.com/upb/llm-gateway/services/toolbridge"
	"github.com/upb/llm-gateway/services/transport"
	"go.uber.org/zap"
)

// Deps are the collaborators of a Gateway. Registry and Client are required.
type Deps struct {
	Registry  *providers.Registry
	Client    transport.Client
	Store     credentials.Store
	Decrypter credentials.Decrypter
	Audit     audit.Sink
	Dedup     *dedup.Deduplicator[*transport.Response]
	Retry     *retry.Orchestrator
}

// Gateway is the entry point for LLM calls
type Gateway struct {
	registry  *providers.Registry
	extractor *extract.Extractor
	client    transport.Client
	store     credentials.Store
	decrypter credentials.Decrypter
	audit     audit.Sink
	dedup     *dedup.Deduplicator[*transport.Response]
	retry     *retry.Orchestrator
	config    Config
	logger    *zap.Logger
}

// New creates a Gateway. A nil Dedup disables deduplication, a nil Retry uses
// the default rules and a nil Audit disables auditing.
func New(deps Deps, config Config, logger *zap.Logger) (*Gateway, error) {
	if deps.Registry == nil {
		return nil, errors.New("gateway: provider registry is required")
	}
	if deps.Client == nil {
		return nil, errors.New("gateway: transport client is required")
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New[*transport.Response](dedup.Config{Enabled: false}, logger, nil)
	}
	if deps.Retry == nil {
		deps.Retry = retry.NewOrchestrator(logger, nil)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = transport.DefaultTimeout
	}
	if config.FallbackTimeout <= 0 {
		config.FallbackTimeout = transport.DefaultFallbackTimeout
	}

	return &Gateway{
		registry:  deps.Registry,
		extractor: extract.New(deps.Registry),
		client:    deps.Client,
		store:     deps.Store,
		decrypter: deps.Decrypter,
		audit:     deps.Audit,
		dedup:     deps.Dedup,
		retry:     deps.Retry,
		config:    config,
		logger:    logger.With(zap.String("component", "gateway")),
	}, nil
}

// Generate runs messages against the active persisted configuration and audits the call
func (g *Gateway) Generate(ctx context.Context, messages []providers.Message, opts Options) (*Result, error) {
	start := time.Now()

	cfg, target, err := g.activeTarget(ctx)
	if err != nil {
		if cfg != nil {
			g.record(ctx, cfg, models.RequestTypeGenerate, start, err)
		}
		return nil, err
	}

	res, err := g.GenerateWith(ctx, target, messages, opts)
	g.record(ctx, cfg, models.RequestTypeGenerate, start, err)
	return res, err
}

// GeneratePrompt wraps prompt as a single user message and calls Generate
func (g *Gateway) GeneratePrompt(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, services.ErrEmptyPrompt
	}
	return g.Generate(ctx, []providers.Message{{Role: "user", Content: prompt}}, opts)
}

// GenerateWith runs messages against an explicit target. Nothing is audited.
func (g *Gateway) GenerateWith(ctx context.Context, target Target, messages []providers.Message, opts Options) (*Result, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, services.ErrEmptyPrompt
	}
	initial, err := initialMode(target.Provider, opts)
	if err != nil {
		return nil, err
	}

	base, err := g.registry.Format(target.Provider, target.Model, messages, opts.sampling())
	if err != nil {
		return nil, services.Wrap(services.ErrUnsupportedTarget, err)
	}
	if len(opts.Extra) > 0 {
		base = lo.Assign(base, opts.Extra)
	}
	if len(opts.OmitParams) > 0 {
		base, _ = payload.OmitParams(base, opts.OmitParams)
	}

	endpoint := g.registry.ResolveEndpoint(target.Provider, target.APIURL, target.Model)
	headers := g.registry.BuildHeaders(target.Provider, target.APIKey)
	timeout := g.timeoutFor(target)

	var (
		resp   *transport.Response
		cached bool
	)
	send := func(ctx context.Context, mode toolbridge.Mode) error {
		wire := payload.Sanitize(target.Provider, toolbridge.Apply(base, mode))

		r, outcome, err := g.dedup.Do(ctx, dedup.Key{
			Provider: target.Provider,
			Model:    target.Model,
			Payload:  wire,
			Disabled: opts.DisableDedup,
		}, func(ctx context.Context) (*transport.Response, error) {
			r, err := g.client.Do(ctx, transport.Request{
				Provider: target.Provider,
				URL:      endpoint,
				Headers:  headers,
				Body:     wire,
				Timeout:  timeout,
			})
			if err != nil {
				return nil, err
			}
			return r, nil
		})
		if err != nil {
			return err
		}
		resp = r
		cached = outcome == dedup.OutcomeHit || outcome == dedup.OutcomeCoalesced
		return nil
	}

	report, err := g.retry.Run(ctx, initial, opts.DisableFallback, send)
	if err != nil {
		g.logger.Warn("llm request failed",
			zap.String("provider", target.Provider),
			zap.String("model", target.Model),
			zap.Int("attempts", report.Attempts),
			zap.String("rule", report.Rule),
			zap.Error(err))
		return nil, &GatewayError{Provider: target.Provider, Attempts: report.Attempts, Err: err}
	}

	out := g.extractor.ExtractResult(target.Provider, resp.Body)
	return &Result{
		Text:     out.Text,
		Action:   out.Action,
		Provider: target.Provider,
		Model:    target.Model,
		Cached:   cached,
		Attempts: report.Attempts,
	}, nil
}

// initialMode picks the first bridge mode. An explicit ToolBridge overrides the
// provider default and DisableToolBridge overrides both.
func initialMode(provider string, opts Options) (toolbridge.Mode, error) {
	if opts.ToolBridge == "" {
		return toolbridge.ResolveMode(provider, opts.DisableToolBridge), nil
	}
	mode, err := toolbridge.ParseMode(opts.ToolBridge)
	if err != nil {
		return toolbridge.ModeNone, services.ErrInvalidInput.WithDetail("field", "tool_bridge")
	}
	if opts.DisableToolBridge {
		return toolbridge.ModeNone, nil
	}
	return mode, nil
}

// TrimUnsupportedParams returns opts amended so a retry omits the sampling
// parameters err reports as unsupported, plus the wire fields that will be dropped.
// opts is returned unchanged when err is not an unsupported-parameter error.
func (g *Gateway) TrimUnsupportedParams(opts Options, err error) (Options, []string) {
	msg := providers.MessageOf(err)
	params := map[string]any{"temperature": 0, "top_p": 0, "max_tokens": 0}
	_, removed := payload.TrimUnsupportedParams(params, msg)
	if len(removed) == 0 {
		return opts, nil
	}
	opts.OmitParams = lo.Uniq(append(append([]string(nil), opts.OmitParams...), removed...))
	return opts, removed
}

// DedupStats returns the deduplicator counters
func (g *Gateway) DedupStats() dedup.Stats {
	return g.dedup.Stats()
}

// PurgeDedup drops every cached response and returns the counters afterwards
func (g *Gateway) PurgeDedup() dedup.Stats {
	g.dedup.Purge()
	g.logger.Info("dedup cache purged")
	return g.dedup.Stats()
}

// activeTarget loads and decrypts the persisted configuration. The returned
// config is non-nil whenever one was loaded, even if validation failed.
func (g *Gateway) activeTarget(ctx context.Context) (*models.LLMConfig, Target, error) {
	if g.store == nil {
		return nil, Target{}, services.ErrNoActiveConfig
	}
	cfg, err := g.store.ActiveConfig(ctx)
	if err != nil {
		if errors.Is(err, credentials.ErrNoActiveConfig) {
			return nil, Target{}, services.Wrap(services.ErrNoActiveConfig, err)
		}
		return nil, Target{}, services.WrapInternal("failed to load active LLM configuration", err)
	}

	target := Target{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIURL:      cfg.APIURL,
		RequiresKey: cfg.RequiresKey,
	}
	if cfg.HasKey() {
		if g.decrypter == nil {
			return cfg, target, services.ErrUndecryptableKey
		}
		key, ok := g.decrypter.Decrypt(*cfg.EncryptedKey)
		if !ok {
			return cfg, target, services.ErrUndecryptableKey
		}
		target.APIKey = key
	}
	if err := validateTarget(target); err != nil {
		return cfg, target, err
	}
	return cfg, target, nil
}

func validateTarget(t Target) error {
	if strings.TrimSpace(t.Provider) == "" {
		return services.ErrInvalidProvider
	}
	if strings.TrimSpace(t.Model) == "" {
		return services.ErrInvalidModel
	}
	if strings.TrimSpace(t.APIURL) == "" {
		return services.ErrMissingAPIURL
	}
	if u, err := url.Parse(t.APIURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return services.ErrInvalidInput.WithDetail("field", "api_url")
	}
	if t.RequiresKey && strings.TrimSpace(t.APIKey) == "" {
		return services.ErrMissingAPIKey
	}
	return nil
}

func (g *Gateway) timeoutFor(t Target) time.Duration {
	if g.registry.IsFallbackEndpoint(t.Provider, t.APIURL) {
		return g.config.FallbackTimeout
	}
	return g.config.RequestTimeout
}

func (g *Gateway) record(ctx context.Context, cfg *models.LLMConfig, requestType models.RequestType, start time.Time, err error) {
	if g.audit == nil || cfg == nil {
		return
	}
	rec := audit.Record{
		RequestType: requestType,
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Success:     err == nil,
		Latency:     time.Since(start),
		RequestID:   middleware.GetReqID(ctx),
	}
	if cfg.ID != uuid.Nil {
		id := cfg.ID
		rec.ConfigID = &id
	}
	if err != nil {
		rec.ErrorMessage = errorMessage(err)
		if upstream, ok := providers.AsUpstreamError(err); ok {
			rec.StatusCode = upstream.StatusCode
		}
	}
	if auditErr := g.audit.Record(ctx, rec); auditErr != nil {
		g.logger.Warn("failed to queue audit record",
			zap.String("request_type", string(requestType)),
			zap.Error(auditErr))
	}
}

func errorMessage(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Error()
	}
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
