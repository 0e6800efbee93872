package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/services/payload"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/transport"
	"go.uber.org/zap"
)

const (
	pingPrompt    = "ping"
	pingMaxTokens = 16
)

// TestConnection sends one small prompt to override, or to the active persisted
// configuration when override is nil. The test call skips the deduplicator and the
// retry orchestrator. Only tests of the persisted configuration are audited.
func (g *Gateway) TestConnection(ctx context.Context, override *Target) ConnectionResult {
	start := time.Now()

	var (
		cfg    *models.LLMConfig
		target Target
		err    error
	)
	if override != nil {
		target = *override
		err = validateTarget(target)
	} else {
		cfg, target, err = g.activeTarget(ctx)
	}

	result := ConnectionResult{Provider: target.Provider, Model: target.Model}
	if err != nil {
		result.ErrorType = ErrorTypeSetup
		result.Message = errorMessage(err)
		g.finishConnectionTest(ctx, cfg, start, &result, err)
		return result
	}

	maxTokens := pingMaxTokens
	body, err := g.registry.FormatPrompt(target.Provider, target.Model, pingPrompt, providers.SamplingOptions{MaxTokens: &maxTokens})
	if err != nil {
		result.ErrorType = ErrorTypeSetup
		result.Message = err.Error()
		g.finishConnectionTest(ctx, cfg, start, &result, err)
		return result
	}

	resp, err := g.client.Do(ctx, transport.Request{
		Provider: target.Provider,
		URL:      g.registry.ResolveEndpoint(target.Provider, target.APIURL, target.Model),
		Headers:  g.registry.BuildHeaders(target.Provider, target.APIKey),
		Body:     payload.Sanitize(target.Provider, body),
		Timeout:  g.timeoutFor(target),
	})
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}
	if err != nil {
		result.ErrorType, result.Message = classifyConnectionError(err)
		g.finishConnectionTest(ctx, cfg, start, &result, err)
		return result
	}

	result.Success = true
	result.Response = g.extractor.Extract(target.Provider, resp.Body)
	g.finishConnectionTest(ctx, cfg, start, &result, nil)
	return result
}

func classifyConnectionError(err error) (string, string) {
	if upstream, ok := providers.AsUpstreamError(err); ok {
		return ErrorTypeAPI, upstream.Message
	}
	var setupErr *transport.SetupError
	if errors.As(err, &setupErr) {
		return ErrorTypeSetup, setupErr.Error()
	}
	return ErrorTypeNetwork, err.Error()
}

func (g *Gateway) finishConnectionTest(ctx context.Context, cfg *models.LLMConfig, start time.Time, result *ConnectionResult, err error) {
	result.LatencyMs = time.Since(start).Milliseconds()

	fields := []zap.Field{
		zap.String("provider", result.Provider),
		zap.String("model", result.Model),
		zap.Bool("persisted", cfg != nil),
		zap.Int64("latency_ms", result.LatencyMs),
	}
	if result.Success {
		g.logger.Info("connection test succeeded", fields...)
	} else {
		g.logger.Warn("connection test failed", append(fields,
			zap.String("error_type", result.ErrorType),
			zap.String("message", result.Message))...)
	}

	g.record(ctx, cfg, models.RequestTypeConnectionTest, start, err)
}
