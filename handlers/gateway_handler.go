package handlers

import (
	"context"
	"net/http"

	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/services/dedup"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
	"go.uber.org/zap"
)

// GenerateRequest is the body of POST /v1/generate. Exactly one of Messages
// or Prompt is needed; Prompt becomes a single user message.
type GenerateRequest struct {
	Messages []providers.Message `json:"messages,omitempty" validate:"required_without=Prompt,dive"`
	Prompt   string              `json:"prompt,omitempty" validate:"required_without=Messages"`
	Options  GenerateOptions     `json:"options"`
	Target   *TargetRequest      `json:"target,omitempty"`
}

// GenerateOptions mirrors gateway.Options on the wire
type GenerateOptions struct {
	MaxTokens         *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Temperature       *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP              *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	DisableToolBridge bool     `json:"disable_tool_bridge,omitempty"`
	ToolBridge        string   `json:"tool_bridge,omitempty"`
	DisableDedup      bool     `json:"disable_dedup,omitempty"`
	DisableFallback   bool     `json:"disable_fallback,omitempty"`
	OmitParams        []string `json:"omit_params,omitempty" validate:"omitempty,dive,oneof=temperature top_p max_tokens"`
}

// TargetRequest selects an explicit provider endpoint instead of the active configuration
type TargetRequest struct {
	Provider string `json:"provider" validate:"required"`
	Model    string `json:"model" validate:"required"`
	APIURL   string `json:"api_url" validate:"required,url"`
	APIKey   string `json:"api_key,omitempty"`
}

// ConnectionTestRequest is the body of POST /v1/connection/test. An empty
// body tests the active configuration.
type ConnectionTestRequest struct {
	Target *TargetRequest `json:"target,omitempty"`
}

// GatewayService defines the gateway operations used by the HTTP layer
type GatewayService interface {
	Generate(ctx context.Context, messages []providers.Message, opts gateway.Options) (*gateway.Result, error)
	GenerateWith(ctx context.Context, target gateway.Target, messages []providers.Message, opts gateway.Options) (*gateway.Result, error)
	TestConnection(ctx context.Context, override *gateway.Target) gateway.ConnectionResult
	DedupStats() dedup.Stats
	PurgeDedup() dedup.Stats
}

// GatewayHandler handles LLM gateway HTTP requests
type GatewayHandler struct {
	service GatewayService
	logger  *zap.Logger
}

// NewGatewayHandler creates a new GatewayHandler
func NewGatewayHandler(service GatewayService, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGenerate handles POST /v1/generate
func (h *GatewayHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req GenerateRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	messages := req.Messages
	if len(messages) == 0 {
		messages = []providers.Message{{Role: "user", Content: req.Prompt}}
	}
	opts := req.Options.toGateway()

	var (
		result *gateway.Result
		err    error
	)
	if req.Target != nil {
		result, err = h.service.GenerateWith(ctx, req.Target.toGateway(), messages, opts)
	} else {
		result, err = h.service.Generate(ctx, messages, opts)
	}
	if err != nil {
		h.logger.Error("generate failed",
			zap.String("request_id", requestID),
			zap.String("subject", subjectOf(ctx)),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("generate successful",
		zap.String("request_id", requestID),
		zap.String("subject", subjectOf(ctx)),
		zap.String("provider", result.Provider),
		zap.String("model", result.Model),
		zap.Bool("cached", result.Cached),
		zap.Int("attempts", result.Attempts))

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleConnectionTest handles POST /v1/connection/test. Connection failures are
// reported in the body with status 200; only malformed requests are rejected.
func (h *GatewayHandler) HandleConnectionTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ConnectionTestRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(w, r, &req); err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
	}

	var override *gateway.Target
	if req.Target != nil {
		t := req.Target.toGateway()
		override = &t
	}

	result := h.service.TestConnection(ctx, override)
	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write connection test response", zap.Error(err))
	}
}

// HandleDedupStats handles GET /v1/dedup/stats
func (h *GatewayHandler) HandleDedupStats(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.service.DedupStats()); err != nil {
		h.logger.Error("failed to write dedup stats response", zap.Error(err))
	}
}

// HandleDedupPurge handles DELETE /v1/dedup/cache
func (h *GatewayHandler) HandleDedupPurge(w http.ResponseWriter, r *http.Request) {
	stats := h.service.PurgeDedup()
	h.logger.Info("dedup cache purged",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("subject", subjectOf(r.Context())))
	if err := utils.WriteOK(w, stats); err != nil {
		h.logger.Error("failed to write dedup purge response", zap.Error(err))
	}
}

func (o GenerateOptions) toGateway() gateway.Options {
	return gateway.Options{
		MaxTokens:         o.MaxTokens,
		Temperature:       o.Temperature,
		TopP:              o.TopP,
		DisableToolBridge: o.DisableToolBridge,
		ToolBridge:        o.ToolBridge,
		DisableDedup:      o.DisableDedup,
		DisableFallback:   o.DisableFallback,
		OmitParams:        o.OmitParams,
	}
}

func (t TargetRequest) toGateway() gateway.Target {
	return gateway.Target{
		Provider: t.Provider,
		Model:    t.Model,
		APIURL:   t.APIURL,
		APIKey:   t.APIKey,
	}
}

// subjectOf returns the bearer token subject, or "" when auth is off
func subjectOf(ctx context.Context) string {
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		return claims.Sub
	}
	return ""
}
