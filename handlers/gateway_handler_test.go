package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/dedup"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers"
	"go.uber.org/zap"
)

// MockGatewayService is a mock implementation of GatewayService
type MockGatewayService struct {
	mock.Mock
}

func (m *MockGatewayService) Generate(ctx context.Context, messages []providers.Message, opts gateway.Options) (*gateway.Result, error) {
	args := m.Called(ctx, messages, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Result), args.Error(1)
}

func (m *MockGatewayService) GenerateWith(ctx context.Context, target gateway.Target, messages []providers.Message, opts gateway.Options) (*gateway.Result, error) {
	args := m.Called(ctx, target, messages, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Result), args.Error(1)
}

func (m *MockGatewayService) TestConnection(ctx context.Context, override *gateway.Target) gateway.ConnectionResult {
	args := m.Called(ctx, override)
	return args.Get(0).(gateway.ConnectionResult)
}

func (m *MockGatewayService) DedupStats() dedup.Stats {
	args := m.Called()
	return args.Get(0).(dedup.Stats)
}

func (m *MockGatewayService) PurgeDedup() dedup.Stats {
	args := m.Called()
	return args.Get(0).(dedup.Stats)
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data, ok := response["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", response)
	return data
}

func TestHandleGenerate(t *testing.T) {
	logger := zap.NewNop()

	t.Run("prompt uses active configuration", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("Generate", mock.Anything,
			[]providers.Message{{Role: "user", Content: "Hello"}},
			mock.MatchedBy(func(opts gateway.Options) bool {
				return opts.MaxTokens != nil && *opts.MaxTokens == 64 && opts.DisableDedup && opts.ToolBridge == "minimal"
			})).
			Return(&gateway.Result{Text: "Hi there", Provider: "openai", Model: "gpt-4o", Attempts: 1}, nil)

		req := postJSON("/v1/generate", `{"prompt":"Hello","options":{"max_tokens":64,"disable_dedup":true,"tool_bridge":"minimal"}}`)
		req = req.WithContext(middleware.WithRequestID(req.Context(), "req-1"))
		w := httptest.NewRecorder()

		handler.HandleGenerate(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, "Hi there", data["text"])
		assert.Equal(t, "openai", data["provider"])
		assert.Equal(t, false, data["cached"])
		assert.Equal(t, float64(1), data["attempts"])
		assert.NotContains(t, data, "action")
		mockService.AssertExpectations(t)
	})

	t.Run("explicit target", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		target := gateway.Target{Provider: "groq", Model: "llama-3.1-8b", APIURL: "https://api.groq.com/openai/v1", APIKey: "gsk-test"}
		messages := []providers.Message{
			{Role: "system", Content: "Be brief"},
			{Role: "user", Content: "Hi"},
		}
		mockService.On("GenerateWith", mock.Anything, target, messages, mock.Anything).
			Return(&gateway.Result{Text: "Hello", Action: map[string]any{"name": "lookup"}, Provider: "groq", Model: "llama-3.1-8b", Cached: true, Attempts: 1}, nil)

		body, _ := json.Marshal(map[string]any{
			"messages": messages,
			"target": map[string]any{
				"provider": "groq",
				"model":    "llama-3.1-8b",
				"api_url":  "https://api.groq.com/openai/v1",
				"api_key":  "gsk-test",
			},
		})
		w := httptest.NewRecorder()

		handler.HandleGenerate(w, httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewReader(body)))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, true, data["cached"])
		assert.Equal(t, "lookup", data["action"].(map[string]interface{})["name"])
		mockService.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejected requests", func(t *testing.T) {
		tests := []struct {
			name         string
			body         string
			wantStatus   int
			wantDetailOn string
		}{
			{name: "malformed json", body: `{"prompt":`, wantStatus: http.StatusBadRequest},
			{name: "unknown field", body: `{"prompt":"hi","stream":true}`, wantStatus: http.StatusBadRequest},
			{name: "neither prompt nor messages", body: `{}`, wantStatus: http.StatusBadRequest, wantDetailOn: "prompt"},
			{name: "bad role", body: `{"messages":[{"role":"robot","content":"x"}]}`, wantStatus: http.StatusBadRequest, wantDetailOn: "messages[0].role"},
			{name: "temperature too high", body: `{"prompt":"hi","options":{"temperature":2.5}}`, wantStatus: http.StatusBadRequest, wantDetailOn: "options.temperature"},
			{name: "unknown omitted param", body: `{"prompt":"hi","options":{"omit_params":["stop"]}}`, wantStatus: http.StatusBadRequest, wantDetailOn: "options.omit_params[0]"},
			{name: "target without url", body: `{"prompt":"hi","target":{"provider":"openai","model":"gpt-4o"}}`, wantStatus: http.StatusBadRequest, wantDetailOn: "target.api_url"},
			{name: "too large", body: `{"prompt":"` + strings.Repeat("a", 1<<20) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mockService := new(MockGatewayService)
				handler := NewGatewayHandler(mockService, logger)
				w := httptest.NewRecorder()

				handler.HandleGenerate(w, postJSON("/v1/generate", tt.body))

				assert.Equal(t, tt.wantStatus, w.Code)
				if tt.wantDetailOn != "" {
					var response map[string]interface{}
					require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
					assert.Contains(t, response["details"], tt.wantDetailOn)
				}
				mockService.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("service errors", func(t *testing.T) {
		tests := []struct {
			name       string
			err        error
			wantStatus int
		}{
			{name: "no active config", err: services.ErrNoActiveConfig, wantStatus: http.StatusNotFound},
			{name: "missing key", err: services.ErrMissingAPIKey, wantStatus: http.StatusBadRequest},
			{name: "upstream failure", err: &gateway.GatewayError{Provider: "openai", Attempts: 1, Err: providers.NewUpstreamError("openai", 500, "500 Internal Server Error", nil, nil)}, wantStatus: http.StatusBadGateway},
			{name: "store failure", err: services.ErrDatabaseError, wantStatus: http.StatusInternalServerError},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mockService := new(MockGatewayService)
				handler := NewGatewayHandler(mockService, logger)
				mockService.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

				w := httptest.NewRecorder()
				handler.HandleGenerate(w, postJSON("/v1/generate", `{"prompt":"hi"}`))

				assert.Equal(t, tt.wantStatus, w.Code)
			})
		}
	})
}

func TestHandleConnectionTest(t *testing.T) {
	logger := zap.NewNop()

	t.Run("empty body tests active configuration", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)
		mockService.On("TestConnection", mock.Anything, (*gateway.Target)(nil)).
			Return(gateway.ConnectionResult{Success: true, Provider: "openai", Model: "gpt-4o", Response: "pong", StatusCode: 200, LatencyMs: 12})

		w := httptest.NewRecorder()
		handler.HandleConnectionTest(w, httptest.NewRequest(http.MethodPost, "/v1/connection/test", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, true, data["success"])
		assert.Equal(t, "pong", data["response"])
		assert.NotContains(t, data, "error_type")
		mockService.AssertExpectations(t)
	})

	t.Run("failed connection test is still 200", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)
		mockService.On("TestConnection", mock.Anything, mock.MatchedBy(func(target *gateway.Target) bool {
			return target != nil && target.Provider == "anthropic" && target.APIKey == "sk-ant"
		})).Return(gateway.ConnectionResult{Provider: "anthropic", ErrorType: gateway.ErrorTypeAPI, Message: "invalid x-api-key", StatusCode: 401})

		body := `{"target":{"provider":"anthropic","model":"claude-3-5-haiku","api_url":"https://api.anthropic.com/v1","api_key":"sk-ant"}}`
		w := httptest.NewRecorder()
		handler.HandleConnectionTest(w, postJSON("/v1/connection/test", body))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, false, data["success"])
		assert.Equal(t, "api", data["error_type"])
		assert.Equal(t, "invalid x-api-key", data["message"])
		mockService.AssertExpectations(t)
	})

	t.Run("invalid target", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		w := httptest.NewRecorder()
		handler.HandleConnectionTest(w, postJSON("/v1/connection/test", `{"target":{"provider":"openai"}}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "TestConnection", mock.Anything, mock.Anything)
	})
}

func TestHandleDedupStats(t *testing.T) {
	mockService := new(MockGatewayService)
	handler := NewGatewayHandler(mockService, zap.NewNop())
	mockService.On("DedupStats").Return(dedup.Stats{Hits: 3, Misses: 2, Coalesced: 1, Size: 2})

	w := httptest.NewRecorder()
	handler.HandleDedupStats(w, httptest.NewRequest(http.MethodGet, "/v1/dedup/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(3), data["hits"])
	assert.Equal(t, float64(1), data["coalesced"])
	assert.Equal(t, float64(0), data["in_flight"])
}

func TestHandleDedupPurge(t *testing.T) {
	mockService := new(MockGatewayService)
	handler := NewGatewayHandler(mockService, zap.NewNop())
	mockService.On("PurgeDedup").Return(dedup.Stats{Hits: 3, Misses: 2, Size: 0, InFlight: 1})

	w := httptest.NewRecorder()
	handler.HandleDedupPurge(w, httptest.NewRequest(http.MethodDelete, "/v1/dedup/cache", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(0), data["size"])
	assert.Equal(t, float64(1), data["in_flight"])
	mockService.AssertExpectations(t)
}
