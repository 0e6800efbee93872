package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/services/credentials"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/transport"
	"go.uber.org/zap"
)

func TestTestConnection_Override(t *testing.T) {
	f := newFixture(t, func(int, transport.Request) (*transport.Response, error) {
		return ok(`{"choices":[{"message":{"content":"pong"}}]}`), nil
	})
	target := openAITarget()

	result := f.gw.TestConnection(context.Background(), &target)

	assert.True(t, result.Success)
	assert.Equal(t, "pong", result.Response)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "openai", result.Provider)
	assert.Empty(t, result.ErrorType)

	body := f.client.body(0)
	assert.Equal(t, 16, body["max_tokens"])
	messages := body["messages"].([]any)
	assert.Equal(t, "ping", messages[0].(map[string]any)["content"])
	assert.Empty(t, f.sink.all(), "caller overrides are never audited")
}

func TestTestConnection_BypassesDedupAndRetry(t *testing.T) {
	f := newFixture(t, scripted("openai", openAIText,
		"attempted to call tool 'x' which was not in request.tools",
		"attempted to call tool 'x' which was not in request.tools"))
	target := openAITarget()

	first := f.gw.TestConnection(context.Background(), &target)
	second := f.gw.TestConnection(context.Background(), &target)

	assert.False(t, first.Success)
	assert.False(t, second.Success)
	assert.Equal(t, 2, f.client.count(), "one call per test, no recovery attempts")
	assert.Zero(t, f.gw.DedupStats().Misses+f.gw.DedupStats().Bypassed)
}

func TestTestConnection_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		respond     func(int, transport.Request) (*transport.Response, error)
		wantType    string
		wantMessage string
		wantStatus  int
	}{
		{
			name: "api error message",
			respond: func(int, transport.Request) (*transport.Response, error) {
				return failWith("openai", http.StatusUnauthorized, `{"error":{"message":"Invalid API key"}}`)
			},
			wantType:    ErrorTypeAPI,
			wantMessage: "Invalid API key",
			wantStatus:  http.StatusUnauthorized,
		},
		{
			name: "api error detail",
			respond: func(int, transport.Request) (*transport.Response, error) {
				return failWith("openai", http.StatusUnprocessableEntity, `{"detail":"model not found"}`)
			},
			wantType:    ErrorTypeAPI,
			wantMessage: "model not found",
			wantStatus:  http.StatusUnprocessableEntity,
		},
		{
			name: "api error status text",
			respond: func(int, transport.Request) (*transport.Response, error) {
				resp := &transport.Response{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}
				return resp, providers.NewUpstreamError("openai", resp.StatusCode, resp.Status, nil, nil)
			},
			wantType:    ErrorTypeAPI,
			wantMessage: "Bad Gateway",
			wantStatus:  http.StatusBadGateway,
		},
		{
			name: "api error unknown",
			respond: func(int, transport.Request) (*transport.Response, error) {
				resp := &transport.Response{StatusCode: 599}
				return resp, providers.NewUpstreamError("openai", resp.StatusCode, "", []byte("{}"), nil)
			},
			wantType:    ErrorTypeAPI,
			wantMessage: providers.UnknownErrorMessage,
			wantStatus:  599,
		},
		{
			name: "network error",
			respond: func(int, transport.Request) (*transport.Response, error) {
				return nil, &providers.TransportError{Provider: "openai", URL: "https://api.openai.test", Cause: errors.New("connection refused")}
			},
			wantType: ErrorTypeNetwork,
		},
		{
			name: "setup error",
			respond: func(int, transport.Request) (*transport.Response, error) {
				return nil, &transport.SetupError{Provider: "openai", Cause: errors.New("bad header")}
			},
			wantType: ErrorTypeSetup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.respond)
			target := openAITarget()

			result := f.gw.TestConnection(context.Background(), &target)

			assert.False(t, result.Success)
			assert.Equal(t, tt.wantType, result.ErrorType)
			assert.Equal(t, tt.wantStatus, result.StatusCode)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, result.Message)
			} else {
				assert.NotEmpty(t, result.Message)
			}
		})
	}
}

func TestTestConnection_InvalidOverride(t *testing.T) {
	f := newFixture(t, scripted("openai", openAIText))
	target := openAITarget()
	target.Model = ""

	result := f.gw.TestConnection(context.Background(), &target)

	assert.False(t, result.Success)
	assert.Equal(t, ErrorTypeSetup, result.ErrorType)
	assert.Equal(t, "invalid model specified", result.Message)
	assert.Zero(t, f.client.count())
}

func TestTestConnection_NonHTTPSchemeIsSetupError(t *testing.T) {
	client := transport.NewHTTPClient(transport.Config{DefaultTimeout: time.Second}, zap.NewNop(), nil)
	gw, err := New(Deps{Registry: providers.NewRegistry(), Client: client},
		Config{RequestTimeout: time.Second, FallbackTimeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	for _, apiURL := range []string{"ftp://host/x", "file:///etc/llm", "http://"} {
		t.Run(apiURL, func(t *testing.T) {
			target := openAITarget()
			target.APIURL = apiURL

			result := gw.TestConnection(context.Background(), &target)

			assert.False(t, result.Success)
			assert.Equal(t, ErrorTypeSetup, result.ErrorType)
			assert.NotEqual(t, ErrorTypeNetwork, result.ErrorType)
		})
	}
}

func TestTestConnection_UnsupportedProvider(t *testing.T) {
	f := newFixture(t, scripted("acme", openAIText))
	target := openAITarget()
	target.Provider = "acme"

	result := f.gw.TestConnection(context.Background(), &target)

	assert.Equal(t, ErrorTypeSetup, result.ErrorType)
	assert.Zero(t, f.client.count())
}

func TestTestConnection_ActiveConfigIsAudited(t *testing.T) {
	f := newFixture(t, scripted("openai", `{"choices":[{"message":{"content":"pong"}}]}`))
	cfg := activeConfig(t, f)

	result := f.gw.TestConnection(context.Background(), nil)

	require.True(t, result.Success)
	assert.Equal(t, "gpt-4o", result.Model)
	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.RequestTypeConnectionTest, records[0].RequestType)
	assert.True(t, records[0].Success)
	assert.Equal(t, cfg.ID, *records[0].ConfigID)
}

func TestTestConnection_ActiveConfigFailureIsAudited(t *testing.T) {
	f := newFixture(t, func(int, transport.Request) (*transport.Response, error) {
		return failWith("openai", http.StatusTooManyRequests, `{"message":"slow down"}`)
	})
	activeConfig(t, f)

	result := f.gw.TestConnection(context.Background(), nil)

	assert.Equal(t, ErrorTypeAPI, result.ErrorType)
	records := f.sink.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, http.StatusTooManyRequests, records[0].StatusCode)
}

func TestTestConnection_NoActiveConfig(t *testing.T) {
	f := newFixture(t, scripted("openai", openAIText))
	f.store.err = credentials.ErrNoActiveConfig

	result := f.gw.TestConnection(context.Background(), nil)

	assert.False(t, result.Success)
	assert.Equal(t, ErrorTypeSetup, result.ErrorType)
	assert.Equal(t, "no active LLM configuration", result.Message)
	assert.Empty(t, f.sink.all())
}
