package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/services/credentials"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
)

type MockLLMConfigRepository struct {
	mock.Mock
}

func (m *MockLLMConfigRepository) Create(ctx context.Context, cfg *models.LLMConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockLLMConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LLMConfig, error) {
	args := m.Called(ctx, id)
	if cfg := args.Get(0); cfg != nil {
		return cfg.(*models.LLMConfig), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLLMConfigRepository) GetActive(ctx context.Context) (*models.LLMConfig, error) {
	args := m.Called(ctx)
	if cfg := args.Get(0); cfg != nil {
		return cfg.(*models.LLMConfig), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLLMConfigRepository) Activate(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLLMConfigRepository) List(ctx context.Context, limit, offset int) ([]*models.LLMConfig, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*models.LLMConfig), args.Error(1)
}

func TestStoreConfig(t *testing.T) {
	ctx := context.Background()
	registry := providers.NewRegistry()
	cipher, err := credentials.NewCipher(testEncryptionKey)
	require.NoError(t, err)

	t.Run("seals key and activates", func(t *testing.T) {
		repo := new(MockLLMConfigRepository)
		repo.On("Create", ctx, mock.AnythingOfType("*models.LLMConfig")).Return(nil)
		repo.On("Activate", ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

		stored, err := storeConfig(ctx, repo, registry, cipher, configureInput{
			Provider: "OpenAI",
			Model:    "gpt-4o",
			APIURL:   "https://api.openai.com/v1",
			APIKey:   "sk-live",
			Activate: true,
		})
		require.NoError(t, err)

		assert.Equal(t, "openai", stored.Provider)
		assert.True(t, stored.RequiresKey)
		assert.True(t, stored.Active)
		require.True(t, stored.HasKey())
		assert.NotEqual(t, "sk-live", *stored.EncryptedKey)

		plain, ok := cipher.Decrypt(*stored.EncryptedKey)
		require.True(t, ok)
		assert.Equal(t, "sk-live", plain)
		repo.AssertExpectations(t)
	})

	t.Run("keyless local runtime stays inactive", func(t *testing.T) {
		repo := new(MockLLMConfigRepository)
		repo.On("Create", ctx, mock.AnythingOfType("*models.LLMConfig")).Return(nil)

		stored, err := storeConfig(ctx, repo, registry, cipher, configureInput{
			Provider: "ollama",
			Model:    "llama3",
			APIURL:   "http://localhost:11434",
		})
		require.NoError(t, err)

		assert.False(t, stored.RequiresKey)
		assert.False(t, stored.HasKey())
		assert.False(t, stored.Active)
		repo.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
	})

	t.Run("rejected input", func(t *testing.T) {
		tests := []struct {
			name    string
			in      configureInput
			wantErr string
		}{
			{
				name:    "missing model",
				in:      configureInput{Provider: "openai", APIURL: "https://api.openai.com/v1", APIKey: "k"},
				wantErr: "model is required",
			},
			{
				name:    "relative url",
				in:      configureInput{Provider: "openai", Model: "gpt-4o", APIURL: "api.openai.com", APIKey: "k"},
				wantErr: "api_url must be an absolute URL",
			},
			{
				name:    "unknown provider",
				in:      configureInput{Provider: "nope", Model: "m", APIURL: "https://example.com"},
				wantErr: `unknown provider "nope"`,
			},
			{
				name:    "missing key",
				in:      configureInput{Provider: "anthropic", Model: "claude-3-5-sonnet", APIURL: "https://api.anthropic.com"},
				wantErr: "provider anthropic requires an API key",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := new(MockLLMConfigRepository)

				_, err := storeConfig(ctx, repo, registry, cipher, tt.in)
				require.Error(t, err)
				if utils.IsValidationError(err) {
					assert.Contains(t, utils.GetValidationFields(err), fieldOf(tt.wantErr))
				} else {
					assert.Contains(t, err.Error(), tt.wantErr)
				}
				repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := new(MockLLMConfigRepository)
		repo.On("Create", ctx, mock.Anything).Return(errors.New("insert failed"))

		_, err := storeConfig(ctx, repo, registry, cipher, configureInput{
			Provider: "groq",
			Model:    "llama-3.1-8b-instant",
			APIURL:   "https://api.groq.com/openai/v1",
			APIKey:   "gsk-test",
			Activate: true,
		})
		assert.EqualError(t, err, "insert failed")
		repo.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
	})
}

// fieldOf returns the field name a validation message starts with
func fieldOf(msg string) string {
	name, _, _ := strings.Cut(msg, " ")
	return name
}
