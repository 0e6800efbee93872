package models

import (
	"time"

	"github.com/google/uuid"
)

// LLMConfig is a persisted provider configuration. At most one row is active.
type LLMConfig struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Provider     string    `json:"provider" db:"provider"`
	Model        string    `json:"model" db:"model"`
	APIURL       string    `json:"api_url" db:"api_url"`
	EncryptedKey *string   `json:"-" db:"encrypted_api_key"`
	RequiresKey  bool      `json:"requires_key" db:"requires_key"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the LLMConfig model
func (LLMConfig) TableName() string {
	return "llm_configs"
}

// NewLLMConfig creates an inactive LLMConfig
func NewLLMConfig(provider, model, apiURL string, requiresKey bool) *LLMConfig {
	now := time.Now()
	return &LLMConfig{
		ID:          uuid.New(),
		Provider:    provider,
		Model:       model,
		APIURL:      apiURL,
		RequiresKey: requiresKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithEncryptedKey sets the stored, encrypted API key
func (c *LLMConfig) WithEncryptedKey(enc string) *LLMConfig {
	c.EncryptedKey = &enc
	return c
}

// HasKey reports whether an encrypted key is stored
func (c *LLMConfig) HasKey() bool {
	return c.EncryptedKey != nil && *c.EncryptedKey != ""
}
