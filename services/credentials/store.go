package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/repositories"
)

// ErrNoActiveConfig is returned when no persisted configuration is active
var ErrNoActiveConfig = errors.New("no active LLM configuration")

// Store provides the active persisted provider configuration
type Store interface {
	ActiveConfig(ctx context.Context) (*models.LLMConfig, error)
}

// RepositoryStore implements Store over an LLMConfigRepository
type RepositoryStore struct {
	repo repositories.LLMConfigRepository
}

// NewRepositoryStore creates a new RepositoryStore
func NewRepositoryStore(repo repositories.LLMConfigRepository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

// ActiveConfig returns the active configuration or ErrNoActiveConfig
func (s *RepositoryStore) ActiveConfig(ctx context.Context) (*models.LLMConfig, error) {
	cfg, err := s.repo.GetActive(ctx)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNoActiveConfig
		}
		return nil, fmt.Errorf("failed to load active LLM configuration: %w", err)
	}
	return cfg, nil
}
