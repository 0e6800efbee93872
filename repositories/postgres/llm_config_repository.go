package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/repositories"
	"go.uber.org/zap"
)

const llmConfigColumns = `id, provider, model, api_url, encrypted_api_key,
		       requires_key, active, created_at, updated_at`

// LLMConfigRepository implements repositories.LLMConfigRepository
type LLMConfigRepository struct {
	db     *DB
	tm     repositories.TransactionManager
	logger *zap.Logger
}

// NewLLMConfigRepository creates a new LLM config repository
func NewLLMConfigRepository(db *DB, logger *zap.Logger) repositories.LLMConfigRepository {
	return &LLMConfigRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Create stores cfg. New rows are always inactive; use Activate to switch.
func (r *LLMConfigRepository) Create(ctx context.Context, cfg *models.LLMConfig) error {
	query := `
		INSERT INTO llm_configs (
			id, provider, model, api_url, encrypted_api_key,
			requires_key, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		cfg.ID,
		cfg.Provider,
		cfg.Model,
		cfg.APIURL,
		cfg.EncryptedKey,
		cfg.RequiresKey,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create llm config: %w", err)
	}
	cfg.Active = false

	r.logger.Debug("llm config created", zap.String("id", cfg.ID.String()), zap.String("provider", cfg.Provider))
	return nil
}

// GetByID retrieves a configuration by ID
func (r *LLMConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LLMConfig, error) {
	query := `SELECT ` + llmConfigColumns + ` FROM llm_configs WHERE id = $1`
	cfg, err := scanLLMConfig(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("llm config %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get llm config: %w", err)
	}
	return cfg, nil
}

// GetActive retrieves the single active configuration
func (r *LLMConfigRepository) GetActive(ctx context.Context) (*models.LLMConfig, error) {
	query := `SELECT ` + llmConfigColumns + ` FROM llm_configs WHERE active = true LIMIT 1`
	cfg, err := scanLLMConfig(GetExecutor(ctx, r.db).QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active llm config: %w", repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get active llm config: %w", err)
	}
	return cfg, nil
}

// Activate deactivates every configuration and activates id, atomically
func (r *LLMConfigRepository) Activate(ctx context.Context, id uuid.UUID) error {
	return r.tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)
		now := time.Now()

		if _, err := executor.ExecContext(ctx,
			`UPDATE llm_configs SET active = false, updated_at = $1 WHERE active = true`, now); err != nil {
			return fmt.Errorf("failed to deactivate llm configs: %w", err)
		}

		res, err := executor.ExecContext(ctx,
			`UPDATE llm_configs SET active = true, updated_at = $1 WHERE id = $2`, now, id)
		if err != nil {
			return fmt.Errorf("failed to activate llm config: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to activate llm config: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("llm config %s: %w", id, repositories.ErrNotFound)
		}

		r.logger.Info("llm config activated", zap.String("id", id.String()))
		return nil
	})
}

// List retrieves configurations, newest first
func (r *LLMConfigRepository) List(ctx context.Context, limit, offset int) ([]*models.LLMConfig, error) {
	query := `SELECT ` + llmConfigColumns + ` FROM llm_configs ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query llm configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.LLMConfig
	for rows.Next() {
		cfg, err := scanLLMConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan llm config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating llm config rows: %w", err)
	}
	return configs, nil
}

func scanLLMConfig(row rowScanner) (*models.LLMConfig, error) {
	cfg := &models.LLMConfig{}
	err := row.Scan(
		&cfg.ID,
		&cfg.Provider,
		&cfg.Model,
		&cfg.APIURL,
		&cfg.EncryptedKey,
		&cfg.RequiresKey,
		&cfg.Active,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
