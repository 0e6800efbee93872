package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/llm-gateway/models"
)

// ErrNotFound is wrapped by repositories when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// LLMConfigRepository handles persisted provider configurations
type LLMConfigRepository interface {
	// Create stores a new, inactive configuration
	Create(ctx context.Context, cfg *models.LLMConfig) error

	// GetByID retrieves a configuration by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.LLMConfig, error)

	// GetActive retrieves the single active configuration
	GetActive(ctx context.Context) (*models.LLMConfig, error)

	// Activate makes id the only active configuration
	Activate(ctx context.Context, id uuid.UUID) error

	// List retrieves configurations, newest first
	List(ctx context.Context, limit, offset int) ([]*models.LLMConfig, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// List retrieves audit logs, newest first
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)

	// GetByRequestID retrieves audit logs by request ID
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	LLMConfigs LLMConfigRepository
	AuditLogs  AuditRepository
}
