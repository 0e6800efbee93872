package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/internal/observability"
	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/repositories"
	"github.com/upb/llm-gateway/repositories/postgres"
	"github.com/upb/llm-gateway/services/audit"
	"github.com/upb/llm-gateway/services/credentials"
	"github.com/upb/llm-gateway/services/dedup"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/retry"
	"github.com/upb/llm-gateway/services/transport"
	"go.uber.org/zap"
)

// auditStopTimeout bounds how long Close waits for queued audit events
const auditStopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	LLMConfigs repositories.LLMConfigRepository
	AuditLogs  repositories.AuditRepository
	TxManager  repositories.TransactionManager

	// Gateway pipeline
	Registry *providers.Registry
	Cipher   *credentials.Cipher
	Audit    *audit.AuditService
	Gateway  *gateway.Gateway

	// Auth, nil when AUTH_JWT_SECRET is unset
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initGateway(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase connects to PostgreSQL and creates the schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(ctx, cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		d.RepoFactory, d.DB = nil, nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.LLMConfigs = repos.LLMConfigs
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initGateway builds the provider registry, the credential store and the
// request pipeline. The audit workers are started here.
func (d *Dependencies) initGateway(cfg *config.Config) error {
	registry, err := NewRegistry(cfg.Gateway.ProfilesFile, d.Logger)
	if err != nil {
		return err
	}
	d.Registry = registry

	cipher, err := credentials.NewCipher(cfg.Gateway.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}
	if cfg.Gateway.EncryptionKey == "" {
		d.Logger.Warn("LLM_CONFIG_ENCRYPTION_KEY not set, only plaintext stored API keys can be used")
	}
	d.Cipher = cipher

	auditCfg := audit.DefaultConfig()
	if cfg.Audit.BufferSize > 0 {
		auditCfg.BufferSize = cfg.Audit.BufferSize
	}
	if cfg.Audit.WorkerCount > 0 {
		auditCfg.WorkerCount = cfg.Audit.WorkerCount
	}
	d.Audit = audit.NewAuditService(d.AuditLogs, d.Logger, auditCfg).WithObserver(d.Metrics)
	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	gw, err := NewGateway(GatewayParams{
		Config:    cfg.Gateway,
		Registry:  registry,
		Store:     credentials.NewRepositoryStore(d.LLMConfigs),
		Decrypter: cipher,
		Audit:     d.Audit,
		Metrics:   d.Metrics,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.Gateway = gw
	return nil
}

// GatewayParams are the inputs of NewGateway. Store, Decrypter, Audit and
// Metrics may be nil.
type GatewayParams struct {
	Config    config.GatewayConfig
	Registry  *providers.Registry
	Store     credentials.Store
	Decrypter credentials.Decrypter
	Audit     audit.Sink
	Metrics   *observability.Metrics
}

// NewGateway wires the transport, deduplicator and retry orchestrator into a
// Gateway according to the gateway configuration
func NewGateway(p GatewayParams, logger *zap.Logger) (*gateway.Gateway, error) {
	var (
		transportObs transport.Observer
		dedupObs     dedup.Observer
		retryObs     retry.Observer
	)
	if p.Metrics != nil {
		transportObs, dedupObs, retryObs = p.Metrics, p.Metrics, p.Metrics
	}

	client := transport.NewHTTPClient(transport.Config{
		DefaultTimeout: p.Config.RequestTimeout,
		DebugRequests:  p.Config.DebugRequests,
	}, logger, transportObs)

	dd := dedup.New[*transport.Response](dedup.Config{
		Enabled:               p.Config.DedupEnabled,
		DeterministicTTL:      p.Config.DeterministicTTL,
		NonDeterministicTTL:   p.Config.NonDeterministicTTL,
		MaxEntries:            p.Config.MaxCacheEntries,
		CacheNonDeterministic: p.Config.CacheNonDeterministic,
	}, logger, dedupObs)

	deps := gateway.Deps{
		Registry:  p.Registry,
		Client:    client,
		Store:     p.Store,
		Decrypter: p.Decrypter,
		Dedup:     dd,
		Retry:     retry.NewOrchestrator(logger, retryObs),
	}
	if p.Audit != nil {
		deps.Audit = p.Audit
	}

	return gateway.New(deps, gateway.Config{
		RequestTimeout:  p.Config.RequestTimeout,
		FallbackTimeout: p.Config.FallbackTimeout,
	}, logger)
}

// NewRegistry returns the built-in provider registry extended with the
// profiles in profilesFile, when set
func NewRegistry(profilesFile string, logger *zap.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	if profilesFile == "" {
		return registry, nil
	}

	n, err := registry.LoadFile(profilesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider profiles: %w", err)
	}
	logger.Info("provider profiles loaded",
		zap.String("file", profilesFile),
		zap.Int("profiles", n),
		zap.Strings("providers", registry.List()))
	return registry, nil
}

// initAuth enables bearer auth on /v1 when a JWT secret is configured
func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, /v1 endpoints are unauthenticated")
		return nil
	}
	validator, err := middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("bearer token auth enabled", zap.String("issuer", cfg.Auth.JWTIssuer))
	return nil
}

// SQLDB returns the main database handle, or nil when none is connected
func (d *Dependencies) SQLDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

// Close gracefully shuts down all dependencies. It is safe to call twice.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// drain audit events before the database goes away
	if d.Audit != nil {
		if err := d.Audit.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.Audit = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory, d.DB = nil, nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
