package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/upb/llm-gateway/services/audit"
	"github.com/upb/llm-gateway/utils"
	"go.uber.org/zap"
)

// Version is reported by the status endpoint
const Version = "0.3.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse describes the running gateway
type StatusResponse struct {
	Version     string   `json:"version"`
	Environment string   `json:"environment"`
	Providers   []string     `json:"providers"`
	Audit       *audit.Stats `json:"audit,omitempty"`
}

// ProviderLister lists the registered provider profiles
type ProviderLister interface {
	List() []string
	Count() int
}

// AuditStatter reports the audit queue counters
type AuditStatter interface {
	GetStats() audit.Stats
}

var errNoDatabase = errors.New("database not connected")

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          *sql.DB
	providers   ProviderLister
	audit       AuditStatter
	environment string
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. auditStats may be nil.
func NewHealthHandler(db *sql.DB, providers ProviderLister, auditStats AuditStatter, environment string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		providers:   providers,
		audit:       auditStats,
		environment: environment,
		logger:      logger,
	}
}

// HandleHealth handles GET /health
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /health/ready
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx); err != nil {
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.providers == nil || h.providers.Count() == 0 {
		checks["providers"] = "none_registered"
		allHealthy = false
	} else {
		checks["providers"] = "registered"
	}

	if h.audit != nil {
		if h.audit.GetStats().Started {
			checks["audit"] = "running"
		} else {
			checks["audit"] = "stopped"
			allHealthy = false
		}
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	var err error
	if allHealthy {
		err = utils.WriteOK(w, response)
	} else {
		response.Status = "unhealthy"
		err = utils.WriteServiceUnavailable(w, utils.SuccessResponse{Data: response})
	}
	if err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	providers := []string{}
	if h.providers != nil {
		providers = h.providers.List()
	}
	response := StatusResponse{
		Version:     Version,
		Environment: h.environment,
		Providers:   providers,
	}
	if h.audit != nil {
		stats := h.audit.GetStats()
		response.Audit = &stats
	}
	_ = utils.WriteOK(w, response)
}

// checkDatabase pings the database and runs a trivial query
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		h.logger.Warn("database health check failed", zap.Error(errNoDatabase))
		return errNoDatabase
	}
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	return nil
}
