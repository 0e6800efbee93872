package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestType identifies which gateway operation produced an audit entry
type RequestType string

const (
	RequestTypeGenerate       RequestType = "generate"
	RequestTypeConnectionTest RequestType = "connection_test"
)

// AuditLog represents one audited gateway call made with the active configuration
type AuditLog struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	ConfigID     *uuid.UUID  `json:"config_id,omitempty" db:"config_id"`
	RequestType  RequestType `json:"request_type" db:"request_type"`
	Provider     string      `json:"provider" db:"provider"`
	Model        string      `json:"model" db:"model"`
	Success      bool        `json:"success" db:"success"`
	ErrorMessage *string     `json:"error_message,omitempty" db:"error_message"`
	StatusCode   *int        `json:"status_code,omitempty" db:"status_code"`
	LatencyMs    *int        `json:"latency_ms,omitempty" db:"latency_ms"`
	RequestID    string      `json:"request_id" db:"request_id"`
	Timestamp    time.Time   `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(requestType RequestType, provider, model string, success bool) *AuditLog {
	return &AuditLog{
		ID:          uuid.New(),
		RequestType: requestType,
		Provider:    provider,
		Model:       model,
		Success:     success,
		Timestamp:   time.Now(),
	}
}

// WithConfig sets the LLM config the call was made with
func (a *AuditLog) WithConfig(configID uuid.UUID) *AuditLog {
	a.ConfigID = &configID
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID string) *AuditLog {
	a.RequestID = requestID
	return a
}

// WithLatency sets the call latency
func (a *AuditLog) WithLatency(latencyMs int) *AuditLog {
	a.LatencyMs = &latencyMs
	return a
}

// WithError sets error information. A zero status code is left unset.
func (a *AuditLog) WithError(statusCode int, errorMessage string) *AuditLog {
	if statusCode != 0 {
		a.StatusCode = &statusCode
	}
	a.ErrorMessage = &errorMessage
	return a
}
