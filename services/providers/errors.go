package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// UnknownErrorMessage is used when neither the body nor the status carries a message
const UnknownErrorMessage = "Unknown error"

// UnsupportedProviderError is returned when formatting for a provider with no profile.
// It is a caller error and is never retried.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %q", e.Provider)
}

// TransportError means the request was sent but no response arrived (network failure, timeout)
type TransportError struct {
	Provider string
	URL      string
	Cause    error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s request to %s failed: %v", e.Provider, e.URL, e.Cause)
	}
	return fmt.Sprintf("%s request to %s failed", e.Provider, e.URL)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// UpstreamError is a response received with a non-success status
type UpstreamError struct {
	Provider   string
	StatusCode int
	Status     string
	Message    string
	Body       []byte
	Header     http.Header
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// NewUpstreamError builds an UpstreamError, extracting the message from the body
func NewUpstreamError(provider string, statusCode int, status string, body []byte, header http.Header) *UpstreamError {
	return &UpstreamError{
		Provider:   provider,
		StatusCode: statusCode,
		Status:     status,
		Message:    UpstreamMessage(body, status),
		Body:       body,
		Header:     header,
	}
}

// ToolSchemaError is an UpstreamError classified as a tool-calling incompatibility
type ToolSchemaError struct {
	Class    string
	Upstream error
}

func (e *ToolSchemaError) Error() string {
	return fmt.Sprintf("tool schema rejected (%s): %s", e.Class, MessageOf(e.Upstream))
}

func (e *ToolSchemaError) Unwrap() error {
	return e.Upstream
}

// SerializationError is raised internally when a value cannot be canonically serialized.
// Callers recover from it locally.
type SerializationError struct {
	Cause error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed: %v", e.Cause)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// UpstreamMessage extracts the most specific error message from a response body.
// Order: message, error.message, error (string), detail, then the status text.
func UpstreamMessage(body []byte, status string) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error.message", "error", "detail"} {
			res := gjson.GetBytes(body, path)
			if res.Type == gjson.String && strings.TrimSpace(res.Str) != "" {
				return res.Str
			}
		}
	}
	if text := statusText(status); text != "" {
		return text
	}
	return UnknownErrorMessage
}

// statusText strips the numeric prefix net/http puts on Response.Status ("404 Not Found")
func statusText(status string) string {
	status = strings.TrimSpace(status)
	if code, text, ok := strings.Cut(status, " "); ok && len(code) == 3 {
		return strings.TrimSpace(text)
	}
	return status
}

// MessageOf returns the most specific message carried by err
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Message
	}
	return err.Error()
}

// IsUnsupportedProvider reports whether err is an UnsupportedProviderError
func IsUnsupportedProvider(err error) bool {
	var target *UnsupportedProviderError
	return errors.As(err, &target)
}

// IsTransportError reports whether err is a TransportError
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// AsUpstreamError returns the UpstreamError wrapped by err, if any
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var target *UpstreamError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
