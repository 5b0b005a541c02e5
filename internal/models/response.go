// Package models - API request and response types.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Machine-readable error codes next to human-readable messages
// - The 429 body is a fixed contract consumed by edge clients
package models

import (
	"time"
)

// CheckRequest asks the decision API to admit one request for ID.
// Limit and WindowMs fall back to the configured defaults when zero.
type CheckRequest struct {
	ID              string  `json:"id"`
	Limit           int     `json:"limit,omitempty"`
	WindowMs        int64   `json:"windowMs,omitempty"`
	RefillRatePerMs float64 `json:"refillRatePerMs,omitempty"`
}

// RateLimitExceededResponse is the body of every 429 produced by the rate limit
// middleware.
type RateLimitExceededResponse struct {
	Error     string `json:"error"`
	Limit     int    `json:"limit"`
	ResetInMs int64  `json:"resetInMs"`
}

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string    `json:"error"`                // Error type (always "error")
	Message   string    `json:"message"`              // Human-readable error description
	Code      string    `json:"code,omitempty"`       // Machine-readable error code
	Timestamp time.Time `json:"timestamp"`            // Error occurrence time
	RequestID string    `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Store unreachable, limiter falls back
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream failed
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Store temporarily down
)

// Fixed error strings of the rate limit contract bodies.
const (
	TooManyRequestsMessage    = "Too Many Requests"
	ServiceUnavailableMessage = "Service Unavailable"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewRateLimitExceededResponse(limit int, resetInMs int64) *RateLimitExceededResponse {
	return &RateLimitExceededResponse{
		Error:     TooManyRequestsMessage,
		Limit:     limit,
		ResetInMs: resetInMs,
	}
}

// NewServiceUnavailableResponse is returned when the bucket store fails and
// the failure mode is "error".
func NewServiceUnavailableResponse(message string) *ErrorResponse {
	resp := NewErrorResponse(message, ErrorCodeServiceUnavailable)
	resp.Error = ServiceUnavailableMessage
	return resp
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
