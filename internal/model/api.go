package model

import "time"

// Error codes returned in API error responses.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnknownSource = "unknown_source"
	ErrCodeInternal      = "internal_error"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta is attached to every API response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ListTracesResponse is the paginated trace listing payload.
type ListTracesResponse struct {
	Traces []TraceRecord `json:"traces"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}
