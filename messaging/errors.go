// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
)

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers can use errors.As to extract the structured
// information:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeNotFound { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN", "M_UNKNOWN_TOKEN").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
	// RetryAfterMS is the server-suggested wait before retrying,
	// present on M_LIMIT_EXCEEDED responses. Zero when absent.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeMissingParam  = "M_MISSING_PARAM"
	ErrCodeTooLarge      = "M_TOO_LARGE"
)

// IsMatrixError checks whether err is a *MatrixError with the given error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsAuthError reports whether err indicates the access token is no
// longer valid. Auth errors are terminal: retrying the same request
// with the same token cannot succeed, and the sync driver must stop
// and surface the failure rather than back off.
func IsAuthError(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	switch matrixErr.Code {
	case ErrCodeUnknownToken, ErrCodeMissingToken:
		return true
	}
	return matrixErr.StatusCode == http.StatusUnauthorized
}

// IsTransientError reports whether err is worth retrying with backoff.
//
// Transient: network-level failures (timeouts, connection resets, DNS),
// rate limiting (429), and server errors (5xx). Not transient: auth
// failures and other 4xx responses, which indicate the request itself
// is wrong and will fail identically on retry.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthError(err) {
		return false
	}

	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		// Not a homeserver response at all: the request never
		// completed. Connection refused, timeout, broken pipe.
		return true
	}

	if matrixErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return matrixErr.StatusCode >= 500
}
