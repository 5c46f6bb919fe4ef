package backend

import (
	"fmt"
	"strconv"
)

// Error is an API error returned by the interpretation/execution backend.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %s (code: %s, status: %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("backend: %s (status: %d)", e.Message, e.StatusCode)
}

// ErrorCode returns the classification key for the recovery engine: the
// explicit code when present, else the HTTP status.
func (e *Error) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	if e.StatusCode > 0 {
		return strconv.Itoa(e.StatusCode)
	}
	return ""
}

// IsRetryable reports whether the error is worth retrying.
func (e *Error) IsRetryable() bool {
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsAuth reports whether the error is an authentication failure; the
// recovery engine classifies these under a dedicated domain.
func (e *Error) IsAuth() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
