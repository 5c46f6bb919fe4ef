// Package recovery turns raw errors from the speech resources and backend
// APIs into bounded, deterministic recovery actions.
//
// Errors never cross this boundary as raw objects: every error is classified
// to a severity and a strategy and translated to a user-presentable message
// before any visible or spoken effect occurs. The engine executes the chosen
// strategy using the interaction session and the speech coordinator as its
// effectors.
package recovery

import (
	"errors"
	"strings"
)

// Domain identifies where an error originated.
type Domain string

const (
	DomainVoiceRecognition Domain = "VOICE_RECOGNITION"
	DomainTextToSpeech     Domain = "TEXT_TO_SPEECH"
	DomainAPIRequest       Domain = "API_REQUEST"
	DomainNetwork          Domain = "NETWORK"
	DomainAuthentication   Domain = "AUTHENTICATION"
	DomainToolExecution    Domain = "TOOL_EXECUTION"
	DomainStateTransition  Domain = "STATE_TRANSITION"
	DomainUnknown          Domain = "UNKNOWN"
)

// Severity grades an error. It is informational only; the strategy decides
// what actually happens.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Strategy is the recovery action for a classified error.
type Strategy int

const (
	// StrategyIgnore logs the error and changes nothing. Used for spurious,
	// low-severity errors that must not interrupt the user.
	StrategyIgnore Strategy = iota
	// StrategyRetry re-attempts the failed step with exponential backoff,
	// falling through to StrategyResetCurrent once the ceiling is exceeded.
	StrategyRetry
	// StrategyResetCurrent abandons the current turn, speaks the message,
	// and resumes listening.
	StrategyResetCurrent
	// StrategyResetAll fully resets the session and speaks the message
	// without auto-resuming.
	StrategyResetAll
	// StrategyUserAction stops everything and hands control to a
	// caller-supplied callback; used when only the user can fix the cause.
	StrategyUserAction
)

// String returns a human-readable strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyIgnore:
		return "IGNORE"
	case StrategyRetry:
		return "RETRY"
	case StrategyResetCurrent:
		return "RESET_CURRENT"
	case StrategyResetAll:
		return "RESET_ALL"
	case StrategyUserAction:
		return "USER_ACTION"
	default:
		return "UNKNOWN"
	}
}

// Coder is implemented by errors that carry an explicit classification code,
// such as recognizer error codes and backend API errors.
type Coder interface {
	ErrorCode() string
}

// defaultKey is the guaranteed fallback entry present in every domain.
const defaultKey = "default"

// statusKeys are HTTP status codes recognized inside error messages.
var statusKeys = []string{"401", "403", "404", "408", "429", "500", "502", "503", "504"}

// deriveKey extracts the classification key from an error: an explicit code
// when the error carries one, else a keyword match against the message, else
// the default key.
func deriveKey(err error) string {
	if err == nil {
		return defaultKey
	}

	var coder Coder
	if errors.As(err, &coder) {
		if code := coder.ErrorCode(); code != "" {
			return code
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "offline"):
		return "offline"
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "connection reset"):
		return "network"
	}
	for _, code := range statusKeys {
		if strings.Contains(msg, code) {
			return code
		}
	}
	return defaultKey
}
