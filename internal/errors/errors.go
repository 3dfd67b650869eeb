package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Checkpoint errors (CHECKPOINT-001 to CHECKPOINT-099)
	ErrCodeCheckpointNotFound  ErrorCode = "CHECKPOINT-001"
	ErrCodeCheckpointUnmarshal ErrorCode = "CHECKPOINT-002"
	ErrCodeCheckpointWrite     ErrorCode = "CHECKPOINT-003"

	// Routing errors (ROUTE-002 to ROUTE-099)
	ErrCodeRouteBranchSetup ErrorCode = "ROUTE-002"

	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanUnparseable ErrorCode = "PLAN-001"
	ErrCodePlanEmpty       ErrorCode = "PLAN-002"

	// Provider errors (PROVIDER-001 to PROVIDER-099)
	ErrCodeProviderTransient ErrorCode = "PROVIDER-001"
	ErrCodeProviderPermanent ErrorCode = "PROVIDER-002"
	ErrCodeProviderEmpty     ErrorCode = "PROVIDER-003"
	ErrCodeProviderConfig    ErrorCode = "PROVIDER-004"

	// Editor errors (EDIT-001 to EDIT-099)
	ErrCodeEditTimeout ErrorCode = "EDIT-001"

	// Dispatch errors (DISPATCH-001 to DISPATCH-099)
	ErrCodeDispatchTrigger ErrorCode = "DISPATCH-001"

	// Git errors (GIT-001 to GIT-099)
	ErrCodeGitCommand ErrorCode = "GIT-001"

	// Tracker errors (TRACKER-001 to TRACKER-099)
	ErrCodeTrackerCommand ErrorCode = "TRACKER-001"
	ErrCodeTrackerParse   ErrorCode = "TRACKER-002"

	// Explore errors (EXPLORE-001 to EXPLORE-099)
	ErrCodeExploreTaskMissing ErrorCode = "EXPLORE-001"
	ErrCodeExploreBarrier     ErrorCode = "EXPLORE-002"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
	ErrCodeConfigMissing ErrorCode = "CONFIG-002"
)

// AgentError represents an error with a stable code and an optional cause
type AgentError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// New creates a new AgentError
func New(code ErrorCode, message string) *AgentError {
	return &AgentError{Code: code, Message: message}
}

// Newf creates a new AgentError with a formatted message
func Newf(code ErrorCode, format string, args ...any) *AgentError {
	return &AgentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new AgentError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *AgentError {
	return &AgentError{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the error code of err, or "" if err carries none
func CodeOf(err error) ErrorCode {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsNotFound reports whether err indicates a missing checkpoint
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeCheckpointNotFound)
}

// Class categorizes an error for retry decisions
type Class int

const (
	// ClassUnknown is an unclassified error; treated conservatively as non-retryable
	ClassUnknown Class = iota
	// ClassTransient is a retryable infrastructure fault
	ClassTransient
	// ClassPermanent is a fault that retrying cannot fix
	ClassPermanent
)

// String returns the string representation of the class
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var transientMarkers = []string{
	"rate limit", "429", "timeout", "503", "502", "overloaded",
	"connection reset", "connection refused", "temporarily unavailable",
}

var permanentMarkers = []string{
	"unauthorized", "401", "invalid", "400", "authentication", "forbidden", "403",
}

// Classify inspects an error and decides whether it is worth retrying.
// Coded provider errors are trusted directly; everything else falls back
// to substring matching against known API failure modes.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	switch CodeOf(err) {
	case ErrCodeProviderTransient:
		return ClassTransient
	case ErrCodeProviderPermanent:
		return ClassPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ClassTransient
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return ClassPermanent
		}
	}
	return ClassUnknown
}
