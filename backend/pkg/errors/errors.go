package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeGraph represents graph store errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeJob represents discovery job lifecycle errors
	ErrorTypeJob ErrorType = "job"
	// ErrorTypeReview represents review queue errors
	ErrorTypeReview ErrorType = "review"
	// ErrorTypeInput represents caller input errors
	ErrorTypeInput ErrorType = "input"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Graph Errors

// ErrGraphStoreUnavailable is returned when the graph store health check fails.
// Jobs abort before any write is attempted.
type ErrGraphStoreUnavailable struct {
	*BaseError
	Detail string
}

func NewGraphStoreUnavailable(detail string, err error) *ErrGraphStoreUnavailable {
	return &ErrGraphStoreUnavailable{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("graph store unavailable: %s", detail), err),
		Detail:    detail,
	}
}

// ErrTransientStore is returned once the retry budget for a transient
// graph store failure is exhausted
type ErrTransientStore struct {
	*BaseError
	Operation string
	Attempts  int
}

func NewTransientStore(operation string, attempts int, err error) *ErrTransientStore {
	return &ErrTransientStore{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("%s failed after %d attempts", operation, attempts), err),
		Operation: operation,
		Attempts:  attempts,
	}
}

// ErrPartialCommitFailure describes one item that could not be committed.
// It is accumulated into job stats and never aborts a job.
type ErrPartialCommitFailure struct {
	*BaseError
	Item string
}

func NewPartialCommitFailure(item string, err error) *ErrPartialCommitFailure {
	return &ErrPartialCommitFailure{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("commit failed: %s", item), err),
		Item:      item,
	}
}

// Job Errors

// ErrJobAlreadyRunning is returned when a user already has a running job
type ErrJobAlreadyRunning struct {
	*BaseError
	UserID string
	JobID  string
}

func NewJobAlreadyRunning(userID, jobID string) *ErrJobAlreadyRunning {
	msg := fmt.Sprintf("discovery already running for user %s", userID)
	if jobID != "" {
		msg = fmt.Sprintf("%s (job %s)", msg, jobID)
	}
	return &ErrJobAlreadyRunning{
		BaseError: NewBaseError(ErrorTypeJob, msg, nil),
		UserID:    userID,
		JobID:     jobID,
	}
}

// ErrJobNotFound is returned when no job matches for the user
type ErrJobNotFound struct {
	*BaseError
	JobID string
}

func NewJobNotFound(jobID string) *ErrJobNotFound {
	return &ErrJobNotFound{
		BaseError: NewBaseError(ErrorTypeJob, fmt.Sprintf("job not found: %s", jobID), nil),
		JobID:     jobID,
	}
}

// ErrJobBudgetExceeded is returned when a job runs past its wall-clock budget
type ErrJobBudgetExceeded struct {
	*BaseError
	JobID  string
	Budget time.Duration
}

func NewJobBudgetExceeded(jobID string, budget time.Duration) *ErrJobBudgetExceeded {
	return &ErrJobBudgetExceeded{
		BaseError: NewBaseError(ErrorTypeJob, fmt.Sprintf("job %s exceeded budget of %v", jobID, budget), nil),
		JobID:     jobID,
		Budget:    budget,
	}
}

// Review Errors

// ErrInvalidTier is returned for review tiers other than medium and low
type ErrInvalidTier struct {
	*BaseError
	Tier string
}

func NewInvalidTier(tier string) *ErrInvalidTier {
	return &ErrInvalidTier{
		BaseError: NewBaseError(ErrorTypeReview, fmt.Sprintf("invalid tier: %q (want medium or low)", tier), nil),
		Tier:      tier,
	}
}

// ErrRelationshipNotFound is returned when a pending relationship does not
// exist in the caller's partition
type ErrRelationshipNotFound struct {
	*BaseError
	RelationshipID string
}

func NewRelationshipNotFound(id string) *ErrRelationshipNotFound {
	return &ErrRelationshipNotFound{
		BaseError:      NewBaseError(ErrorTypeReview, fmt.Sprintf("relationship not found: %s", id), nil),
		RelationshipID: id,
	}
}

// Input Errors

// ErrInputValidation is returned for malformed discovery input
type ErrInputValidation struct {
	*BaseError
	Field  string
	Reason string
}

func NewInputValidation(field, reason string) *ErrInputValidation {
	return &ErrInputValidation{
		BaseError: NewBaseError(ErrorTypeInput, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

// As is errors.As, re-exported so callers need not import both packages.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// typed is satisfied by BaseError and every wrapper embedding it.
type typed interface {
	errorType() ErrorType
}

func (e *BaseError) errorType() ErrorType { return e.Type }

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	var t typed
	if stderrors.As(err, &t) {
		return t.errorType() == errType
	}
	return false
}

// IsRetryable checks if an error is retryable by the caller
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	var transient *ErrTransientStore
	if stderrors.As(err, &transient) {
		return true
	}
	var unavailable *ErrGraphStoreUnavailable
	if stderrors.As(err, &unavailable) {
		return true
	}
	var running *ErrJobAlreadyRunning
	return stderrors.As(err, &running)
}
