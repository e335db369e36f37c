package domain

import "fmt"

// Error types for consistent error handling across the brain service.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrSynthesis indicates the reasoning stage could not merge agent results.
// It is the only pipeline-internal error that aborts a query outright.
type ErrSynthesis struct {
	Reason string
	Err    error
}

func (e *ErrSynthesis) Error() string {
	return fmt.Sprintf("synthesis failed: %s", e.Reason)
}

func (e *ErrSynthesis) Unwrap() error {
	return e.Err
}

// ErrGuardrailBlocked indicates the input guardrail rejected the query.
type ErrGuardrailBlocked struct {
	RuleName string
	Severity string
	Message  string
}

func (e *ErrGuardrailBlocked) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("query blocked by guardrail rule: %s", e.RuleName)
}
