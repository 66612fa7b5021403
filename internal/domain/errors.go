// Package domain defines the error taxonomy shared by the gateway packages.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ParseError indicates the SQL text could not be parsed.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string { return e.Message }
func (e *ParseError) Unwrap() error { return e.Err }

// PolicyViolationError carries every policy breach found in one statement.
type PolicyViolationError struct {
	Violations []string
}

func (e *PolicyViolationError) Error() string { return strings.Join(e.Violations, "; ") }

// CostViolationError indicates the plan exceeds a hard budget.
type CostViolationError struct {
	Violations []string
}

func (e *CostViolationError) Error() string { return strings.Join(e.Violations, "; ") }

// ConnectionError indicates the database could not be reached.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string { return e.Message }
func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionError indicates the database rejected or failed a statement.
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string { return e.Message }
func (e *ExecutionError) Unwrap() error { return e.Err }

// PlanFormatError indicates EXPLAIN output did not have the expected shape.
type PlanFormatError struct {
	Message string
}

func (e *PlanFormatError) Error() string { return e.Message }

// PolicyLoadError indicates a policy document is missing or malformed.
type PolicyLoadError struct {
	Source string
	Err    error
}

func (e *PolicyLoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("load policy: %v", e.Err)
	}
	return fmt.Sprintf("load policy %s: %v", e.Source, e.Err)
}

func (e *PolicyLoadError) Unwrap() error { return e.Err }

// ErrParse creates a ParseError wrapping the parser's error.
func ErrParse(err error) *ParseError {
	return &ParseError{Message: fmt.Sprintf("SQL parse error: %v", err), Err: err}
}

// ErrConnection creates a ConnectionError wrapping the dial failure.
func ErrConnection(err error) *ConnectionError {
	return &ConnectionError{Message: fmt.Sprintf("Database connection failed: %v", err), Err: err}
}

// ErrExecution creates an ExecutionError wrapping the database failure.
func ErrExecution(err error) *ExecutionError {
	return &ExecutionError{Message: err.Error(), Err: err}
}

// ErrPlanFormat creates the PlanFormatError reported for unexpected EXPLAIN output.
func ErrPlanFormat() *PlanFormatError {
	return &PlanFormatError{Message: "Unexpected EXPLAIN format"}
}

// Error kind labels, used for metrics and logs.
const (
	KindParse           = "parse_error"
	KindPolicyViolation = "policy_violation"
	KindCostViolation   = "cost_violation"
	KindConnection      = "connection_error"
	KindExecution       = "execution_error"
	KindPlanFormat      = "plan_format_error"
	KindPolicyLoad      = "policy_load_error"
	KindInternal        = "internal_error"
)

// Kind classifies err into one of the Kind* labels.
func Kind(err error) string {
	var parseErr *ParseError
	var policyErr *PolicyViolationError
	var costErr *CostViolationError
	var connErr *ConnectionError
	var execErr *ExecutionError
	var planErr *PlanFormatError
	var loadErr *PolicyLoadError

	switch {
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &policyErr):
		return KindPolicyViolation
	case errors.As(err, &costErr):
		return KindCostViolation
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &execErr):
		return KindExecution
	case errors.As(err, &planErr):
		return KindPlanFormat
	case errors.As(err, &loadErr):
		return KindPolicyLoad
	default:
		return KindInternal
	}
}
