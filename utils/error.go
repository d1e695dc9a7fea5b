package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError reports the business rules a named entity violated.
// It is data, not a fault: callers surface the rule list and continue.
type ValidationError struct {
	Entity string
	Rules  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s failed validation: %s", e.Entity, strings.Join(e.Rules, "; "))
}

func NewValidationError(entity string, rules ...string) *ValidationError {
	return &ValidationError{Entity: entity, Rules: rules}
}

// IntegrityError reports a rejected write (uniqueness) or a detected
// orphan row referencing a missing parent.
type IntegrityError struct {
	Table      string
	Constraint string
	Detail     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s (%s): %s", e.Table, e.Constraint, e.Detail)
}

// SchemaError marks a failed column or table alteration. Fatal for the
// current reconciliation run; the next run retries only what is still missing.
type SchemaError struct {
	Table  string
	Column string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema reconciliation failed on table %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("schema reconciliation failed on %s.%s: %v", e.Table, e.Column, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// TransportError wraps an unexpected store fault caught at a component
// boundary so it never propagates as an unhandled failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
