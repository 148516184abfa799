package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports one or more field-level violations. Nothing is
// mutated when it is returned.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// NotFoundError is returned when no task carries the requested id.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Task with ID %d not found", e.ID)
}

// PersistenceError reports that a mutation was committed in memory but the
// durable write failed. The in-memory state is not rolled back.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("persist snapshot: %v", e.Cause)
	}
	return fmt.Sprintf("persist snapshot after %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err carries a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsPersistence reports whether err carries a *PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
