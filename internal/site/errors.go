package site

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed domains, out of range limits and missing passwords.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when no rule exists for a domain.
	ErrNotFound = errors.New("rule not found")

	// ErrStorage wraps failures of the local store.
	ErrStorage = errors.New("local storage failure")
)

// ValidationError describes which input field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets callers match any ValidationError against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError marks err as a local storage failure while keeping the cause.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
