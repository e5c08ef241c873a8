// Package errors provides the error catalogue for the entire project.
//
// This file provides:
// - Exit codes used by the command line tool
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode mapping
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Exit codes - returned by cmd/vstore
// ============================================================================

const (
	CodeOK         int = 0
	CodeUnknown    int = 1
	CodeUsage      int = 2
	CodeNotFound   int = 3
	CodeIntegrity  int = 4
	CodeCorruption int = 5
	CodeQuota      int = 6
	CodeConfig     int = 7
	CodeInternal   int = 8
)

// CodeName returns a human-readable name for an exit code.
func CodeName(code int) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeUnknown:
		return "Unknown"
	case CodeUsage:
		return "Usage"
	case CodeNotFound:
		return "NotFound"
	case CodeIntegrity:
		return "Integrity"
	case CodeCorruption:
		return "Corruption"
	case CodeQuota:
		return "Quota"
	case CodeConfig:
		return "Config"
	case CodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Not found errors
	ErrNotFound        = errors.New("not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrTagNotFound     = errors.New("tag not found")

	// Integrity errors: the caller handed over invalid input.
	ErrIntegrity      = errors.New("data integrity violation")
	ErrMissingPayload = errors.New("version has neither content nor delta")
	ErrMissingID      = errors.New("version id is required")
	ErrInvalidChange  = errors.New("invalid change type")
	ErrInvalidName    = errors.New("invalid name")

	// Corruption errors: persisted state does not match the index.
	ErrCorruption     = errors.New("storage corruption")
	ErrMissingChunk   = errors.New("missing chunk")
	ErrMissingEntry   = errors.New("indexed entry missing from storage")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrMalformedEntry = errors.New("malformed storage entry")

	// Quota errors: the backend refused a write for capacity reasons.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrEntryTooLarge = errors.New("entry exceeds backend size limit")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// Lifecycle errors
	ErrClosed   = errors.New("store is closed")
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrBranchNotFound) ||
		errors.Is(err, ErrTagNotFound)
}

// IsIntegrity returns true if err rejects caller input.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrMissingPayload) ||
		errors.Is(err, ErrMissingID) ||
		errors.Is(err, ErrInvalidChange) ||
		errors.Is(err, ErrInvalidName)
}

// IsCorruption returns true if err reports damaged persisted state.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption) ||
		errors.Is(err, ErrMissingChunk) ||
		errors.Is(err, ErrMissingEntry) ||
		errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrMalformedEntry)
}

// IsQuota returns true if the backend refused a write for capacity reasons.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrEntryTooLarge)
}

// IsRetriable returns true if the operation may succeed after freeing space.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// ============================================================================
// Error to exit code mapping
// ============================================================================

// ErrorToCode maps an error to the exit code of the command line tool.
func ErrorToCode(err error) int {
	if err == nil {
		return CodeOK
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsIntegrity(err):
		return CodeIntegrity
	case IsCorruption(err):
		return CodeCorruption
	case IsQuota(err):
		return CodeQuota
	case Is(err, ErrInvalidConfig), Is(err, ErrMissingField):
		return CodeConfig
	default:
		return CodeInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewIntegrity creates an integrity error for a version.
func NewIntegrity(versionID string, cause error) error {
	return fmt.Errorf("version '%s': %w: %w", versionID, ErrIntegrity, cause)
}

// NewCorruption creates a corruption error for a persisted key.
func NewCorruption(key string, cause error) error {
	return fmt.Errorf("key '%s': %w: %w", key, ErrCorruption, cause)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
