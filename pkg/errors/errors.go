// Package errors provides error wrapping utilities and the error classes the
// orchestrator distinguishes between.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a project is started while another one is active.
	ErrAlreadyRunning = stderrors.New("another project is already running")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = stderrors.New("not found")
	// ErrNotActive is returned by control operations when no job is loaded.
	ErrNotActive = stderrors.New("no active project")
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// PreconditionError is raised before any remote mutation when a project
// cannot be run as defined. The message is surfaced verbatim.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// Precondition builds a PreconditionError from a format string.
func Precondition(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// IsPrecondition reports whether err is, or wraps, a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return stderrors.As(err, &pe)
}

// ConfigurationError means the remote settings could not be applied. It is
// fatal to the whole run.
type ConfigurationError struct {
	Attempts int
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("settings configuration failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is, As and New are re-exported so callers only need one errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
