package matchservice

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error matches exactly one of them with errors.Is.
var (
	// ErrValidation: bad input, rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict: the request collides with existing state (duplicate join or
	// vote, overlapping positions, already verified).
	ErrConflict = errors.New("conflict")
	// ErrNotFound: unknown match, game or participant.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition: the match or score is in the wrong state.
	ErrPrecondition = errors.New("precondition failed")
	// ErrIntegrity: the operation cannot complete without corrupting results.
	ErrIntegrity = errors.New("integrity violation")
)

type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string        { return fmt.Sprintf("validation: %s: %s", e.Code, e.Message) }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type ConflictError struct {
	Code    string
	Message string
	// Race is set for position conflicts.
	Race int
}

func (e *ConflictError) Error() string        { return fmt.Sprintf("conflict: %s: %s", e.Code, e.Message) }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("%s %s not found", e.Resource, e.ID) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type PreconditionError struct {
	Code    string
	Message string
}

func (e *PreconditionError) Error() string        { return fmt.Sprintf("precondition: %s: %s", e.Code, e.Message) }
func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

type IntegrityError struct {
	Code    string
	Message string
}

func (e *IntegrityError) Error() string        { return fmt.Sprintf("integrity: %s: %s", e.Code, e.Message) }
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func validationf(code, format string, args ...any) error {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func conflictf(code, format string, args ...any) error {
	return &ConflictError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func preconditionf(code, format string, args ...any) error {
	return &PreconditionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func integrityf(code, format string, args ...any) error {
	return &IntegrityError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(resource string, id fmt.Stringer) error {
	return &NotFoundError{Resource: resource, ID: id.String()}
}

// IsDomainError reports whether err is one of the typed domain errors rather
// than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, kind := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrPrecondition, ErrIntegrity} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
