package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Match them with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrDuplicateAward    = errors.New("duplicate award")
	ErrStorageFailure    = errors.New("storage failure")
)

// Error attaches workflow context to one of the kinds above.
type Error struct {
	Kind         error
	SubmissionID string
	Status       string
	Detail       string
	Err          error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.SubmissionID != "" {
		msg += fmt.Sprintf(": submission %s", e.SubmissionID)
		if e.Status != "" {
			msg += fmt.Sprintf(" is %s", e.Status)
		}
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(detail string, cause error) error {
	return &Error{Kind: ErrValidation, Detail: detail, Err: cause}
}

func notFoundError(detail string) error {
	return &Error{Kind: ErrNotFound, Detail: detail}
}

func forbiddenError(detail string) error {
	return &Error{Kind: ErrForbidden, Detail: detail}
}

func transitionError(submissionID, status string) error {
	return &Error{Kind: ErrInvalidTransition, SubmissionID: submissionID, Status: status}
}

func storageError(submissionID string, cause error) error {
	return &Error{Kind: ErrStorageFailure, SubmissionID: submissionID, Err: cause}
}

// isDomainError reports whether err is one of the engine's own verdicts rather than an infrastructure fault.
func isDomainError(err error) bool {
	var domain *Error
	return errors.As(err, &domain) && !errors.Is(err, ErrStorageFailure)
}
