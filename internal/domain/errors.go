package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCompletedJob is returned when results are requested before the current job completed
	ErrNoCompletedJob = errors.New("no completed job")

	// ErrUnknownKind is returned for an enrichment kind other than go or kegg
	ErrUnknownKind = errors.New("unknown enrichment kind")

	// ErrUnknownStatus is returned when the backend reports a status outside the job lifecycle
	ErrUnknownStatus = errors.New("unknown job status")

	// ErrSuperseded is returned when a response arrives for a job or snapshot that is no longer current
	ErrSuperseded = errors.New("superseded by a newer request")
)

// ValidationError reports missing or out-of-range user input. It is raised
// before anything is sent to the backend.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new validation error
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportError wraps a non-2xx response or a network failure. Body is the
// raw response text and is never assumed to be structured.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport error"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// JobFailedError is returned when the backend reports the job itself failed
type JobFailedError struct {
	JobID string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed", e.JobID)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransport reports whether err is a TransportError
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
