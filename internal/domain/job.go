package domain

import (
	"io"
	"strings"
)

// JobState is the client-side view of a remote job's lifecycle
type JobState string

// Job state constants. Idle never appears on the wire.
const (
	JobStateIdle      JobState = "idle"
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// ParseJobState converts a wire status into a JobState
func ParseJobState(s string) (JobState, bool) {
	switch JobState(strings.ToLower(strings.TrimSpace(s))) {
	case JobStateQueued:
		return JobStateQueued, true
	case JobStateRunning:
		return JobStateRunning, true
	case JobStateCompleted:
		return JobStateCompleted, true
	case JobStateFailed:
		return JobStateFailed, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transition can leave the state
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransitionTo checks if a state transition is valid
// Valid transitions:
//
//	idle    -> queued | running | completed | failed
//	queued  -> running | completed | failed
//	running -> completed | failed
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStateIdle:
		return next != JobStateIdle
	case JobStateQueued:
		return next == JobStateRunning || next == JobStateCompleted || next == JobStateFailed
	case JobStateRunning:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

// Job is a submitted analysis. The ID is assigned by the backend.
type Job struct {
	ID    string   `json:"job_id"`
	State JobState `json:"status"`
}

// File is one uploaded input
type File struct {
	Name   string
	Reader io.Reader
}

// Upload holds the inputs of a job submission
type Upload struct {
	Counts       *File
	Metadata     *File
	DesignColumn string
}

// DefaultDesignColumn is the metadata column used when the user does not pick one
const DefaultDesignColumn = "condition"

// Validate checks that both input files and a design column are present
func (u *Upload) Validate() error {
	if u.Counts == nil || u.Counts.Reader == nil {
		return NewValidationError("counts", "counts file is required")
	}
	if u.Metadata == nil || u.Metadata.Reader == nil {
		return NewValidationError("metadata", "metadata file is required")
	}
	if strings.TrimSpace(u.DesignColumn) == "" {
		return NewValidationError("design_col", "design column must not be empty")
	}
	return nil
}
