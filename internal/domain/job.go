package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a transcription job.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusError      JobStatus = "ERROR"
)

// IsTerminal returns true if the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition. Jobs never leave a terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusError
	}
	return false
}

// Job represents one transcription work unit throughout its lifecycle.
type Job struct {
	JobID         uuid.UUID `json:"job_id"`
	SourceRef     string    `json:"source_ref"`
	ProviderJobID string    `json:"provider_job_id,omitempty"`
	Status        JobStatus `json:"status"`
	Result        string    `json:"result,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusFields carries the optional columns written alongside a status
// transition. Nil fields are left untouched.
type StatusFields struct {
	ProviderJobID *string
	Result        *string
	ErrorDetail   *string
}

// SubmitRequest represents an incoming transcription request from the API.
type SubmitRequest struct {
	SourceRef string `json:"source_ref" binding:"required"`
}

// SubmitResponse is returned after a successful submission.
type SubmitResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}
