package domain

import "github.com/google/uuid"

// Event type discriminators on the subscriber wire.
const (
	EventStatusUpdate = "statusUpdate"
	EventError        = "error"
)

// StatusEvent is the payload broadcast to subscribers (and to the status
// exchange) on every persisted job transition.
type StatusEvent struct {
	Type        string    `json:"type"`
	JobID       uuid.UUID `json:"job_id"`
	Status      JobStatus `json:"status"`
	Result      string    `json:"result,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// NewStatusEvent builds the event for a transition into status.
// Error transitions use the "error" event type so clients can route them
// without inspecting the status field.
func NewStatusEvent(jobID uuid.UUID, status JobStatus, result, errorDetail string) *StatusEvent {
	typ := EventStatusUpdate
	if status == StatusError {
		typ = EventError
	}
	return &StatusEvent{
		Type:        typ,
		JobID:       jobID,
		Status:      status,
		Result:      result,
		ErrorDetail: errorDetail,
	}
}
