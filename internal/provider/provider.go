package provider

import (
	"context"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
)

// Provider-side job states as reported by poll responses and webhooks.
const (
	StateAccepted = "accepted"
	StateRunning  = "running"
	StateFinished = "finished"
	StateFailed   = "failed"
)

// PollResult is the outcome of one status poll against the provider.
type PollResult struct {
	Status      string
	Transcript  string
	ErrorDetail string
}

// Done reports whether the provider has reached a terminal outcome.
func (r *PollResult) Done() bool {
	return r.Status == StateFinished || r.Status == StateFailed
}

// WebhookPayload is a validated provider callback.
type WebhookPayload struct {
	ProviderJobID string `json:"media_id"`
	Status        string `json:"status"`
	Transcript    string `json:"transcript,omitempty"`
	ErrorDetail   string `json:"error,omitempty"`
}

// TerminalStatus maps the provider state to the job status it implies.
// ok is false for non-terminal states.
func (p *WebhookPayload) TerminalStatus() (domain.JobStatus, bool) {
	switch p.Status {
	case StateFinished:
		return domain.StatusCompleted, true
	case StateFailed:
		return domain.StatusError, true
	}
	return "", false
}

// Transcriber defines the interface to the external transcription service.
type Transcriber interface {
	// Submit sends sourceRef for transcription and returns the job ID the
	// provider assigned. Transient failures wrap domain.ErrProviderTransient.
	Submit(ctx context.Context, sourceRef string) (string, error)

	// Poll fetches the current provider-side state of a submitted job.
	Poll(ctx context.Context, providerJobID string) (*PollResult, error)

	// VerifyWebhookPayload checks the payload signature and shape and
	// returns the parsed payload. Failures wrap domain.ErrInvalidPayload.
	VerifyWebhookPayload(raw []byte, signature string) (*WebhookPayload, error)
}
