package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/provider"
)

var _ provider.Transcriber = (*Transcriber)(nil)

// Transcriber is a test double for provider.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	SubmitFn func(ctx context.Context, sourceRef string) (string, error)
	PollFn   func(ctx context.Context, providerJobID string) (*provider.PollResult, error)
	VerifyFn func(raw []byte, signature string) (*provider.WebhookPayload, error)

	SubmitCalls []string
	PollCalls   []string
}

func (m *Transcriber) Submit(ctx context.Context, sourceRef string) (string, error) {
	m.mu.Lock()
	m.SubmitCalls = append(m.SubmitCalls, sourceRef)
	m.mu.Unlock()
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, sourceRef)
	}
	return "prov-" + sourceRef, nil
}

func (m *Transcriber) Poll(ctx context.Context, providerJobID string) (*provider.PollResult, error) {
	m.mu.Lock()
	m.PollCalls = append(m.PollCalls, providerJobID)
	m.mu.Unlock()
	if m.PollFn != nil {
		return m.PollFn(ctx, providerJobID)
	}
	return &provider.PollResult{Status: provider.StateFinished, Transcript: "transcript"}, nil
}

// VerifyWebhookPayload defaults to the real client's shape validation
// without the signature check.
func (m *Transcriber) VerifyWebhookPayload(raw []byte, signature string) (*provider.WebhookPayload, error) {
	if m.VerifyFn != nil {
		return m.VerifyFn(raw, signature)
	}
	var payload provider.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload.ProviderJobID == "" || payload.Status == "" {
		return nil, fmt.Errorf("%w: missing required fields", domain.ErrInvalidPayload)
	}
	return &payload, nil
}

// PollCount returns how many polls were issued, safe for concurrent use.
func (m *Transcriber) PollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PollCalls)
}
