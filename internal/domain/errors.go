package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found by ID or
	// provider job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned when a webhook payload fails shape or
	// signature validation.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrStatusConflict is returned when a conditional status update lost a
	// race: the stored status no longer matches the expected prior status.
	ErrStatusConflict = errors.New("job status conflict")

	// ErrProviderTransient is returned for retryable provider failures
	// (network errors, 5xx responses).
	ErrProviderTransient = errors.New("transient provider error")

	// ErrProviderFailed is returned when the provider reports a terminal
	// failure for a job.
	ErrProviderFailed = errors.New("provider reported failure")

	// ErrPollTimeout is returned when provider polling exceeds the maximum
	// total wait for a job.
	ErrPollTimeout = errors.New("provider polling timed out")

	// ErrEmptySourceRef is returned when a submission has no source reference.
	ErrEmptySourceRef = errors.New("source reference cannot be empty")

	// ErrSourceRefTooLong is returned when the source reference exceeds the
	// maximum accepted length.
	ErrSourceRefTooLong = errors.New("source reference exceeds maximum length")
)
