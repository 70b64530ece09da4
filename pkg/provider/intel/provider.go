// Package intel defines the Provider interface for meeting-intelligence
// analysis backends.
//
// An intel provider wraps a remote generative model API and exposes a uniform
// interface for the pipeline to submit captured speech chunks and receive the
// model's raw analysis text, without coupling to any specific SDK. The secret
// is passed per call rather than fixed at construction because the caller
// rotates between multiple metered credentials.
//
// Implementors must be safe for concurrent use and must surface upstream HTTP
// failures as *APIError so the key rotation layer can classify them.
package intel

import (
	"context"
	"fmt"
)

// Request carries one speech chunk to analyze.
type Request struct {
	// Samples is mono float32 PCM in [-1, 1].
	Samples []float32

	// SampleRate is the capture rate of Samples in Hz.
	SampleRate int
}

// Result is the provider's raw analysis output. Parsing and validation of
// the structured intelligence payload happens downstream.
type Result struct {
	// Raw is the model's unprocessed response text.
	Raw string
}

// APIError is an upstream HTTP failure with enough structure for failover
// classification.
type APIError struct {
	// StatusCode is the upstream HTTP status, 0 when unknown.
	StatusCode int

	// Message is the upstream error message.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("intel: upstream error %d: %s", e.StatusCode, e.Message)
}

// Provider is the abstraction over any analysis backend.
//
// Implementations must be safe for concurrent use. Both methods must
// propagate context cancellation promptly; Probe in particular runs under a
// short caller-imposed deadline during pre-flight key sweeps.
type Provider interface {
	// Analyze submits one speech chunk under the given credential and returns
	// the model's raw response text. Failures caused by the upstream API are
	// returned as *APIError.
	Analyze(ctx context.Context, secret string, req Request) (*Result, error)

	// Probe performs the cheapest possible authenticated round trip to verify
	// that secret is currently usable. A nil return means the credential
	// produced a successful response.
	Probe(ctx context.Context, secret string) error
}
