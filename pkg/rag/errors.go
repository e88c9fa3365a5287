package rag

import (
	"errors"
	"fmt"
	"time"
)

// RetryDelayer is implemented by provider errors that carry the
// server's requested retry delay (e.g. from a 429 Retry-After header).
// The orchestrator's retry loop honors it over its default backoff.
type RetryDelayer interface {
	RetryDelay() time.Duration
}

// errNoStreaming is returned when a streaming answer is requested but
// the configured generator cannot stream.
var errNoStreaming = errors.New("generator does not support streaming")

// Stages identify which external dependency a failed request died in.
// They appear in logs and in UpstreamError, never in client responses.
const (
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
)

// ValidationError reports a malformed inbound request. It maps to a
// client error and is never retried.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// UpstreamError reports a failed or timed-out call to one of the three
// external providers. Stage names the failing dependency. The whole
// request is safe to retry from the caller's side.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Stage, e.Err)
}

func (e UpstreamError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a missing credential or endpoint at startup.
// It is fatal: the process must not serve traffic.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
