package reasoning

import (
	"time"

	"decisiongate/internal/fallback"
)

type Provenance string

const (
	ProvenanceNetwork  Provenance = "network"
	ProvenanceFallback Provenance = "fallback"
)

// Reason tags why a call did not end with a network result.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonBreakerOpen      Reason = "breaker-open"
	ReasonRetriesExhausted Reason = "retries-exhausted"
	ReasonNonRetryable     Reason = "non-retryable"
	ReasonCancelled        Reason = "cancelled"
)

// Result carries either the model reply or the local fallback decision.
type Result struct {
	Provenance Provenance
	Payload    string
	JSON       bool
	Fallback   *fallback.Decision
	Reason     Reason
	Attempts   int
	Latency    time.Duration
	Cause      *Error
	TraceID    string
}

func (r Result) FromNetwork() bool { return r.Provenance == ProvenanceNetwork }

// Attempt is reported to the attempt hook right before each transport call.
type Attempt struct {
	TraceID string
	Index   int
	Elapsed time.Duration
	Delay   time.Duration
}
