// Package provider defines the contract the batch core needs from an
// external LLM batch-processing service, plus the OpenAI implementation.
//
// The core treats the provider as opaque: any service that can accept a set
// of per-record requests, report a job status string, and return per-record
// results is substitutable.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Request is one per-record payload in a batch submission. Payload is the
// provider-specific request body produced by the prompt formatter; the
// batch core never inspects it.
type Request struct {
	RecordID string
	Payload  json.RawMessage
}

// Client is the external job provider abstraction.
type Client interface {
	// SubmitBatch sends the requests as one batch job and returns the
	// provider-assigned batch ID.
	SubmitBatch(ctx context.Context, reqs []Request) (string, error)

	// GetStatus returns the provider's current status string for a job.
	// The caller maps it onto the local state machine.
	GetStatus(ctx context.Context, batchID string) (string, error)

	// GetResults downloads and parses a completed job's output, keyed by
	// record ID.
	GetResults(ctx context.Context, batchID string) (map[string]json.RawMessage, error)
}

// ErrTransient marks provider errors worth retrying: network failures, rate
// limits, 5xx responses. Errors not wrapping ErrTransient are treated as
// permanent by the retrieval driver.
var ErrTransient = errors.New("transient provider error")

// Transient wraps err as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
