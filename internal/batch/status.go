package batch

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a batch unit.
//
// The provider's free-form status strings are never stored directly; they are
// mapped onto this enumeration at the polling boundary so invalid states are
// unrepresentable in persisted metadata.
type Status string

// Batch unit lifecycle states.
const (
	// StatusCreated means the record set is assigned but nothing has been
	// sent to the provider yet.
	StatusCreated Status = "created"

	// StatusSubmitted means the provider accepted the job and assigned a
	// batch ID.
	StatusSubmitted Status = "submitted"

	// StatusInProgress means the provider reports the job as running.
	StatusInProgress Status = "in_progress"

	// StatusCompleted means all results have been retrieved and merged.
	// Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed means the provider reported an error, or retrieval hit
	// an unrecoverable error. Terminal.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when a status change would violate the
// lifecycle state machine (e.g. any transition out of a terminal state).
var ErrInvalidTransition = errors.New("invalid batch status transition")

// transitions lists the allowed successor states for each status. Terminal
// states have no successors.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusSubmitted},
	StatusSubmitted:  {StatusInProgress, StatusCompleted, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// statusRank orders non-terminal states by lifecycle progress, used when
// deriving the least-advanced status of a parent batch.
var statusRank = map[Status]int{
	StatusCreated:    0,
	StatusSubmitted:  1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
// Same-state transitions are permitted so repeated polling is idempotent.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// checkTransition returns ErrInvalidTransition when s cannot move to next.
func checkTransition(s, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// MapProviderStatus maps a provider-reported status string onto the local
// state machine. Statuses not explicitly recognized map to StatusInProgress:
// guessing "completed" or "failed" for an unknown string could either skip
// results or abandon a running job.
func MapProviderStatus(raw string) Status {
	switch raw {
	case "completed":
		return StatusCompleted
	case "failed", "expired", "cancelled", "canceled":
		return StatusFailed
	default:
		return StatusInProgress
	}
}
