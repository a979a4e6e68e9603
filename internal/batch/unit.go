package batch

import (
	"errors"
	"fmt"
	"time"
)

// Common batch unit errors.
var (
	ErrEmptyBatch      = errors.New("batch must contain at least one record")
	ErrDuplicateRecord = errors.New("duplicate record id")
)

// Unit represents one submission to the extraction provider: a bounded set
// of records, the provider-assigned job handle, and a lifecycle status.
//
// A completed unit is immutable history; Transition enforces that no state
// regresses out of a terminal status.
type Unit struct {
	// BatchID is the provider-assigned job handle. Empty until submission.
	BatchID string `json:"batch_id"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// RecordIDs is the ordered set of record identifiers in this unit.
	// Non-empty, unique within the unit.
	RecordIDs []string `json:"record_ids"`

	// CreatedAt is when the unit was created locally.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is set when the unit reaches StatusCompleted.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ResultPath is the location of the retrieved output, set on completion.
	ResultPath string `json:"result_path,omitempty"`

	// FailureReason records the provider's error when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`
}

// NewUnit creates a unit in StatusCreated for the given records.
// Returns ErrEmptyBatch for an empty set and ErrDuplicateRecord when the
// same record ID appears twice.
func NewUnit(records []Record) (*Unit, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}

	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRecord, r.ID)
		}
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}

	return &Unit{
		Status:    StatusCreated,
		RecordIDs: ids,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Transition moves the unit to next, enforcing the state machine.
// A same-state transition is a no-op.
func (u *Unit) Transition(next Status) error {
	if err := checkTransition(u.Status, next); err != nil {
		return fmt.Errorf("batch %s: %w", u.BatchID, err)
	}
	u.Status = next
	return nil
}

// MarkSubmitted records the provider handle and moves to StatusSubmitted.
func (u *Unit) MarkSubmitted(batchID string) error {
	if batchID == "" {
		return errors.New("provider batch id cannot be empty")
	}
	if err := u.Transition(StatusSubmitted); err != nil {
		return err
	}
	u.BatchID = batchID
	return nil
}

// MarkCompleted records the result location and completion time and moves
// to StatusCompleted.
func (u *Unit) MarkCompleted(resultPath string) error {
	if err := u.Transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	u.CompletedAt = &now
	u.ResultPath = resultPath
	return nil
}

// MarkFailed records the failure reason and moves to StatusFailed.
func (u *Unit) MarkFailed(reason string) error {
	if err := u.Transition(StatusFailed); err != nil {
		return err
	}
	u.FailureReason = reason
	return nil
}

// Validate checks the unit invariants: non-empty record set, unique IDs,
// known status.
func (u *Unit) Validate() error {
	if len(u.RecordIDs) == 0 {
		return ErrEmptyBatch
	}
	if !u.Status.Valid() {
		return fmt.Errorf("batch %s: unknown status %q", u.BatchID, u.Status)
	}
	seen := make(map[string]struct{}, len(u.RecordIDs))
	for _, id := range u.RecordIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q in batch %s", ErrDuplicateRecord, id, u.BatchID)
		}
		seen[id] = struct{}{}
	}
	return nil
}
