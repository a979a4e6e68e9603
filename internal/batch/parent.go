package batch

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// parentIDPrefix distinguishes parent batch directories from standalone
// batch entries at the store root.
const parentIDPrefix = "parent_"

// Parent groups multiple units covering one oversized dataset.
//
// ProcessedRecordIDs is maintained as the exact union of all children's
// record IDs, in append order; it doubles as the dedup ledger consulted
// before any resumption submits new work.
type Parent struct {
	// ParentID is locally generated: a "parent_" prefix plus a ULID, so
	// IDs sort by creation time and carry a random suffix.
	ParentID string `json:"parent_id"`

	// CreatedAt is when the parent batch was first persisted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt tracks the last metadata write.
	UpdatedAt time.Time `json:"updated_at"`

	// Children is the ordered list of units, in submission order.
	Children []*Unit `json:"children"`

	// ProcessedRecordIDs is the running union of children's record IDs.
	ProcessedRecordIDs []string `json:"processed_record_ids"`
}

// NewParent creates an empty parent batch with a fresh time-ordered ID.
func NewParent() *Parent {
	now := time.Now().UTC()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0) //nolint:gosec // IDs need uniqueness, not unpredictability
	return &Parent{
		ParentID:  parentIDPrefix + ulid.MustNew(ulid.Timestamp(now), entropy).String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendChild adds a unit to the parent, extending the processed-ID union.
// Returns ErrDuplicateRecord if any of the unit's records already belong to
// a sibling: the same record in two children would mean duplicate provider
// work and ambiguous results.
func (p *Parent) AppendChild(u *Unit) error {
	if err := u.Validate(); err != nil {
		return err
	}

	seen := p.processedSet()
	for _, id := range u.RecordIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q already covered by a sibling batch in %s",
				ErrDuplicateRecord, id, p.ParentID)
		}
	}

	p.Children = append(p.Children, u)
	p.ProcessedRecordIDs = append(p.ProcessedRecordIDs, u.RecordIDs...)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// DeriveStatus computes the parent's status from its children:
//
//   - completed iff every child is completed
//   - failed iff at least one child is failed and none are still pending
//   - otherwise the least-advanced non-terminal status present
//
// An empty parent is StatusCreated.
func (p *Parent) DeriveStatus() Status {
	if len(p.Children) == 0 {
		return StatusCreated
	}

	allCompleted := true
	leastAdvanced := Status("")
	for _, child := range p.Children {
		if child.Status != StatusCompleted {
			allCompleted = false
		}
		if !child.Status.Terminal() {
			if leastAdvanced == "" || statusRank[child.Status] < statusRank[leastAdvanced] {
				leastAdvanced = child.Status
			}
		}
	}

	switch {
	case allCompleted:
		return StatusCompleted
	case leastAdvanced != "":
		return leastAdvanced
	default:
		// All children terminal, not all completed: at least one failed.
		return StatusFailed
	}
}

// ChildByBatchID returns the child with the given provider handle, or nil.
func (p *Parent) ChildByBatchID(batchID string) *Unit {
	for _, child := range p.Children {
		if child.BatchID == batchID {
			return child
		}
	}
	return nil
}

// Validate checks the parent invariants: every child valid, no record ID
// shared between siblings, and ProcessedRecordIDs equals the union of the
// children's record IDs.
func (p *Parent) Validate() error {
	union := make(map[string]struct{})
	for _, child := range p.Children {
		if err := child.Validate(); err != nil {
			return fmt.Errorf("parent %s: %w", p.ParentID, err)
		}
		for _, id := range child.RecordIDs {
			if _, dup := union[id]; dup {
				return fmt.Errorf("%w: %q appears in two sibling batches of %s",
					ErrDuplicateRecord, id, p.ParentID)
			}
			union[id] = struct{}{}
		}
	}

	if len(p.ProcessedRecordIDs) != len(union) {
		return fmt.Errorf("parent %s: processed_record_ids has %d entries, children union has %d",
			p.ParentID, len(p.ProcessedRecordIDs), len(union))
	}
	for _, id := range p.ProcessedRecordIDs {
		if _, ok := union[id]; !ok {
			return fmt.Errorf("parent %s: processed record %q not covered by any child",
				p.ParentID, id)
		}
	}
	return nil
}

// processedSet returns ProcessedRecordIDs as a lookup set.
func (p *Parent) processedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.ProcessedRecordIDs))
	for _, id := range p.ProcessedRecordIDs {
		set[id] = struct{}{}
	}
	return set
}
