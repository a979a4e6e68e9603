package batch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mvettori/fingraph/internal/provider"
)

// RequestFormatter converts one record into the provider request payload.
// Invoked once per record while building a batch; the payload is opaque to
// the batch core.
type RequestFormatter interface {
	Format(rec Record) (provider.Request, error)
}

// Coordinator splits oversized datasets into provider batches, tracks them
// as children of a parent batch, and supports resumption against an
// existing parent batch directory.
type Coordinator struct {
	store     *Store
	client    provider.Client
	formatter RequestFormatter
	batchSize int
	log       zerolog.Logger
}

// NewCoordinator creates a coordinator. batchSize must be within
// [MinBatchSize, MaxBatchSize].
func NewCoordinator(store *Store, client provider.Client, formatter RequestFormatter, batchSize int, logger zerolog.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("provider client is required")
	}
	if formatter == nil {
		return nil, fmt.Errorf("request formatter is required")
	}
	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	return &Coordinator{
		store:     store,
		client:    client,
		formatter: formatter,
		batchSize: batchSize,
		log:       logger,
	}, nil
}

// CreateParent splits records into consecutive chunks of at most the
// configured batch size, submits one provider batch per chunk, and persists
// the resulting parent with every child in submitted state.
//
// Chunk boundaries follow input order exactly, so the same dataset always
// yields the same split for a given batch size.
func (c *Coordinator) CreateParent(ctx context.Context, records []Record) (*Parent, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}

	chunks, err := Split(records, c.batchSize)
	if err != nil {
		return nil, err
	}

	parent := NewParent()
	c.log.Info().
		Str("parent_id", parent.ParentID).
		Int("records", len(records)).
		Int("batches", len(chunks)).
		Msg("creating parent batch")

	progress := NewProgress(len(records), len(chunks), c.batchSize)
	for i, chunk := range chunks {
		unit, err := c.submitChunk(ctx, chunk)
		if err != nil {
			if len(parent.Children) > 0 {
				// Earlier chunks are live provider jobs; their snapshot
				// is already on disk, so the run can be resumed.
				c.log.Error().
					Str("parent_id", parent.ParentID).
					Int("submitted_batches", len(parent.Children)).
					Msg("submission aborted; already submitted batches are persisted")
				return nil, fmt.Errorf("batch %d/%d (parent %s holds the %d already submitted): %w",
					i+1, len(chunks), parent.ParentID, len(parent.Children), err)
			}
			return nil, fmt.Errorf("batch %d/%d: %w", i+1, len(chunks), err)
		}
		if err := parent.AppendChild(unit); err != nil {
			return nil, err
		}
		// Snapshot after every accepted submission. A crash or provider
		// failure mid-run must never leave an accepted batch job with no
		// on-disk record.
		if err := c.store.WithParentLock(parent.ParentID, func() error {
			return c.store.SaveParent(parent)
		}); err != nil {
			return nil, err
		}
		progress.AddProcessed(len(chunk))
		c.log.Info().
			Str("batch_id", unit.BatchID).
			Int("records", len(chunk)).
			Str("progress", fmt.Sprintf("%.0f%%", progress.PercentComplete())).
			Msg("child batch submitted")
	}

	c.log.Info().
		Str("parent_id", parent.ParentID).
		Bool("complete", progress.IsComplete()).
		Dur("elapsed", progress.Elapsed()).
		Msg("all child batches submitted")
	return parent, nil
}

// Resume filters records through the dedup ledger of an existing parent
// batch and submits exactly one new child containing the unseen subset,
// appending it to the parent under the store lock. When every record has
// already been processed, Resume returns (nil, nil): a no-op, not an error.
//
// The provider submission happens outside the lock; only the final
// read-modify-write of the parent metadata is serialized.
func (c *Coordinator) Resume(ctx context.Context, parentDir string, records []Record) (*Unit, error) {
	seen, err := c.store.AlreadyProcessed(RecordIDs(records), parentDir)
	if err != nil {
		return nil, err
	}

	fresh := make([]Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; !ok {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		c.log.Info().
			Str("parent_dir", parentDir).
			Int("records", len(records)).
			Msg("all records already processed, nothing to submit")
		return nil, nil
	}
	if len(fresh) > c.batchSize {
		return nil, fmt.Errorf("%d unseen records exceed batch size %d; split the dataset or raise batch_size",
			len(fresh), c.batchSize)
	}

	c.log.Info().
		Str("parent_dir", parentDir).
		Int("new_records", len(fresh)).
		Int("already_processed", len(seen)).
		Msg("resuming parent batch")

	unit, err := c.submitChunk(ctx, fresh)
	if err != nil {
		return nil, err
	}

	// Reload inside the lock: another process may have appended a child
	// since the ledger read. AppendChild rejects any overlap that slipped
	// in between.
	if err := c.store.WithParentLock(parentDir, func() error {
		parent, loadErr := c.store.LoadParent(parentDir)
		if loadErr != nil {
			return loadErr
		}
		if appendErr := parent.AppendChild(unit); appendErr != nil {
			return appendErr
		}
		return c.store.SaveParent(parent)
	}); err != nil {
		return nil, err
	}
	return unit, nil
}

// ParentStatus returns the derived status of the parent batch persisted in
// parentDir.
func (c *Coordinator) ParentStatus(parentDir string) (Status, error) {
	parent, err := c.store.LoadParent(parentDir)
	if err != nil {
		return "", err
	}
	return parent.DeriveStatus(), nil
}

// submitChunk builds provider requests for one chunk and submits them as a
// single batch job, returning the unit in submitted state.
func (c *Coordinator) submitChunk(ctx context.Context, chunk []Record) (*Unit, error) {
	unit, err := NewUnit(chunk)
	if err != nil {
		return nil, err
	}

	reqs := make([]provider.Request, 0, len(chunk))
	for _, rec := range chunk {
		req, err := c.formatter.Format(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to format request for record %s: %w", rec.ID, err)
		}
		reqs = append(reqs, req)
	}

	batchID, err := c.client.SubmitBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("provider rejected batch submission: %w", err)
	}
	if err := unit.MarkSubmitted(batchID); err != nil {
		return nil, err
	}
	return unit, nil
}
