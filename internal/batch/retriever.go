package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/mvettori/fingraph/internal/provider"
)

// Mode selects the retrieval behavior.
type Mode int

// Retrieval modes.
const (
	// ModeDefault checks status once and, if the job is already complete,
	// retrieves and returns results immediately.
	ModeDefault Mode = iota

	// ModeCheckOnly queries status once and returns without retrieving
	// results or writing any result file.
	ModeCheckOnly

	// ModeWait blocks, polling at the configured interval, until the
	// batch (or every child of a parent) reaches a terminal state.
	ModeWait
)

// DefaultWaitInterval is the polling interval for ModeWait when none is
// configured.
const DefaultWaitInterval = 30 * time.Second

// defaultMaxPollAttempts bounds transient-error retries for a single
// provider call inside the polling loop.
const defaultMaxPollAttempts = 5

// mergedResultFile is the combined output written for a parent batch.
const mergedResultFile = "merged_results.json"

// Options configures a retrieval run.
type Options struct {
	// Parent treats the identifier as a parent batch ID or directory.
	Parent bool

	// Mode selects check-only, wait, or default behavior.
	Mode Mode

	// WaitInterval is the sleep between polls in ModeWait.
	WaitInterval time.Duration

	// OutputDir overrides where result files are written. Defaults to the
	// batch's results directory inside the store.
	OutputDir string
}

// ChildSummary reports one child batch's outcome in a retrieval result.
type ChildSummary struct {
	BatchID string
	Status  Status
	Records int
}

// Result is the outcome of a retrieval run.
type Result struct {
	// ID is the batch or parent batch identifier that was retrieved.
	ID string

	// Parent reports whether this was a parent batch retrieval.
	Parent bool

	// Status is the observed (for parents: derived) status.
	Status Status

	// FailureReason carries the provider's reason when Status is failed.
	FailureReason string

	// Results maps record ID to extraction output; populated only when
	// results were retrieved.
	Results map[string]json.RawMessage

	// Children summarizes per-child outcomes for a parent batch.
	Children []ChildSummary

	// ResultPath is where the (merged) result file was written.
	ResultPath string
}

// Retriever polls provider job status, pulls results when ready, and merges
// child results for parent batches. Provider calls never happen while the
// store lock is held.
type Retriever struct {
	store       *Store
	client      provider.Client
	maxAttempts uint64
	log         zerolog.Logger
}

// NewRetriever creates a retrieval driver.
func NewRetriever(store *Store, client provider.Client, logger zerolog.Logger) *Retriever {
	return &Retriever{
		store:       store,
		client:      client,
		maxAttempts: defaultMaxPollAttempts,
		log:         logger,
	}
}

// Retrieve drives a batch or parent batch toward retrieval according to
// opts. See the Mode constants for the exact semantics of each mode.
func (r *Retriever) Retrieve(ctx context.Context, id string, opts Options) (*Result, error) {
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = DefaultWaitInterval
	}
	if opts.Parent {
		return r.retrieveParent(ctx, id, opts)
	}
	return r.retrieveUnit(ctx, id, opts)
}

// retrieveUnit handles a standalone batch.
func (r *Retriever) retrieveUnit(ctx context.Context, batchID string, opts Options) (*Result, error) {
	unit, err := r.store.LoadUnit(batchID)
	if err != nil {
		return nil, err
	}

	result := &Result{ID: batchID, Status: unit.Status, FailureReason: unit.FailureReason}

	for {
		if unit.Status == StatusFailed {
			result.Status = StatusFailed
			result.FailureReason = unit.FailureReason
			return result, nil
		}

		providerDone := unit.Status == StatusCompleted
		if !providerDone {
			raw, pollErr := r.pollStatus(ctx, unit.BatchID)
			if pollErr != nil {
				// True state unknown: leave the last-known status in
				// place rather than guessing failed.
				return nil, pollErr
			}
			mapped := MapProviderStatus(raw)
			result.Status = mapped

			switch mapped {
			case StatusFailed:
				reason := fmt.Sprintf("provider reported status %q", raw)
				if err := unit.MarkFailed(reason); err != nil {
					return nil, err
				}
				if err := r.store.SaveUnit(unit); err != nil {
					return nil, err
				}
				result.FailureReason = reason
				return result, nil
			case StatusInProgress:
				if unit.Status != StatusInProgress {
					if err := unit.Transition(StatusInProgress); err != nil {
						return nil, err
					}
					if err := r.store.SaveUnit(unit); err != nil {
						return nil, err
					}
				}
			case StatusCompleted:
				providerDone = true
			}
		}

		if opts.Mode == ModeCheckOnly {
			return result, nil
		}
		if providerDone {
			break
		}
		if opts.Mode != ModeWait {
			return result, nil
		}

		r.log.Info().
			Str("batch_id", unit.BatchID).
			Str("status", string(result.Status)).
			Dur("interval", opts.WaitInterval).
			Msg("batch not yet complete, waiting")
		if err := sleepContext(ctx, opts.WaitInterval); err != nil {
			return nil, err
		}
	}

	// Already retrieved in an earlier run: reuse the stored result file.
	if unit.Status == StatusCompleted && unit.ResultPath != "" {
		results, readErr := readResultFile(unit.ResultPath)
		if readErr != nil {
			return nil, readErr
		}
		result.Status = StatusCompleted
		result.Results = results
		result.ResultPath = unit.ResultPath
		return result, nil
	}

	results, err := r.fetchResults(ctx, unit.BatchID)
	if err != nil {
		return nil, err
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = r.store.Root()
	}
	resultPath, err := writeResultFile(outDir, unit.BatchID, results)
	if err != nil {
		return nil, err
	}

	if err := unit.MarkCompleted(resultPath); err != nil {
		return nil, err
	}
	if err := r.store.SaveUnit(unit); err != nil {
		return nil, err
	}

	result.Status = StatusCompleted
	result.Results = results
	result.ResultPath = resultPath
	r.log.Info().
		Str("batch_id", unit.BatchID).
		Int("records", len(results)).
		Str("result_path", resultPath).
		Msg("batch results retrieved")
	return result, nil
}

// retrieveParent handles a parent batch: poll every non-terminal child,
// persist observed transitions, and when everything is complete merge the
// children's per-record results into one combined output.
func (r *Retriever) retrieveParent(ctx context.Context, parentID string, opts Options) (*Result, error) {
	parent, err := r.store.LoadParent(parentID)
	if err != nil {
		return nil, err
	}

	result := &Result{ID: parent.ParentID, Parent: true}

	var done childPollState
	for {
		var pollErr error
		done, pollErr = r.pollChildren(ctx, parent)
		if pollErr != nil {
			return nil, pollErr
		}
		if done.changed {
			if err := r.persistChildStatuses(parentID, parent); err != nil {
				return nil, err
			}
		}

		result.Status = parent.DeriveStatus()
		result.Children = summarizeChildren(parent)

		if opts.Mode == ModeCheckOnly {
			return result, nil
		}
		if done.allTerminal {
			break
		}
		if opts.Mode != ModeWait {
			return result, nil
		}

		r.log.Info().
			Str("parent_id", parent.ParentID).
			Str("status", string(result.Status)).
			Int("ready", done.readyChildren).
			Int("total", len(parent.Children)).
			Dur("interval", opts.WaitInterval).
			Msg("parent batch not yet complete, waiting")
		if err := sleepContext(ctx, opts.WaitInterval); err != nil {
			return nil, err
		}
	}

	if countStatus(parent, StatusFailed) > 0 {
		result.Status = parent.DeriveStatus()
		result.FailureReason = firstFailureReason(parent)
		return result, nil
	}

	merged, summaries, err := r.mergeChildResults(ctx, parent, opts)
	if err != nil {
		return nil, err
	}
	result.Children = summaries

	outDir := opts.OutputDir
	if outDir == "" {
		outDir, err = r.store.ResultsDir(parentID)
		if err != nil {
			return nil, err
		}
	}
	mergedPath := filepath.Join(outDir, mergedResultFile)
	if err := writeJSONAtomic(mergedPath, merged); err != nil {
		return nil, err
	}

	if err := r.persistChildStatuses(parentID, parent); err != nil {
		return nil, err
	}

	result.Status = parent.DeriveStatus()
	result.Results = merged
	result.ResultPath = mergedPath
	r.log.Info().
		Str("parent_id", parent.ParentID).
		Int("records", len(merged)).
		Str("result_path", mergedPath).
		Msg("parent batch results merged")
	return result, nil
}

// childPollState summarizes one polling pass over a parent's children.
type childPollState struct {
	// changed reports whether any child's stored status moved.
	changed bool

	// allTerminal reports whether every child is locally terminal or
	// provider-complete, i.e. nothing is still pending at the provider.
	allTerminal bool

	// readyChildren counts children whose provider job has finished.
	readyChildren int
}

// pollChildren queries the provider for every child that is not locally
// terminal, applying observed transitions in memory.
//
// A provider-reported "completed" does not move the child to
// StatusCompleted here: locally, completed means results were retrieved and
// written to result_path, which happens in mergeChildResults. The child
// stays in_progress on disk while its provider-side readiness is tracked in
// the returned poll state.
func (r *Retriever) pollChildren(ctx context.Context, parent *Parent) (childPollState, error) {
	state := childPollState{allTerminal: true}
	for _, child := range parent.Children {
		if child.Status.Terminal() {
			state.readyChildren++
			continue
		}
		raw, err := r.pollStatus(ctx, child.BatchID)
		if err != nil {
			return state, err
		}
		switch MapProviderStatus(raw) {
		case StatusFailed:
			if err := child.MarkFailed(fmt.Sprintf("provider reported status %q", raw)); err != nil {
				return state, err
			}
			state.changed = true
			state.readyChildren++
		case StatusCompleted:
			state.readyChildren++
			if child.Status != StatusInProgress {
				if err := child.Transition(StatusInProgress); err != nil {
					return state, err
				}
				state.changed = true
			}
		default:
			state.allTerminal = false
			if child.Status != StatusInProgress {
				if err := child.Transition(StatusInProgress); err != nil {
					return state, err
				}
				state.changed = true
			}
		}
	}
	return state, nil
}

// mergeChildResults retrieves every ready child's results and concatenates
// them into one combined mapping keyed by record id, in child submission
// order.
func (r *Retriever) mergeChildResults(ctx context.Context, parent *Parent, _ Options) (map[string]json.RawMessage, []ChildSummary, error) {
	resultsDir, err := r.store.ResultsDir(parent.ParentID)
	if err != nil {
		return nil, nil, err
	}

	merged := make(map[string]json.RawMessage)
	summaries := make([]ChildSummary, 0, len(parent.Children))
	for _, child := range parent.Children {
		var childResults map[string]json.RawMessage

		if child.Status == StatusCompleted && child.ResultPath != "" {
			childResults, err = readResultFile(child.ResultPath)
			if err != nil {
				return nil, nil, err
			}
		} else {
			childResults, err = r.fetchResults(ctx, child.BatchID)
			if err != nil {
				return nil, nil, err
			}
			resultPath, writeErr := writeResultFile(resultsDir, child.BatchID, childResults)
			if writeErr != nil {
				return nil, nil, writeErr
			}
			if err := child.MarkCompleted(resultPath); err != nil {
				return nil, nil, err
			}
		}

		for recordID, output := range childResults {
			if _, dup := merged[recordID]; dup {
				// Sibling overlap should be impossible; if it happens the
				// later-submitted child wins.
				r.log.Warn().
					Str("record_id", recordID).
					Str("batch_id", child.BatchID).
					Msg("record id present in multiple sibling batches, keeping later result")
			}
			merged[recordID] = output
		}
		summaries = append(summaries, ChildSummary{
			BatchID: child.BatchID,
			Status:  child.Status,
			Records: len(childResults),
		})
	}
	return merged, summaries, nil
}

// persistChildStatuses writes the observed child transitions back to the
// store. The on-disk parent is reloaded under the lock and updated child by
// child, so children appended by a concurrent run are preserved.
func (r *Retriever) persistChildStatuses(parentID string, parent *Parent) error {
	return r.store.WithParentLock(parentID, func() error {
		stored, err := r.store.LoadParent(parentID)
		if err != nil {
			return err
		}
		for _, child := range parent.Children {
			target := stored.ChildByBatchID(child.BatchID)
			if target == nil || target.Status.Terminal() {
				continue
			}
			target.Status = child.Status
			target.CompletedAt = child.CompletedAt
			target.ResultPath = child.ResultPath
			target.FailureReason = child.FailureReason
		}
		return r.store.SaveParent(stored)
	})
}

// pollStatus queries the provider once for a job status, retrying transient
// errors with exponential backoff up to the configured attempt bound.
func (r *Retriever) pollStatus(ctx context.Context, batchID string) (string, error) {
	var raw string
	op := func() error {
		status, err := r.client.GetStatus(ctx, batchID)
		if err != nil {
			if provider.IsTransient(err) {
				r.log.Warn().Err(err).Str("batch_id", batchID).Msg("transient error polling status, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		raw = status
		return nil
	}
	if err := backoff.Retry(op, r.newBackOff(ctx)); err != nil {
		return "", fmt.Errorf("status poll for batch %s failed: %w", batchID, err)
	}
	return raw, nil
}

// fetchResults downloads a completed job's results with the same transient
// retry policy as status polling.
func (r *Retriever) fetchResults(ctx context.Context, batchID string) (map[string]json.RawMessage, error) {
	var results map[string]json.RawMessage
	op := func() error {
		res, err := r.client.GetResults(ctx, batchID)
		if err != nil {
			if provider.IsTransient(err) {
				r.log.Warn().Err(err).Str("batch_id", batchID).Msg("transient error fetching results, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		results = res
		return nil
	}
	if err := backoff.Retry(op, r.newBackOff(ctx)); err != nil {
		return nil, fmt.Errorf("result retrieval for batch %s failed: %w", batchID, err)
	}
	return results, nil
}

// newBackOff builds the bounded exponential backoff used for provider
// calls.
func (r *Retriever) newBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxAttempts), ctx)
}

// summarizeChildren reports each child's stored status without result
// counts (used before retrieval happens).
func summarizeChildren(parent *Parent) []ChildSummary {
	summaries := make([]ChildSummary, 0, len(parent.Children))
	for _, child := range parent.Children {
		summaries = append(summaries, ChildSummary{
			BatchID: child.BatchID,
			Status:  child.Status,
			Records: len(child.RecordIDs),
		})
	}
	return summaries
}

// countStatus counts children in the given status.
func countStatus(parent *Parent, status Status) int {
	n := 0
	for _, child := range parent.Children {
		if child.Status == status {
			n++
		}
	}
	return n
}

// firstFailureReason returns the first failed child's reason.
func firstFailureReason(parent *Parent) string {
	for _, child := range parent.Children {
		if child.Status == StatusFailed {
			return child.FailureReason
		}
	}
	return ""
}

// sleepContext sleeps for d or until ctx is cancelled. Cancellation during
// a wait returns ctx.Err() without touching the store, leaving on-disk
// state exactly as the last completed write left it.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
