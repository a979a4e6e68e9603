package batch

import (
	"sync"
	"time"
)

// percentMultiplier converts a ratio to a percentage (0-100).
const percentMultiplier = 100

// Progress tracks submission or retrieval progress across the batches of a
// dataset. Thread-safe; the wait loop and log output read it while the
// driver updates it.
type Progress struct {
	// TotalRecords is the number of records in the dataset.
	TotalRecords int

	// ProcessedRecords is the number of records submitted or retrieved.
	ProcessedRecords int

	// TotalBatches is the number of batches the dataset splits into.
	TotalBatches int

	// ProcessedBatches is the number of batches handled so far.
	ProcessedBatches int

	// BatchSize is the configured batch size.
	BatchSize int

	// StartTime is when the operation started.
	StartTime time.Time

	mu sync.RWMutex
}

// NewProgress creates a progress tracker.
func NewProgress(totalRecords, totalBatches, batchSize int) *Progress {
	return &Progress{
		TotalRecords: totalRecords,
		TotalBatches: totalBatches,
		BatchSize:    batchSize,
		StartTime:    time.Now(),
	}
}

// AddProcessed records one handled batch of n records.
func (p *Progress) AddProcessed(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ProcessedRecords += n
	p.ProcessedBatches++
}

// PercentComplete returns the completion percentage (0-100).
func (p *Progress) PercentComplete() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.TotalRecords == 0 {
		return 0
	}
	return (float64(p.ProcessedRecords) / float64(p.TotalRecords)) * percentMultiplier
}

// IsComplete reports whether every record has been handled.
func (p *Progress) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ProcessedRecords >= p.TotalRecords
}

// Elapsed returns the time since the operation started.
func (p *Progress) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.StartTime)
}
