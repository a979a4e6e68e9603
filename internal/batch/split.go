package batch

import (
	"errors"
	"fmt"
)

// Batch sizing defaults. Provider batch jobs accept thousands of requests;
// 2000 keeps individual result files at a manageable size.
const (
	// DefaultBatchSize is the default number of records per batch.
	DefaultBatchSize = 2000

	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size.
	MaxBatchSize = 50000
)

// ErrInvalidBatchSize is returned for batch sizes outside the allowed range.
var ErrInvalidBatchSize = errors.New("batch size must be between 1 and 50000")

// Split divides records into consecutive chunks of at most batchSize,
// preserving input order; the last chunk may be smaller. Concatenating the
// chunks in order reconstructs the input exactly.
func Split(records []Record, batchSize int) ([][]Record, error) {
	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	if len(records) == 0 {
		return nil, nil
	}

	total := len(records) / batchSize
	if len(records)%batchSize > 0 {
		total++
	}

	chunks := make([][]Record, 0, total)
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks, nil
}
