package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manyRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{ID: fmt.Sprintf("n%04d", i), Text: "story"}
	}
	return records
}

func TestSplit(t *testing.T) {
	t.Run("FiveThousandAtTwoThousand", func(t *testing.T) {
		chunks, err := Split(manyRecords(5000), 2000)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 2000)
		assert.Len(t, chunks[1], 2000)
		assert.Len(t, chunks[2], 1000)
	})

	t.Run("ExactMultiple", func(t *testing.T) {
		chunks, err := Split(manyRecords(4000), 2000)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Len(t, chunks[1], 2000)
	})

	t.Run("SingleChunk", func(t *testing.T) {
		chunks, err := Split(manyRecords(10), 2000)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Len(t, chunks[0], 10)
	})

	t.Run("LosslessAndOrdered", func(t *testing.T) {
		records := manyRecords(257)
		chunks, err := Split(records, 100)
		require.NoError(t, err)

		var rejoined []Record
		for _, chunk := range chunks {
			rejoined = append(rejoined, chunk...)
		}
		assert.Equal(t, records, rejoined)
	})

	t.Run("Empty", func(t *testing.T) {
		chunks, err := Split(nil, 2000)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("InvalidBatchSize", func(t *testing.T) {
		_, err := Split(manyRecords(5), 0)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
		_, err = Split(manyRecords(5), -1)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
		_, err = Split(manyRecords(5), MaxBatchSize+1)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
	})
}
