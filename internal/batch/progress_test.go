package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress(t *testing.T) {
	p := NewProgress(5, 3, 2)

	assert.Equal(t, 0.0, p.PercentComplete())
	assert.False(t, p.IsComplete())

	p.AddProcessed(2)
	p.AddProcessed(2)
	assert.InDelta(t, 80.0, p.PercentComplete(), 0.01)
	assert.False(t, p.IsComplete())

	p.AddProcessed(1)
	assert.InDelta(t, 100.0, p.PercentComplete(), 0.01)
	assert.True(t, p.IsComplete())
	assert.Equal(t, 3, p.ProcessedBatches)
	assert.GreaterOrEqual(t, p.Elapsed().Nanoseconds(), int64(0))
}

func TestProgress_ZeroRecords(t *testing.T) {
	p := NewProgress(0, 0, 10)
	assert.Equal(t, 0.0, p.PercentComplete())
	assert.True(t, p.IsComplete())
}
