package cu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMeter_Consume(t *testing.T) {
	cm := NewComputeMeter(10)
	require.NoError(t, cm.Consume(4))
	assert.Equal(t, uint64(6), cm.Remaining())
	assert.Equal(t, uint64(4), cm.Used())
	assert.False(t, cm.Exceeded())

	assert.ErrorIs(t, cm.Consume(7), ErrComputeExceeded)
	assert.Equal(t, uint64(0), cm.Remaining())
	assert.Equal(t, uint64(10), cm.Used())
	assert.True(t, cm.Exceeded())
}

func TestComputeMeter_ExactBudget(t *testing.T) {
	cm := NewComputeMeter(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, cm.Consume(1))
	}
	assert.ErrorIs(t, cm.Consume(1), ErrComputeExceeded)
}

func TestComputeMeter_Disabled(t *testing.T) {
	cm := NewComputeMeter(1)
	cm.Disable()
	assert.NoError(t, cm.Consume(5))
	assert.True(t, cm.Exceeded())
}

func TestComputeMeter_ChildCeiling(t *testing.T) {
	parent := NewComputeMeter(1000)
	require.NoError(t, parent.Consume(900))

	child := parent.Child(DefaultComputeUnitLimit)
	assert.Equal(t, uint64(100), child.Remaining())

	require.NoError(t, child.Consume(60))
	require.NoError(t, parent.Absorb(&child))
	assert.Equal(t, uint64(40), parent.Remaining())

	small := parent.Child(10)
	assert.Equal(t, uint64(10), small.Remaining())
}
