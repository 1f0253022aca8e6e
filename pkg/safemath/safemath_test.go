package safemath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaturating(t *testing.T) {
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAddU64(math.MaxUint64, 1))
	assert.Equal(t, uint64(0), SaturatingSubU64(1, 2))
	assert.Equal(t, uint64(math.MaxUint64), SaturatingMulU64(math.MaxUint64, 2))
	assert.Equal(t, uint64(6), SaturatingMulU64(2, 3))
}

func TestChecked(t *testing.T) {
	_, err := CheckedAddU64(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = CheckedSubU64(0, 1)
	assert.ErrorIs(t, err, ErrOverflow)
	v, err := CheckedMulU64(1<<31, 4)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1<<33), v)
}
