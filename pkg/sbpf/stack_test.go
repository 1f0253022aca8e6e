package sbpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_PushPop(t *testing.T) {
	s := NewStack(3)
	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, VaddrStack+StackFrameSize, s.GetFramePtr())

	regs := [4]uint64{6, 7, 8, 9}
	fp, ok := s.Push(&regs, 42)
	require.True(t, ok)
	assert.Equal(t, VaddrStack+2*StackFrameSize, fp)

	regs = [4]uint64{}
	fp, ok = s.Push(&regs, 43)
	require.True(t, ok)
	assert.Equal(t, 3, s.Depth())

	_, ok = s.Push(&regs, 44)
	assert.False(t, ok, "push beyond max depth")

	fp, ret, ok := s.Pop(&regs)
	require.True(t, ok)
	assert.Equal(t, int64(43), ret)
	assert.Equal(t, VaddrStack+2*StackFrameSize, fp)

	_, ret, ok = s.Pop(&regs)
	require.True(t, ok)
	assert.Equal(t, int64(42), ret)
	assert.Equal(t, [4]uint64{6, 7, 8, 9}, regs)

	_, _, ok = s.Pop(&regs)
	assert.False(t, ok, "pop of root frame")
}

func TestStack_GetFrame(t *testing.T) {
	s := NewStack(2)
	assert.Len(t, s.GetFrame(0), 2*StackFrameSize)
	assert.Len(t, s.GetFrame(StackFrameSize+8), StackFrameSize-8)
	assert.Nil(t, s.GetFrame(2*StackFrameSize))
}

func TestSlot(t *testing.T) {
	s := NewSlot(OpAdd64Imm, 3, 7, -2, -5)
	assert.Equal(t, uint8(OpAdd64Imm), s.Op())
	assert.Equal(t, uint8(3), s.Dst())
	assert.Equal(t, uint8(7), s.Src())
	assert.Equal(t, int16(-2), s.Off())
	assert.Equal(t, int32(-5), s.Imm())
	assert.Equal(t, s, GetSlot(s.Bytes()))
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{StrategyInterpreter, StrategyCompiled} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStrategy("llvm")
	assert.Error(t, err)
}
