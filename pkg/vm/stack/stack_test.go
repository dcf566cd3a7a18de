package stack

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPop(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Push(arch.FromUint64(7)))
	w, err := s.Pop()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), w.Uint64())
}

func TestPopUnderflow(t *testing.T) {
	s := New(0)
	_, err := s.Pop()
	assert.True(t, dverr.Is(err, dverr.StackUnderflow))
}

func TestPushOverflow(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Push(arch.FromUint64(1)))
	require.NoError(t, s.Push(arch.FromUint64(2)))
	err := s.Push(arch.FromUint64(3))
	assert.True(t, dverr.Is(err, dverr.StackOverflow))
}

func TestDup(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Push(arch.FromUint64(5)))
	require.NoError(t, s.Dup())
	assert.Equal(t, 2, s.Depth())
	top, _ := s.Pop()
	bottom, _ := s.Pop()
	assert.Equal(t, top.Uint64(), bottom.Uint64())
}

func TestSwap(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Push(arch.FromUint64(1)))
	require.NoError(t, s.Push(arch.FromUint64(2)))
	require.NoError(t, s.Swap())
	top, _ := s.Pop()
	assert.Equal(t, uint64(1), top.Uint64())
}

func TestFrames(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Push(arch.FromUint64(1)))
	s.PushFrame(10, 0, 3)
	assert.Equal(t, 1, s.FrameDepth())

	f, err := s.CurrentFrame()
	require.NoError(t, err)
	assert.Equal(t, 10, f.ReturnPC)
	assert.Equal(t, 3, len(f.Locals))
	assert.Equal(t, 1, f.BaseSP)

	popped, err := s.PopFrame()
	require.NoError(t, err)
	assert.Equal(t, 10, popped.ReturnPC)
	assert.Equal(t, 0, s.FrameDepth())
}

func TestPopFrameEmpty(t *testing.T) {
	s := New(0)
	_, err := s.PopFrame()
	assert.True(t, dverr.Is(err, dverr.StackUnderflow))
}
