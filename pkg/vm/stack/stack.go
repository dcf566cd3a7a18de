// Package stack implements the bytecode engine's operand stack and
// call frames. The stack is a flat, pre-allocated slice of arch.Word
// values; frames mark the base of each call's locals and operands so
// a return unwinds in O(1) without walking the stack.
package stack

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
)

// DefaultMaxDepth is the operand stack depth limit applied when a
// caller does not configure one explicitly.
const DefaultMaxDepth = 64 * 1024

// Frame marks one function activation: the operand-stack height at
// call time (so Return knows where to truncate back to) and the
// function's local variable slots.
type Frame struct {
	ReturnPC   int
	FuncIndex  int
	BaseSP     int
	Locals     []arch.Word
}

// Stack is the bytecode engine's operand stack plus its call-frame
// stack. Both grow from index 0; neither is safe for concurrent use —
// callers serialize access per execution context, same as the
// context's own program counter.
type Stack struct {
	maxDepth int
	operands []arch.Word
	frames   []Frame
}

// New creates a Stack bounded to maxDepth operand slots. A maxDepth of
// 0 applies DefaultMaxDepth.
func New(maxDepth int) *Stack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Stack{
		maxDepth: maxDepth,
		operands: make([]arch.Word, 0, 256),
	}
}

// Push appends w to the operand stack.
func (s *Stack) Push(w arch.Word) error {
	if len(s.operands) >= s.maxDepth {
		return dverr.Wrap(dverr.StackOverflow, "stack.Push", fmt.Errorf("depth limit %d reached", s.maxDepth))
	}
	s.operands = append(s.operands, w)
	return nil
}

// Pop removes and returns the top operand.
func (s *Stack) Pop() (arch.Word, error) {
	if len(s.operands) == 0 {
		return arch.Word{}, dverr.New(dverr.StackUnderflow, "stack.Pop")
	}
	top := s.operands[len(s.operands)-1]
	s.operands = s.operands[:len(s.operands)-1]
	return top, nil
}

// Peek returns the top operand without removing it.
func (s *Stack) Peek() (arch.Word, error) {
	if len(s.operands) == 0 {
		return arch.Word{}, dverr.New(dverr.StackUnderflow, "stack.Peek")
	}
	return s.operands[len(s.operands)-1], nil
}

// Dup pushes a copy of the top operand.
func (s *Stack) Dup() error {
	top, err := s.Peek()
	if err != nil {
		return fmt.Errorf("stack: dup: %w", err)
	}
	return s.Push(top)
}

// Swap exchanges the top two operands.
func (s *Stack) Swap() error {
	n := len(s.operands)
	if n < 2 {
		return dverr.Wrap(dverr.StackUnderflow, "stack.Swap", fmt.Errorf("requires 2 operands, have %d", n))
	}
	s.operands[n-1], s.operands[n-2] = s.operands[n-2], s.operands[n-1]
	return nil
}

// Depth reports the current operand count.
func (s *Stack) Depth() int {
	return len(s.operands)
}

// PushFrame begins a new call activation, recording the current
// operand height as the frame's base and reserving numLocals local
// slots.
func (s *Stack) PushFrame(returnPC, funcIndex, numLocals int) {
	s.frames = append(s.frames, Frame{
		ReturnPC:  returnPC,
		FuncIndex: funcIndex,
		BaseSP:    len(s.operands),
		Locals:    make([]arch.Word, numLocals),
	})
}

// PopFrame removes and returns the innermost frame. The caller is
// responsible for truncating the operand stack back to the frame's
// result count; PopFrame only manages the frame stack itself.
func (s *Stack) PopFrame() (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, dverr.Wrap(dverr.StackUnderflow, "stack.PopFrame", fmt.Errorf("no active frame to pop"))
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top, nil
}

// CurrentFrame returns the innermost active frame.
func (s *Stack) CurrentFrame() (*Frame, error) {
	if len(s.frames) == 0 {
		return nil, dverr.Wrap(dverr.StackUnderflow, "stack.CurrentFrame", fmt.Errorf("no active frame"))
	}
	return &s.frames[len(s.frames)-1], nil
}

// FrameDepth reports the number of active call frames.
func (s *Stack) FrameDepth() int {
	return len(s.frames)
}

// TruncateTo drops operands above height, used when a call returns
// and its results have already been pushed above the frame's base.
func (s *Stack) TruncateTo(height int) error {
	if height < 0 || height > len(s.operands) {
		return dverr.Wrap(dverr.StackUnderflow, "stack.TruncateTo", fmt.Errorf("invalid height %d, depth is %d", height, len(s.operands)))
	}
	s.operands = s.operands[:height]
	return nil
}
