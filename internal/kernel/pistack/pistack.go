// Package pistack implements the priority-ceiling stack: an ordered
// stack of resource ceilings and the system ceiling they imply.
//
// SystemCeiling reports a dedicated sentinel when the stack is empty
// rather than indexing storage that was never written.
package pistack

import "github.com/rtkernel/rtkernel/internal/kernel/kerr"

// NoCeiling is the system ceiling when no resource is locked.
const NoCeiling int32 = -1

// ErrEmpty is returned by Pop when the stack holds no ceilings.
var ErrEmpty = kerr.ErrEmpty

// ErrLimitExceeded is returned by Push when the stack is already at
// capacity.
var ErrLimitExceeded = kerr.ErrLimitExceeded

// Stack is a fixed-capacity LIFO of resource ceilings.
type Stack struct {
	ceilings []int32
	top      int // number of ceilings currently pushed
}

// New returns an empty Stack that can hold up to capacity ceilings.
func New(capacity int) *Stack {
	if capacity <= 0 {
		capacity = 1
	}
	return &Stack{ceilings: make([]int32, capacity)}
}

// Push records ceiling as the new top of the stack. It becomes the new
// system ceiling.
func (s *Stack) Push(ceiling int32) error {
	if s.top >= len(s.ceilings) {
		return ErrLimitExceeded
	}
	s.ceilings[s.top] = ceiling
	s.top++
	return nil
}

// Pop removes the top ceiling. The system ceiling afterward is whatever
// ceiling is now on top, or NoCeiling if the stack is empty.
func (s *Stack) Pop() error {
	if s.top == 0 {
		return ErrEmpty
	}
	s.top--
	return nil
}

// SystemCeiling returns the ceiling of the most recently pushed,
// not-yet-popped resource, or NoCeiling if none is held.
func (s *Stack) SystemCeiling() int32 {
	if s.top == 0 {
		return NoCeiling
	}
	return s.ceilings[s.top-1]
}

// Len reports how many ceilings are currently held.
func (s *Stack) Len() int {
	return s.top
}
