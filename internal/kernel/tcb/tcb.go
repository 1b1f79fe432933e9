// Package tcb implements the task control block and the synthetic
// exception frame a task's private stack must hold before its first
// dispatch.
//
// The real frame layout (which hardware-stacked words sit where) is
// architecture-specific; what's fixed and tested here is the contract: after InitStack, a first
// Load of the returned stack pointer followed by "return to thread mode"
// must run the task's entry function, and the frame must fit inside the
// caller-supplied stack.
package tcb

import (
	"github.com/rtkernel/rtkernel/internal/kernel/arch"
	"github.com/rtkernel/rtkernel/internal/kernel/kconfig"
	"github.com/rtkernel/rtkernel/internal/kernel/kerr"
)

// ErrStackTooSmall is returned by InitStack when the stack is shorter
// than kconfig.MinFrameWords words.
var ErrStackTooSmall = kerr.ErrStackTooSmall

// StackPointer indexes into a task's private stack; NullSP marks "not
// yet initialized".
type StackPointer = int

// NullSP is the sentinel StackPointer value of an uninitialized TCB.
const NullSP StackPointer = -1

// xpsrThreadMode is the architecturally required status-word value a
// first dispatch expects to find at the top of the exception frame (bit
// 24, the Thumb state bit, is the only bit this model cares about).
const xpsrThreadMode uint32 = 1 << 24

// pcPlaceholder occupies the frame's PC slot. The real encoding of a
// task entry point as a stacked PC word is board-specific and out of
// scope; TCB.Entry carries the actual entry function for this model's
// dispatcher to invoke on first load.
const pcPlaceholder uint32 = 0xFFFFFFFF

// frameWords is the number of stack words InitStack reserves: 8 for the
// hardware-stacked exception frame (r0-r3, r12, lr, pc, xpsr) and 8 for
// the manually saved r4-r11.
const frameWords = 16

// InitStack writes the synthetic exception frame at the top of stack and
// returns the resulting stack pointer: an index pointing at the
// manually-saved register region, ready for a first LoadContext.
func InitStack(stack []uint32, entry func()) (StackPointer, error) {
	if len(stack) < kconfig.MinFrameWords || entry == nil {
		return NullSP, ErrStackTooSmall
	}
	top := len(stack)
	stack[top-1] = xpsrThreadMode
	stack[top-2] = pcPlaceholder
	for i := 3; i <= 8; i++ {
		stack[top-i] = 0
	}
	return top - frameWords, nil
}

// TCB is a task's control block. SP is the first field by architectural
// contract: a board's context-switch assembly only ever needs the
// address of this struct to find the task's current stack pointer.
type TCB struct {
	SP       StackPointer
	Priority int

	stack []uint32
	entry func()
	regs  arch.Registers
}

// New creates a TCB for priority, backed by stack, whose first dispatch
// runs entry. The caller owns stack's lifetime; the kernel never
// reallocates it (stacks are statically sized for the task's lifetime).
func New(priority int, stack []uint32, entry func()) (*TCB, error) {
	sp, err := InitStack(stack, entry)
	if err != nil {
		return nil, err
	}
	return &TCB{
		SP:       sp,
		Priority: priority,
		stack:    stack,
		entry:    entry,
	}, nil
}

// Entry returns the task's entry function, for a dispatcher to invoke on
// first load.
func (t *TCB) Entry() func() {
	return t.entry
}

// GetRegisters implements arch.ContextSlot.
func (t *TCB) GetRegisters() arch.Registers {
	return t.regs
}

// SetRegisters implements arch.ContextSlot.
func (t *TCB) SetRegisters(r arch.Registers) {
	t.regs = r
}
