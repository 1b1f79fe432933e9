// Package arch is the machine shim: the small set of primitives a board
// port must supply (interrupt masking, highest-bit search, the two
// software interrupts, and the context save/load pair). Everything here
// is architecture-neutral; a real Cortex-M port replaces CriticalSection's
// counter with PRIMASK and RaiseSVC/RaisePendSV with the `svc`/ICSR writes,
// without changing any caller.
package arch

import (
	"math/bits"
	"sync/atomic"

	"github.com/rtkernel/rtkernel/internal/kernel/kerr"
)

// Mode is the privilege level a caller is executing at.
type Mode int32

const (
	Unprivileged Mode = iota
	Privileged
)

// Registers is the callee-saved general-purpose register file (r4-r11 on
// Cortex-M) that a context switch must move between the live CPU and a
// parked task. It carries no other state: the PC/xPSR half of a task's
// context lives in its synthetic exception frame (see package tcb), not
// here, matching the split between hardware-stacked and manually-stacked
// registers on a real exception entry.
type Registers struct {
	R4, R5, R6, R7, R8, R9, R10, R11 uint32
}

// ContextSlot is anything that can hold a saved Registers value. TCB
// implements it; arch never imports package tcb so the two stay decoupled.
type ContextSlot interface {
	GetRegisters() Registers
	SetRegisters(Registers)
}

// CPU models the privilege state, pending-interrupt lines, and live
// register file of one core. It owns no scheduling policy: Scheduler (in
// package sched) decides when to call it.
type CPU struct {
	disableDepth int32 // >0 while interrupts are (virtually) masked
	mode         atomic.Int32
	live         Registers

	svcHandler    func()
	pendsvHandler func()
}

// NewCPU returns a CPU in its reset state: privileged thread mode with
// interrupts enabled. The first task dispatch drops the core to
// unprivileged, so boot-time setup (task creation, kernel start) runs
// with full access and everything after it goes through SVC.
func NewCPU() *CPU {
	c := &CPU{}
	c.mode.Store(int32(Privileged))
	return c
}

// SetHandlers installs the SVC and PendSV entry points. A scheduler calls
// this once at construction; until both are set, RaiseSVC/RaisePendSV are
// no-ops, which only matters during construction ordering.
func (c *CPU) SetHandlers(svc, pendsv func()) {
	c.svcHandler = svc
	c.pendsvHandler = pendsv
}

// CriticalSection disables interrupts, runs f, and restores the prior
// enable state. Nesting is safe: only the outermost disable/enable pair
// has an externally visible effect, the same as PRIMASK save/restore.
func (c *CPU) CriticalSection(f func()) {
	atomic.AddInt32(&c.disableDepth, 1)
	defer atomic.AddInt32(&c.disableDepth, -1)
	f()
}

// InterruptsDisabled reports whether a CriticalSection is currently active
// on this core.
func (c *CPU) InterruptsDisabled() bool {
	return atomic.LoadInt32(&c.disableDepth) > 0
}

// Msb returns the index of the highest set bit of v, or ok=false if v==0.
func Msb(v uint32) (idx int, ok bool) {
	if v == 0 {
		return 0, false
	}
	return bits.Len32(v) - 1, true
}

// IsPrivileged reports the core's current privilege level.
func (c *CPU) IsPrivileged() bool {
	return Mode(c.mode.Load()) == Privileged
}

// SetMode sets the core's current privilege level.
func (c *CPU) SetMode(m Mode) {
	c.mode.Store(int32(m))
}

// Mode returns the core's current privilege level.
func (c *CPU) Mode() Mode {
	return Mode(c.mode.Load())
}

// RequirePrivileged runs f only if the core is privileged, returning
// kerr.ErrAccessDenied otherwise. Privileged-only kernel operations
// wrap their bodies in it instead of checking the mode by hand.
func (c *CPU) RequirePrivileged(f func() error) error {
	if !c.IsPrivileged() {
		return kerr.ErrAccessDenied
	}
	return f()
}

// RaiseSVC invokes the installed SVC handler, which is expected to promote
// to Privileged mode and re-enter the scheduler. Calling this while
// already privileged is a caller bug; it still runs the handler.
func (c *CPU) RaiseSVC() {
	if c.svcHandler != nil {
		c.svcHandler()
	}
}

// RaisePendSV invokes the installed PendSV handler, which performs the
// actual context switch.
func (c *CPU) RaisePendSV() {
	if c.pendsvHandler != nil {
		c.pendsvHandler()
	}
}

// SaveContext copies the CPU's live registers into dst. It is the first
// half of the save/load pair required to be an exact inverse of LoadContext.
func (c *CPU) SaveContext(dst ContextSlot) {
	dst.SetRegisters(c.live)
}

// LoadContext restores the CPU's live registers from src.
func (c *CPU) LoadContext(src ContextSlot) {
	c.live = src.GetRegisters()
}

// Live returns a copy of the CPU's current register file, for tests and
// tracing; it is not part of the save/load contract.
func (c *CPU) Live() Registers {
	return c.live
}
