// Package kconfig holds the compile-time tunables of the kernel core.
//
// These mirror the constants a Cortex-M build would fix at link time
// (MAX_TASKS, MAX_STACK_SIZE, ...); here they're exported Go constants so
// every package that needs them shares one definition.
package kconfig

const (
	// MaxTasks bounds the number of simultaneously installed tasks. Task
	// priority and task id are the same number, so this also bounds the
	// priority range to [0, MaxTasks).
	MaxTasks = 32

	// MaxStackSize is the number of 32-bit words reserved per task stack.
	MaxStackSize = 64

	// MinFrameWords is the smallest stack, in words, a task may be
	// created with. It is twice the 16 words tcb.InitStack reserves for
	// the synthetic exception frame plus the manually saved register set.
	MinFrameWords = 32

	// MaxResources bounds the number of simultaneously locked ceilings.
	MaxResources = 8

	// SysTickInterval is the nominal reload value of the periodic tick,
	// expressed in core cycles. The tick source itself is out of scope;
	// this constant exists so a collaborator (timer/event sweeper) that
	// is wired in later has something to configure against.
	SysTickInterval = 1_000_000
)
