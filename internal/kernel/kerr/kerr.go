// Package kerr collects the kernel's error kinds so every package
// reports failures with the same sentinels, checkable with errors.Is.
// This mirrors internal/hv/common.go's package-level `var ErrX =
// errors.New(...)` block rather than ad hoc per-package strings.
package kerr

import "errors"

var (
	// ErrAccessDenied is returned when an unprivileged caller invokes a
	// privileged-only operation, or a task locks a resource it was not
	// declared to access.
	ErrAccessDenied = errors.New("kernel: access denied")

	// ErrDoesNotExist is returned when a task index is out of range or
	// unallocated.
	ErrDoesNotExist = errors.New("kernel: task does not exist")

	// ErrPriorityOccupied is returned by task creation when the
	// requested priority already has a task. Task creation is the only
	// place a priority collision can occur (TCBs are never destroyed),
	// so this is a distinct creation-time error alongside the six
	// runtime kinds.
	ErrPriorityOccupied = errors.New("kernel: priority already occupied")

	// ErrLockPending is returned by a resource lock that could not be
	// granted yet: another task holds the system ceiling, and if that
	// holder runs on the other core the requester has been migrated
	// there. The caller retries the lock once the holder releases and
	// the requester is back on its home core.
	ErrLockPending = errors.New("kernel: lock pending")

	// ErrStackTooSmall is returned when a task's stack is shorter than
	// kconfig.MinFrameWords words.
	ErrStackTooSmall = errors.New("kernel: stack too small")

	// ErrLimitExceeded is returned when the priority-ceiling stack is
	// already at capacity.
	ErrLimitExceeded = errors.New("kernel: limit exceeded")

	// ErrEmpty is returned by a ceiling-stack pop with nothing pushed.
	ErrEmpty = errors.New("kernel: empty")

	// ErrNotFound is returned when a resource id was never declared.
	ErrNotFound = errors.New("kernel: resource not found")
)
