// Package trace implements the kernel's bounded scheduling-event ring.
//
// The shape follows internal/timeslice: a fixed-capacity buffer of small
// (kind, timestamp) records that is cheap enough to write from any
// context, including an interrupt handler, and is drained later by a
// callback. Unlike internal/timeslice, which streams records out to an
// io.Writer as they arrive, this ring keeps records in memory and
// overwrites the oldest entry on overflow, per the kernel's bounded-trace
// contract.
package trace

import (
	"context"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// Kind identifies the category of a recorded event.
type Kind int

const (
	Release Kind = iota
	Block
	Unblock
	TaskExit
	ResourceLock
	ResourceUnlock
	MessageBroadcast
	MessageReceive
	SemaphoreSignal
	SemaphoreReset
	TimerEvent

	numKinds
)

func (k Kind) String() string {
	switch k {
	case Release:
		return "release"
	case Block:
		return "block"
	case Unblock:
		return "unblock"
	case TaskExit:
		return "task-exit"
	case ResourceLock:
		return "resource-lock"
	case ResourceUnlock:
		return "resource-unlock"
	case MessageBroadcast:
		return "message-broadcast"
	case MessageReceive:
		return "message-receive"
	case SemaphoreSignal:
		return "semaphore-signal"
	case SemaphoreReset:
		return "semaphore-reset"
	case TimerEvent:
		return "timer-event"
	default:
		return "unknown"
	}
}

// Timestamp is an opaque monotonic tick count; the kernel core never
// interprets it beyond ordering.
type Timestamp uint64

// Clock supplies the current time to the tracer. cmd/ksim wires in a
// counter that advances once per Now call; tests inject a fake for
// deterministic ordering.
type Clock interface {
	Now() Timestamp
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() Timestamp

func (f ClockFunc) Now() Timestamp { return f() }

// Record is one entry in the ring.
type Record struct {
	Kind      Kind
	Timestamp Timestamp
}

// Buffer is a fixed-capacity, critical-section-protected ring of Records
// with one enable bit per Kind. It is safe to call Report from any
// context as long as the caller already holds the arch critical section;
// the ring itself does no additional locking, mirroring the "all
// mutations occur inside the interrupt-disable critical section" rule.
// The enable bits live in one atomic word, the same primitive as the
// scheduler's ATV/BTV, so they can be toggled from any context without
// entering the critical section at all.
type Buffer struct {
	clock   Clock
	records []Record
	head    int // index of the oldest record
	count   int
	enabled atomicbitops.Uint32 // bit k set <=> Kind k recorded
}

// New returns a Buffer with the given capacity (must be > 0) and every
// category disabled; nothing is recorded until a category is explicitly
// enabled.
func New(capacity int, clock Clock) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		clock:   clock,
		records: make([]Record, capacity),
	}
}

// Capacity returns the ring's fixed size.
func (b *Buffer) Capacity() int {
	return len(b.records)
}

// Len returns the number of records currently buffered.
func (b *Buffer) Len() int {
	return b.count
}

// SetEnabled toggles whether events of kind k are recorded.
func (b *Buffer) SetEnabled(k Kind, enabled bool) {
	for {
		old := b.enabled.Load()
		mask := old &^ (1 << uint(k))
		if enabled {
			mask = old | 1<<uint(k)
		}
		if old == mask || b.enabled.CompareAndSwap(old, mask) {
			return
		}
	}
}

// Enabled reports whether events of kind k are currently recorded.
func (b *Buffer) Enabled(k Kind) bool {
	return b.enabled.Load()&(1<<uint(k)) != 0
}

// SetAllEnabled toggles every category at once.
func (b *Buffer) SetAllEnabled(enabled bool) {
	if enabled {
		b.enabled.Store(1<<numKinds - 1)
		return
	}
	b.enabled.Store(0)
}

// Report pushes a record for kind k if that category is enabled. On
// overflow the oldest record is silently overwritten; FIFO order among
// surviving records is preserved.
func (b *Buffer) Report(k Kind) {
	if !b.Enabled(k) {
		return
	}
	rec := Record{Kind: k, Timestamp: b.clock.Now()}
	size := len(b.records)
	if b.count < size {
		idx := (b.head + b.count) % size
		b.records[idx] = rec
		b.count++
		return
	}
	b.records[b.head] = rec
	b.head = (b.head + 1) % size
}

// Process drains the ring in arrival order, calling handler once per
// record, until empty or ctx is done. The ring is empty when Process
// returns normally.
func (b *Buffer) Process(ctx context.Context, handler func(Record)) {
	for b.count > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rec := b.records[b.head]
		b.head = (b.head + 1) % len(b.records)
		b.count--
		handler(rec)
	}
}
