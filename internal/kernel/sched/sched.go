// Package sched implements the per-core scheduler: the ready/blocked
// bitmaps, election, and the block/unblock/release/exit/schedule state
// machine.
//
// ATV/BTV are gvisor.dev/gvisor/pkg/atomicbitops.Uint32, the same
// lock-free-integer package gVisor's own task scheduler uses for
// readiness-adjacent state (see pkg/sentry/kernel/task_start.go). The
// handful of fields that are not bitmaps (curr_tid, started,
// migrated_tid, ...) are guarded by an ordinary mutex; the split keeps
// the bitmap snapshots (ATV, BTV) lock-free while the multi-field
// transitions that must be atomic as a group still are. Current and
// Preemptive take the mutex.
package sched

import (
	"log/slog"

	"github.com/rtkernel/rtkernel/internal/kernel/arch"
	"github.com/rtkernel/rtkernel/internal/kernel/kconfig"
	"github.com/rtkernel/rtkernel/internal/kernel/kerr"
	"github.com/rtkernel/rtkernel/internal/kernel/spinlock"
	"github.com/rtkernel/rtkernel/internal/kernel/tcb"
	"github.com/rtkernel/rtkernel/internal/kernel/trace"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/sync"
)

// CoreID names a hardware core. Single-core configurations only ever use
// Core0.
type CoreID int

const (
	Core0 CoreID = iota
	Core1
)

// IdlePriority is the reserved priority of the task every core creates
// at construction time; it is always ready.
const IdlePriority = 0

var (
	registryMu sync.Mutex
	registry   = map[CoreID]*Scheduler{}
)

// RegisterCore publishes s as the owning handle for its CoreID, so other
// packages (resource, migrate) can reach a peer core without holding a
// raw pointer passed around by hand. Call it once per core, typically
// right after New.
func RegisterCore(s *Scheduler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.id] = s
}

// CoreByID returns the Scheduler registered for id, or nil if none has
// been registered yet.
func CoreByID(id CoreID) *Scheduler {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[id]
}

// Launcher is called with a task's TCB the first time it is dispatched.
// It is the Go-idiomatic stand-in for "return to thread mode": rather
// than jump to a stacked PC, the dispatcher hands the TCB to a Launcher
// that decides how to run its entry function. The default
// RecordingLauncher just records the dispatch, so kernel tests can
// assert scheduling decisions without spinning up real goroutines;
// cmd/ksim installs a Launcher that actually runs entries concurrently.
type Launcher interface {
	Launch(t *tcb.TCB)
}

// RecordingLauncher is the default Launcher: it records the priority of
// every task dispatched for the first time, in order, and runs nothing.
type RecordingLauncher struct {
	mu       sync.Mutex
	launched []int
}

// Launch implements Launcher.
func (r *RecordingLauncher) Launch(t *tcb.TCB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launched = append(r.launched, t.Priority)
}

// Launched returns the priorities dispatched so far, in order.
func (r *RecordingLauncher) Launched() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.launched))
	copy(out, r.launched)
	return out
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(t *tcb.TCB)

// Launch implements Launcher.
func (f LaunchFunc) Launch(t *tcb.TCB) { f(t) }

// Scheduler owns one core's ready/blocked bitmaps, its task table, and
// its half of the cross-core migration protocol. Callers reach it only
// through its exported methods; there is no way to obtain the raw
// bitmaps or task table from outside the package, so no caller can
// alias the mutable scheduler state.
type Scheduler struct {
	id  CoreID
	cpu *arch.CPU

	mu              sync.Mutex // guards tcbs through runningMigrated, and ceiling
	tcbs            [kconfig.MaxTasks]*tcb.TCB
	currTID         int
	nativeTID       int // currTID to restore when a migrated guest leaves
	started         bool
	isRunning       bool
	isPreemptive    bool
	migratedTID     int
	runningMigrated bool

	atv atomicbitops.Uint32
	btv atomicbitops.Uint32

	tracer   *trace.Buffer
	spin     *spinlock.SpinLock
	launcher Launcher
	logger   *slog.Logger
	peer     *Scheduler    // the other core, for migration; nil on single-core
	ceiling  CeilingSource // nil until a resource manager attaches itself
}

// CeilingSource reports the current system ceiling as seen from a given
// core. A Scheduler consults it on every election so that "the priority
// of the running task is >= system_ceiling" holds on the core that
// actually hosts the ceiling's holder, without the resource manager
// ever touching BTV: a ready task at or below the ceiling simply isn't
// a candidate there until the ceiling drops, except for the task
// already running. Implementations return pistack.NoCeiling for any
// core that is not currently hosting the top ceiling's holder, so
// contention from a different core is discovered reactively when that
// core's task calls Lock, which is what triggers migration instead of
// a cross-core freeze.
type CeilingSource interface {
	SystemCeiling(core CoreID) int32
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLauncher overrides the default RecordingLauncher.
func WithLauncher(l Launcher) Option {
	return func(s *Scheduler) { s.launcher = l }
}

// New returns a Scheduler for core id, booted with the idle task
// installed and ready. preemptive controls whether Release/Unblock
// immediately reschedule or defer until the running task yields.
// tracer and spin are shared across every core in the configuration;
// cfg constructs them once and passes the same instances to each New.
func New(id CoreID, preemptive bool, tracer *trace.Buffer, spin *spinlock.SpinLock, opts ...Option) *Scheduler {
	s := &Scheduler{
		id:           id,
		cpu:          arch.NewCPU(),
		isPreemptive: preemptive,
		tracer:       tracer,
		spin:         spin,
		launcher:     &RecordingLauncher{},
		logger:       slog.Default(),
		migratedTID:  -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cpu.SetHandlers(s.svcEntry, s.pendsvEntry)
	// init(): the idle task always exists and is always ready.
	if err := s.createTaskLocked(IdlePriority, idleEntry); err != nil {
		panic("sched: failed to install idle task: " + err.Error())
	}
	s.atv.Store(1 << IdlePriority)
	return s
}

func idleEntry() {}

// SetLogger replaces the diagnostic logger, which defaults to
// slog.Default(). The logger never runs inside the trace hot path.
func (s *Scheduler) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetCeilingSource attaches the shared resource manager's ceiling stack
// to this core's election. Both cores in a configuration attach the
// same source.
func (s *Scheduler) SetCeilingSource(c CeilingSource) {
	s.mu.Lock()
	s.ceiling = c
	s.mu.Unlock()
}

// eligibleLocked applies the priority-ceiling mask to candidates: any ready,
// unblocked task at or below the current system ceiling is excluded
// unless it is already the running task. Caller holds s.mu.
func (s *Scheduler) eligibleLocked(candidates uint32) uint32 {
	if s.ceiling == nil {
		return candidates
	}
	ceiling := s.ceiling.SystemCeiling(s.id)
	if ceiling < 0 {
		return candidates
	}
	keep := ^uint32(0) << uint(ceiling+1)
	keep |= 1 << uint(s.currTID)
	return candidates & keep
}

// SetPeer links two cores for cross-core migration. Single-core
// configurations never call this; Scheduler.peer stays nil and
// migration is simply unreachable.
func (s *Scheduler) SetPeer(other *Scheduler) {
	s.peer = other
}

// ID returns the core this Scheduler owns.
func (s *Scheduler) ID() CoreID { return s.id }

// CPU exposes the core's arch shim, for the resource manager and
// migration coordinator to check privilege and drive critical sections.
func (s *Scheduler) CPU() *arch.CPU { return s.cpu }

// CreateTask installs a task at priority, backed by a freshly allocated
// private stack of kconfig.MaxStackSize words. It is privileged-only
// and must be called before StartKernel: after the first dispatch the
// core runs unprivileged thread mode and creation fails with
// ErrAccessDenied. Creation-time errors are fatal to the application,
// so callers typically call this from a boot sequence that panics on
// error rather than threading the error through runtime control flow.
func (s *Scheduler) CreateTask(priority int, entry func()) error {
	return s.cpu.RequirePrivileged(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.createTaskLocked(priority, entry)
	})
}

// Spawn installs a task at priority whose entry runs fn and then exits
// the task, so fn does not have to end every return path with TaskExit.
// The exit runs even if fn panics, keeping the ready set consistent
// while the panic propagates.
func (s *Scheduler) Spawn(priority int, fn func()) error {
	return s.CreateTask(priority, func() {
		defer s.TaskExit()
		fn()
	})
}

func (s *Scheduler) createTaskLocked(priority int, entry func()) error {
	if priority < 0 || priority >= kconfig.MaxTasks {
		return kerr.ErrDoesNotExist
	}
	if s.tcbs[priority] != nil {
		return kerr.ErrPriorityOccupied
	}
	stack := make([]uint32, kconfig.MaxStackSize)
	t, err := tcb.New(priority, stack, entry)
	if err != nil {
		return err
	}
	s.tcbs[priority] = t
	return nil
}

// StartKernel marks the core running and dispatches the highest-priority
// ready task (idle, at minimum). It is privileged-only; the first
// dispatch it triggers drops the core to unprivileged thread mode.
func (s *Scheduler) StartKernel() error {
	return s.cpu.RequirePrivileged(func() error {
		s.mu.Lock()
		s.isRunning = true
		s.mu.Unlock()
		s.logger.Debug("kernel started", "core", int(s.id), "preemptive", s.Preemptive())
		s.Schedule()
		return nil
	})
}

// Current returns the id of the task currently executing on this core.
func (s *Scheduler) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currTID
}

// Preemptive reports whether the core reschedules immediately on
// Release/Unblock.
func (s *Scheduler) Preemptive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPreemptive
}

// EnablePreemption turns on immediate rescheduling.
func (s *Scheduler) EnablePreemption() {
	s.mu.Lock()
	s.isPreemptive = true
	s.mu.Unlock()
}

// DisablePreemption turns off immediate rescheduling; Release/Unblock
// still mutate the bitmaps but defer the switch.
func (s *Scheduler) DisablePreemption() {
	s.mu.Lock()
	s.isPreemptive = false
	s.mu.Unlock()
}

// Release adds mask to ATV and, if preemptive, reschedules.
func (s *Scheduler) Release(mask uint32) {
	s.cpu.CriticalSection(func() {
		s.atv.Store(s.atv.Load() | mask)
		s.reportPerTask(mask, trace.Release)
	})
	if s.Preemptive() {
		s.Schedule()
	}
}

// Block sets mask in BTV. If the running task is among the blocked
// tasks, it immediately reschedules.
func (s *Scheduler) Block(mask uint32) {
	s.cpu.CriticalSection(func() {
		s.btv.Store(s.btv.Load() | mask)
		s.reportPerTask(mask, trace.Block)
	})
	if mask&(1<<uint(s.Current())) != 0 {
		s.Schedule()
	}
}

// Unblock clears mask in BTV and reschedules, allowing a newly ready,
// higher-priority task to preempt the running one.
func (s *Scheduler) Unblock(mask uint32) {
	s.cpu.CriticalSection(func() {
		s.btv.Store(s.btv.Load() &^ mask)
		s.reportPerTask(mask, trace.Unblock)
	})
	s.Schedule()
}

// TaskExit clears the running task's ATV bit and reschedules. The task
// never resumes unless a later Release sets its bit again.
func (s *Scheduler) TaskExit() {
	s.cpu.CriticalSection(func() {
		rt := s.Current()
		s.atv.Store(s.atv.Load() &^ (1 << uint(rt)))
		if s.tracer.Enabled(trace.TaskExit) {
			s.tracer.Report(trace.TaskExit)
		}
	})
	s.Schedule()
}

func (s *Scheduler) reportPerTask(mask uint32, kind trace.Kind) {
	if !s.tracer.Enabled(kind) {
		return
	}
	for i := 0; i < kconfig.MaxTasks; i++ {
		if mask&(1<<uint(i)) != 0 {
			s.tracer.Report(kind)
		}
	}
}

// Schedule triggers an election and, if the elected task differs from
// the running one, a context switch. Called from an unprivileged
// context it raises SVC to re-enter privileged; called from a
// privileged context (or an ISR) it runs the election directly.
func (s *Scheduler) Schedule() {
	if !s.cpu.IsPrivileged() {
		s.cpu.RaiseSVC()
		return
	}
	s.scheduleLocked()
}

// svcEntry is the SVC handler installed on this core's CPU: it promotes
// to privileged, re-enters the scheduler, and restores the caller's
// mode on exception return.
func (s *Scheduler) svcEntry() {
	prev := s.cpu.Mode()
	s.cpu.SetMode(arch.Privileged)
	s.scheduleLocked()
	s.cpu.SetMode(prev)
}

// scheduleLocked computes the election and, if it changed anything,
// stages the outgoing/incoming task ids and raises PendSV to perform the
// actual switch at the lowest interrupt priority.
func (s *Scheduler) scheduleLocked() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	next, _ := arch.Msb(s.eligibleLocked(s.atv.Load() &^ s.btv.Load()))
	noop := next == s.currTID && s.started
	s.mu.Unlock()
	if noop {
		return
	}
	s.cpu.RaisePendSV()
}

// pendsvEntry performs the actual context switch. It is the installed
// PendSV handler for this core and implements both the plain election
// switch and the cross-core migration override.
func (s *Scheduler) pendsvEntry() {
	s.spin.Lock()
	defer s.spin.Unlock()

	s.cpu.CriticalSection(func() {
		dispatched := s.resolveNextLocked()
		if dispatched == nil {
			return
		}
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		// Exception return to thread mode: the dispatched task runs
		// unprivileged until the next SVC.
		s.cpu.SetMode(arch.Unprivileged)
		s.launcher.Launch(dispatched)
	})
}

// resolveNextLocked decides which TCB to dispatch next, handling the
// migration override, and performs the save/load handoff. It returns
// nil if no switch is needed. Caller must hold the spinlock and arch
// critical section.
func (s *Scheduler) resolveNextLocked() *tcb.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.migratedTID >= 0 {
		return s.resolveMigrationLocked()
	}

	next, _ := arch.Msb(s.eligibleLocked(s.atv.Load() &^ s.btv.Load()))
	if next == s.currTID && s.started {
		return nil
	}
	if s.started {
		s.cpu.SaveContext(s.tcbs[s.currTID])
	}
	s.currTID = next
	incoming := s.tcbs[next]
	s.cpu.LoadContext(incoming)
	return incoming
}

// resolveMigrationLocked implements the two-sided migration protocol.
// Caller holds s.mu.
func (s *Scheduler) resolveMigrationLocked() *tcb.TCB {
	foreign := s.peer.taskLocked(s.migratedTID)
	if !s.runningMigrated {
		// Migrating in: park our own current task locally, load the
		// foreign TCB (which lives in the peer's table) here. The guest
		// is now the task executing on this core, so currTID follows
		// it; the displaced native id is kept for the return trip.
		if s.started {
			s.cpu.SaveContext(s.tcbs[s.currTID])
		}
		s.nativeTID = s.currTID
		s.currTID = s.migratedTID
		s.cpu.LoadContext(foreign)
		s.runningMigrated = true
		return foreign
	}
	// Un-migrating: the borrowed task is finishing its section here;
	// save it back into its home TCB on the peer, then resume the
	// native task it displaced.
	s.cpu.SaveContext(foreign)
	s.migratedTID = -1
	s.runningMigrated = false
	s.currTID = s.nativeTID
	native := s.tcbs[s.currTID]
	s.cpu.LoadContext(native)
	return native
}

// taskLocked returns the TCB for id without taking s.mu; it is used by
// the peer core during migration, which already holds the inter-core
// spinlock serializing access.
func (s *Scheduler) taskLocked(id int) *tcb.TCB {
	return s.tcbs[id]
}

// BeginMigration marks a task as borrowed from the peer core and raises
// PendSV here to take it over. Called by the resource manager / migrate
// coordinator, never directly by application code.
func (s *Scheduler) BeginMigration(taskID int) {
	s.mu.Lock()
	s.migratedTID = taskID
	s.mu.Unlock()
	s.logger.Debug("migrating task in", "core", int(s.id), "task", taskID)
	s.cpu.RaisePendSV()
}

// EndMigration triggers the reverse handoff: the migrated task, still
// executing here, has finished its section and must be returned home.
// It reschedules exactly like Schedule would, but resolveNextLocked
// detects migratedTID is still set and runs the un-migrate path instead
// of a plain election.
func (s *Scheduler) EndMigration() {
	if tid, ok := s.Migrated(); ok {
		s.logger.Debug("repatriating task", "core", int(s.id), "task", tid)
	}
	s.cpu.RaisePendSV()
}

// Migrated reports the id of the task currently borrowed from the peer
// core, or false if none.
func (s *Scheduler) Migrated() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migratedTID < 0 {
		return 0, false
	}
	return s.migratedTID, true
}

// RunningMigrated reports whether the borrowed task's context has
// already been loaded onto this core.
func (s *Scheduler) RunningMigrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningMigrated
}

// ATV returns a snapshot of the Active Task Vector, for tests and
// tracing.
func (s *Scheduler) ATV() uint32 { return s.atv.Load() }

// BTV returns a snapshot of the Blocked Task Vector, for tests and
// tracing.
func (s *Scheduler) BTV() uint32 { return s.btv.Load() }

// Started reports whether the first dispatch on this core has
// completed.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
