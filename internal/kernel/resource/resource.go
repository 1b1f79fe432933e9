// Package resource implements the priority-ceiling resource manager:
// declaration, lock, and unlock against the shared ceiling stack, and
// the decision between local blocking and cross-core migration.
//
// Unlike the scheduler's per-core state, a Manager is shared by every
// core in a configuration: the ceiling stack is protected like shared
// scheduler state rather than owned by one core.
package resource

import (
	"log/slog"

	"github.com/rtkernel/rtkernel/internal/kernel/kconfig"
	"github.com/rtkernel/rtkernel/internal/kernel/kerr"
	"github.com/rtkernel/rtkernel/internal/kernel/pistack"
	"github.com/rtkernel/rtkernel/internal/kernel/sched"
	"github.com/rtkernel/rtkernel/internal/kernel/trace"

	"gvisor.dev/gvisor/pkg/sync"
)

// ID names a declared resource.
type ID int

type declaration struct {
	ceiling int32
	access  map[int]bool
}

// heldLock records who owns each entry on the ceiling stack, in the
// same order as the stack itself, so Lock can tell whether the current
// top ceiling belongs to a task on this core or the peer core.
type heldLock struct {
	resource ID
	holder   int
	core     sched.CoreID
}

// Manager is the shared resource table and ceiling stack.
type Manager struct {
	mu     sync.Mutex
	decls  map[ID]*declaration
	stack  *pistack.Stack
	held   []heldLock
	tracer *trace.Buffer
	logger *slog.Logger
}

// NewManager returns an empty Manager backed by a ceiling stack sized
// for kconfig.MaxResources simultaneously locked resources. tracer is
// the same Buffer instance the cores' schedulers report into.
func NewManager(tracer *trace.Buffer) *Manager {
	return &Manager{
		decls:  make(map[ID]*declaration),
		stack:  pistack.New(kconfig.MaxResources),
		tracer: tracer,
		logger: slog.Default(),
	}
}

// SetLogger replaces the diagnostic logger, which defaults to
// slog.Default().
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// SystemCeiling implements sched.CeilingSource. It only reports a real
// ceiling to the core currently hosting the top ceiling's holder; any
// other core sees pistack.NoCeiling and keeps scheduling its own tasks
// normally, discovering contention only when one of them calls Lock.
func (m *Manager) SystemCeiling(core sched.CoreID) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.held) == 0 {
		return pistack.NoCeiling
	}
	if m.held[len(m.held)-1].core != core {
		return pistack.NoCeiling
	}
	return m.stack.SystemCeiling()
}

// Declare registers a resource with the given priority ceiling and the
// task priorities listed in access as the tasks allowed to lock it. The
// ceiling is stored as passed; Declare does not compare it with the
// priorities in access. Resources are declared at boot, before any
// core's StartKernel.
func (m *Manager) Declare(id ID, ceiling int32, access []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.decls) >= kconfig.MaxResources {
		return kerr.ErrLimitExceeded
	}
	allowed := make(map[int]bool, len(access))
	for _, p := range access {
		allowed[p] = true
	}
	m.decls[id] = &declaration{ceiling: ceiling, access: allowed}
	return nil
}

// Lock attempts to lock resource id on behalf of the task currently
// running on core. It returns nil only when the ceiling was actually
// pushed and the caller holds the resource.
//
// If the requesting task's priority exceeds the current system ceiling
// (or the requester already holds the top ceiling), it proceeds
// immediately: the ceiling is pushed and the task keeps running.
// Otherwise the lock is not granted and Lock returns
// kerr.ErrLockPending; rather than setting a BTV bit, the requester is
// kept off the CPU by sched.Scheduler's election mask (see
// Scheduler.SetCeilingSource) until the ceiling drops. If the current
// holder runs on the other core, Lock additionally migrates the
// requester there for the duration of the contention; the holder's
// Unlock repatriates it, and the follow-up Lock on the home core then
// completes the acquisition.
func (m *Manager) Lock(core *sched.Scheduler, id ID) error {
	// Read tid before taking m.mu: Scheduler's election calls back into
	// m.mu (via SystemCeiling), so m.mu must never be held while calling
	// into core, or the two locks could order against each other.
	tid := core.Current()

	m.mu.Lock()
	d, ok := m.decls[id]
	if !ok {
		m.mu.Unlock()
		return kerr.ErrNotFound
	}
	if !d.access[tid] {
		m.mu.Unlock()
		m.logger.Warn("resource access denied", "resource", int(id), "task", tid)
		return kerr.ErrAccessDenied
	}

	sc := m.stack.SystemCeiling()
	canLock := int32(tid) > sc
	if !canLock {
		// A task that already holds the top ceiling takes nested locks
		// freely; only a different task is fenced by the ceiling.
		top := m.held[len(m.held)-1]
		canLock = top.holder == tid && top.core == core.ID()
	}
	if canLock {
		if err := m.stack.Push(d.ceiling); err != nil {
			m.mu.Unlock()
			return err
		}
		m.held = append(m.held, heldLock{resource: id, holder: tid, core: core.ID()})
		m.mu.Unlock()
		if m.tracer.Enabled(trace.ResourceLock) {
			m.tracer.Report(trace.ResourceLock)
		}
		return nil
	}

	top := m.held[len(m.held)-1]
	m.mu.Unlock()
	if top.core != core.ID() {
		if foreign := sched.CoreByID(top.core); foreign != nil {
			m.logger.Debug("ceiling held on peer core, migrating",
				"resource", int(id), "task", tid, "to_core", int(top.core))
			foreign.BeginMigration(tid)
		}
	}
	return kerr.ErrLockPending
}

// Unlock releases the most recently acquired ceiling and reschedules.
// Because ceiling exclusion lives in the election mask rather than BTV,
// a single Schedule call after the pop is enough to let any task the
// dropped ceiling was holding back run.
//
// If a migrated guest is executing on core (it was moved here while
// contending for the holder's ceiling), the release also ends its
// migrated section: the guest is repatriated to its home core before
// core reschedules, and its retried Lock there can now succeed.
func (m *Manager) Unlock(core *sched.Scheduler) error {
	m.mu.Lock()
	if len(m.held) == 0 {
		m.mu.Unlock()
		return kerr.ErrEmpty
	}
	if err := m.stack.Pop(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.held = m.held[:len(m.held)-1]
	m.mu.Unlock()

	if m.tracer.Enabled(trace.ResourceUnlock) {
		m.tracer.Report(trace.ResourceUnlock)
	}
	if tid, migrated := core.Migrated(); migrated && tid == core.Current() {
		core.EndMigration()
	}
	core.Schedule()
	return nil
}
