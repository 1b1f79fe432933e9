package sched

import (
	"testing"

	"github.com/rtkernel/rtkernel/internal/kernel/spinlock"
	"github.com/rtkernel/rtkernel/internal/kernel/trace"
)

type fakeClock struct{ t trace.Timestamp }

func (c *fakeClock) Now() trace.Timestamp {
	c.t++
	return c.t
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	tr := trace.New(16, &fakeClock{})
	tr.SetAllEnabled(true)
	return New(Core0, true, tr, spinlock.New())
}

func TestElectionPicksHighestPriorityReady(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.CreateTask(5, func() {}); err != nil {
		t.Fatalf("CreateTask(5): %v", err)
	}
	if err := s.CreateTask(10, func() {}); err != nil {
		t.Fatalf("CreateTask(10): %v", err)
	}
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}

	// Only idle (priority 0) is ready so far.
	if got := s.Current(); got != IdlePriority {
		t.Fatalf("Current() = %d, want idle (%d)", got, IdlePriority)
	}

	s.Release(1 << 5)
	if got := s.Current(); got != 5 {
		t.Fatalf("Current() after releasing 5 = %d, want 5", got)
	}

	s.Release(1 << 10)
	if got := s.Current(); got != 10 {
		t.Fatalf("Current() after releasing 10 = %d, want 10", got)
	}
}

func TestPreemptionOnUnblock(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.CreateTask(7, func() {}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	s.Block(1 << 7)
	s.Release(1 << 7)
	if got := s.Current(); got != IdlePriority {
		t.Fatalf("Current() = %d, want idle while 7 is blocked", got)
	}

	s.Unblock(1 << 7)
	if got := s.Current(); got != 7 {
		t.Fatalf("Current() after unblock = %d, want 7", got)
	}
}

func TestNonPreemptiveDefersSwitch(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.CreateTask(3, func() {}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	s.DisablePreemption()
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	s.Release(1 << 3)
	if got := s.Current(); got != IdlePriority {
		t.Fatalf("Current() = %d, want idle while preemption disabled", got)
	}

	s.EnablePreemption()
	s.Schedule()
	if got := s.Current(); got != 3 {
		t.Fatalf("Current() after manual Schedule = %d, want 3", got)
	}
}

func TestTaskExitDropsFromReadySet(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.CreateTask(4, func() {}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	s.Release(1 << 4)
	if got := s.Current(); got != 4 {
		t.Fatalf("Current() = %d, want 4", got)
	}

	s.TaskExit()
	if got := s.Current(); got != IdlePriority {
		t.Fatalf("Current() after exit = %d, want idle", got)
	}
	if s.ATV()&(1<<4) != 0 {
		t.Fatalf("ATV still has bit 4 set after TaskExit")
	}
}

func TestSpawnExitsOnReturn(t *testing.T) {
	s := newTestScheduler(t)
	ran := false
	if err := s.Spawn(6, func() { ran = true }); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	s.Release(1 << 6)
	if got := s.Current(); got != 6 {
		t.Fatalf("Current() = %d, want 6", got)
	}

	// The RecordingLauncher never runs entries, so drive the spawned
	// body the way a dispatched task would run it.
	s.tcbs[6].Entry()()
	if !ran {
		t.Fatal("expected spawned body to run")
	}
	if s.ATV()&(1<<6) != 0 {
		t.Fatal("expected ATV bit cleared after spawned body returned")
	}
	if got := s.Current(); got != IdlePriority {
		t.Fatalf("Current() after spawned exit = %d, want idle", got)
	}
}

func TestCreateTaskDeniedAfterFirstDispatch(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	// The first dispatch dropped the core to unprivileged thread mode;
	// task creation is a boot-time, privileged-only operation.
	if err := s.CreateTask(8, func() {}); err == nil {
		t.Fatal("expected CreateTask to fail after the kernel started")
	}
}

func TestCreateTaskRejectsDuplicatePriority(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.CreateTask(6, func() {}); err != nil {
		t.Fatalf("first CreateTask(6): %v", err)
	}
	if err := s.CreateTask(6, func() {}); err == nil {
		t.Fatal("expected error creating a second task at priority 6")
	}
}

func TestCrossCoreMigrationRoundTrip(t *testing.T) {
	tr := trace.New(16, &fakeClock{})
	sp := spinlock.New()
	a := New(Core0, true, tr, sp)
	b := New(Core1, true, tr, sp)
	a.SetPeer(b)
	b.SetPeer(a)

	if err := b.CreateTask(9, func() {}); err != nil {
		t.Fatalf("CreateTask on peer: %v", err)
	}
	if err := b.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	b.Release(1 << 9)
	if got := b.Current(); got != 9 {
		t.Fatalf("peer Current() = %d, want 9", got)
	}

	if err := a.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	a.BeginMigration(9)
	if got, ok := a.Migrated(); !ok || got != 9 {
		t.Fatalf("Migrated() = (%d, %v), want (9, true)", got, ok)
	}
	if !a.RunningMigrated() {
		t.Fatal("expected RunningMigrated() true after BeginMigration")
	}
	if got := a.Current(); got != 9 {
		t.Fatalf("Current() during migration = %d, want 9 (the guest executes here)", got)
	}

	a.EndMigration()
	if _, ok := a.Migrated(); ok {
		t.Fatal("expected Migrated() to clear after EndMigration")
	}
	if got := a.Current(); got != IdlePriority {
		t.Fatalf("Current() after un-migrate = %d, want idle", got)
	}
}

func TestTraceRecordsReleaseAndBlock(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.CreateTask(2, func() {}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	before := s.tracer.Len()
	s.Release(1 << 2)
	if s.tracer.Len() <= before {
		t.Fatal("expected Release to append a trace record")
	}
	s.Block(1 << 2)
	if s.tracer.Len() <= before+1 {
		t.Fatal("expected Block to append a trace record")
	}
}

func TestRecordingLauncherTracksDispatchOrder(t *testing.T) {
	tr := trace.New(16, &fakeClock{})
	rl := &RecordingLauncher{}
	s := New(Core0, true, tr, spinlock.New(), WithLauncher(rl))
	if err := s.CreateTask(1, func() {}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.StartKernel(); err != nil {
		t.Fatalf("StartKernel: %v", err)
	}
	s.Release(1 << 1)

	got := rl.Launched()
	want := []int{IdlePriority, 1}
	if len(got) != len(want) {
		t.Fatalf("Launched() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Launched()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
