// Package migrate orchestrates the two-sided cross-core migration
// protocol at the call-site level. It owns no scheduling state itself:
// migrated_tid and running_migrated live on sched.Scheduler, and
// resource.Manager already drives BeginMigration/EndMigration directly
// from Lock/Unlock. Coordinator exists for callers outside the resource
// path (the glossary's "message" and "semaphore" primitives a future
// module would add) that need to borrow a task across cores without
// going through a resource lock.
package migrate

import "github.com/rtkernel/rtkernel/internal/kernel/sched"

// Coordinator drives a migration between two specific cores.
type Coordinator struct {
	home    *sched.Scheduler
	foreign *sched.Scheduler
}

// New returns a Coordinator that migrates tasks native to home onto
// foreign and back. Both schedulers must already be linked with
// SetPeer.
func New(home, foreign *sched.Scheduler) *Coordinator {
	return &Coordinator{home: home, foreign: foreign}
}

// Begin borrows taskID (native to c.home) onto c.foreign for the
// duration of some foreign-side critical section.
func (c *Coordinator) Begin(taskID int) {
	c.foreign.BeginMigration(taskID)
}

// End returns the borrowed task to c.home once its foreign-side section
// is finished.
func (c *Coordinator) End() {
	c.foreign.EndMigration()
}

// InProgress reports the id of the task currently borrowed onto
// c.foreign, if any.
func (c *Coordinator) InProgress() (int, bool) {
	return c.foreign.Migrated()
}
