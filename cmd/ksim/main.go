// Command ksim boots one or two simulated cores from a declarative YAML
// task/resource table and drives a short scripted release sequence,
// logging which task runs after each release (and, with -v, each
// migration), then prints the event trace. It is a host-side
// stand-in for the board bring-up a real port would do over a debug
// probe: no hardware, no ISRs, just the same state machine the kernel
// packages implement.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rtkernel/rtkernel/internal/kernel/arch"
	"github.com/rtkernel/rtkernel/internal/kernel/resource"
	"github.com/rtkernel/rtkernel/internal/kernel/sched"
	"github.com/rtkernel/rtkernel/internal/kernel/spinlock"
	"github.com/rtkernel/rtkernel/internal/kernel/tcb"
	"github.com/rtkernel/rtkernel/internal/kernel/trace"
)

// goroutineLauncher runs each task's entry function in its own
// goroutine on first dispatch, gated so it only ever launches once per
// task; this is the only place in the module real task concurrency
// happens, kept out of the kernel-core packages so their tests stay
// deterministic without running the Go toolchain against a live
// scheduler loop.
type goroutineLauncher struct {
	launched map[int]bool
}

func newGoroutineLauncher() *goroutineLauncher {
	return &goroutineLauncher{launched: make(map[int]bool)}
}

func (g *goroutineLauncher) Launch(t *tcb.TCB) {
	if g.launched[t.Priority] {
		return
	}
	g.launched[t.Priority] = true
	entry := t.Entry()
	go entry()
}

// wallClock drives trace.Clock from an incrementing tick counter rather
// than wall time, keeping a captured trace reproducible across runs.
type wallClock struct{ tick uint64 }

func (c *wallClock) Now() trace.Timestamp {
	c.tick++
	return trace.Timestamp(c.tick)
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "path to a ksim task/resource table (YAML)")
	verbose := fs.Bool("v", false, "enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *configPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *simConfig) error {
	tracer := trace.New(256, &wallClock{})
	tracer.SetAllEnabled(true)
	spin := spinlock.New()

	cores := map[int]*sched.Scheduler{}
	for _, tc := range cfg.Tasks {
		if _, ok := cores[tc.Core]; ok {
			continue
		}
		id := sched.CoreID(tc.Core)
		s := sched.New(id, cfg.Preemptive, tracer, spin, sched.WithLauncher(newGoroutineLauncher()))
		sched.RegisterCore(s)
		cores[tc.Core] = s
		slog.Debug("core booted", "core", tc.Core, "preemptive", cfg.Preemptive)
	}
	if c0, ok := cores[int(sched.Core0)]; ok {
		if c1, ok := cores[int(sched.Core1)]; ok {
			c0.SetPeer(c1)
			c1.SetPeer(c0)
		}
	}

	for _, tc := range cfg.Tasks {
		name := tc.Name
		s := cores[tc.Core]
		if err := s.CreateTask(tc.Priority, func() {
			slog.Debug("task entry returned", "task", name)
		}); err != nil {
			return fmt.Errorf("create task %q: %w", tc.Name, err)
		}
		slog.Debug("task created", "task", tc.Name, "priority", tc.Priority, "core", tc.Core)
	}

	mgr := resource.NewManager(tracer)
	for _, rc := range cfg.Resources {
		if err := mgr.Declare(resource.ID(rc.ID), rc.Ceiling, rc.Access); err != nil {
			return fmt.Errorf("declare resource %q: %w", rc.Name, err)
		}
		slog.Debug("resource declared", "resource", rc.Name, "ceiling", rc.Ceiling, "access", rc.Access)
	}
	for _, s := range cores {
		s.SetCeilingSource(mgr)
	}

	for id, s := range cores {
		if err := s.StartKernel(); err != nil {
			return fmt.Errorf("start kernel on core %d: %w", id, err)
		}
	}

	for _, tc := range cfg.Tasks {
		s := cores[tc.Core]
		s.Release(1 << uint(tc.Priority))
		slog.Info("task released", "task", tc.Name, "core", tc.Core, "now_running", s.Current())
	}

	// Drive the currently running task on core 0 through each declared
	// resource, so a config exercises the ceiling protocol end to end.
	if c0, ok := cores[int(sched.Core0)]; ok {
		for _, rc := range cfg.Resources {
			if err := mgr.Lock(c0, resource.ID(rc.ID)); err != nil {
				slog.Warn("lock failed", "resource", rc.Name, "task", c0.Current(), "error", err)
				continue
			}
			slog.Info("resource locked", "resource", rc.Name, "task", c0.Current())
			if err := mgr.Unlock(c0); err != nil {
				return fmt.Errorf("unlock %q: %w", rc.Name, err)
			}
		}

		// A few SysTick periods: each one stamps a timer event and gives
		// the core a chance to reschedule, the way the periodic tick
		// interrupt would on hardware.
		systick := arch.NewSysTick(1, func() {
			tracer.Report(trace.TimerEvent)
			c0.Schedule()
		})
		for i := 0; i < cfg.Ticks; i++ {
			systick.Tick()
		}
	}

	tracer.Process(context.Background(), func(rec trace.Record) {
		fmt.Printf("%d %s\n", rec.Timestamp, rec.Kind)
	})
	return nil
}
