package tcb

import (
	"testing"

	"github.com/rtkernel/rtkernel/internal/kernel/arch"
	"github.com/rtkernel/rtkernel/internal/kernel/kconfig"
)

func TestInitStackTooSmall(t *testing.T) {
	stack := make([]uint32, kconfig.MinFrameWords-1)
	if _, err := InitStack(stack, func() {}); err != ErrStackTooSmall {
		t.Fatalf("InitStack() = %v, want ErrStackTooSmall", err)
	}
}

func TestInitStackFrameContract(t *testing.T) {
	stack := make([]uint32, kconfig.MinFrameWords)
	sp, err := InitStack(stack, func() {})
	if err != nil {
		t.Fatalf("InitStack: %v", err)
	}
	if got, want := stack[len(stack)-1], xpsrThreadMode; got != want {
		t.Errorf("xPSR slot = %#x, want %#x", got, want)
	}
	if sp < 0 || sp >= len(stack) {
		t.Fatalf("stack pointer %d out of bounds for stack of len %d", sp, len(stack))
	}
}

func TestSaveLoadContextRoundTrip(t *testing.T) {
	stack := make([]uint32, kconfig.MinFrameWords)
	task, err := New(3, stack, func() {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := task.GetRegisters(); got != (arch.Registers{}) {
		t.Fatalf("fresh TCB registers = %+v, want zero value", got)
	}

	cpu := arch.NewCPU()
	want := arch.Registers{R4: 10, R5: 20, R6: 30, R7: 40, R8: 50, R9: 60, R10: 70, R11: 80}
	task.SetRegisters(want)
	cpu.LoadContext(task)
	if got := cpu.Live(); got != want {
		t.Fatalf("LoadContext restored %+v, want %+v", got, want)
	}

	task.SetRegisters(arch.Registers{})
	cpu.SaveContext(task)
	if got := task.GetRegisters(); got != want {
		t.Fatalf("SaveContext stored %+v, want %+v", got, want)
	}
}
