package arch

import "testing"

func TestMsb(t *testing.T) {
	cases := []struct {
		in   uint32
		idx  int
		ok   bool
	}{
		{0, 0, false},
		{1, 0, true},
		{0b100100, 5, true},
		{0xFFFFFFFF, 31, true},
		{0b10, 1, true},
	}
	for _, c := range cases {
		idx, ok := Msb(c.in)
		if idx != c.idx || ok != c.ok {
			t.Errorf("Msb(%b) = (%d, %v), want (%d, %v)", c.in, idx, ok, c.idx, c.ok)
		}
	}
}

func TestCriticalSectionNests(t *testing.T) {
	c := NewCPU()
	if c.InterruptsDisabled() {
		t.Fatal("expected interrupts enabled initially")
	}
	c.CriticalSection(func() {
		if !c.InterruptsDisabled() {
			t.Fatal("expected interrupts disabled inside critical section")
		}
		c.CriticalSection(func() {
			if !c.InterruptsDisabled() {
				t.Fatal("expected interrupts disabled inside nested critical section")
			}
		})
		if !c.InterruptsDisabled() {
			t.Fatal("expected interrupts still disabled after inner section returns")
		}
	})
	if c.InterruptsDisabled() {
		t.Fatal("expected interrupts enabled after outermost section returns")
	}
}

func TestPrivilegeGate(t *testing.T) {
	c := NewCPU()
	if !c.IsPrivileged() {
		t.Fatal("expected privileged at reset")
	}
	c.SetMode(Unprivileged)
	if c.IsPrivileged() {
		t.Fatal("expected unprivileged after SetMode")
	}
}

func TestRequirePrivileged(t *testing.T) {
	c := NewCPU()
	ran := false
	if err := c.RequirePrivileged(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("RequirePrivileged while privileged: %v", err)
	}
	if !ran {
		t.Fatal("expected body to run while privileged")
	}

	c.SetMode(Unprivileged)
	ran = false
	if err := c.RequirePrivileged(func() error { ran = true; return nil }); err == nil {
		t.Fatal("expected error while unprivileged")
	}
	if ran {
		t.Fatal("body must not run while unprivileged")
	}
}

func TestSysTickFiresEveryReload(t *testing.T) {
	fired := 0
	st := NewSysTick(3, func() { fired++ })
	for i := 0; i < 9; i++ {
		st.Tick()
	}
	if fired != 3 {
		t.Fatalf("handler fired %d times over 9 ticks with reload 3, want 3", fired)
	}
}

type fakeSlot struct{ r Registers }

func (f *fakeSlot) GetRegisters() Registers  { return f.r }
func (f *fakeSlot) SetRegisters(r Registers) { f.r = r }

func TestSaveLoadContextIsInverse(t *testing.T) {
	c := NewCPU()
	c.live = Registers{R4: 1, R5: 2, R6: 3, R7: 4, R8: 5, R9: 6, R10: 7, R11: 8}
	slot := &fakeSlot{}

	c.SaveContext(slot)
	if slot.r != c.live {
		t.Fatalf("SaveContext did not copy live registers: got %+v, want %+v", slot.r, c.live)
	}

	c.live = Registers{} // simulate another task clobbering the live file
	c.LoadContext(slot)
	want := Registers{R4: 1, R5: 2, R6: 3, R7: 4, R8: 5, R9: 6, R10: 7, R11: 8}
	if c.live != want {
		t.Fatalf("LoadContext did not restore registers: got %+v, want %+v", c.live, want)
	}
}

func TestSVCPromotesToPrivileged(t *testing.T) {
	c := NewCPU()
	var sawPrivileged bool
	c.SetHandlers(func() {
		c.SetMode(Privileged)
		sawPrivileged = c.IsPrivileged()
		c.SetMode(Unprivileged)
	}, nil)

	c.RaiseSVC()
	if !sawPrivileged {
		t.Fatal("expected SVC handler to observe privileged mode")
	}
	if c.IsPrivileged() {
		t.Fatal("expected mode restored to unprivileged after SVC handler returns")
	}
}
