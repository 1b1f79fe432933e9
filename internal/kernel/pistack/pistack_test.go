package pistack

import "testing"

func TestEmptyStackReportsSentinel(t *testing.T) {
	s := New(4)
	if got := s.SystemCeiling(); got != NoCeiling {
		t.Fatalf("SystemCeiling() on empty stack = %d, want %d", got, NoCeiling)
	}
	if err := s.Pop(); err != ErrEmpty {
		t.Fatalf("Pop() on empty stack = %v, want ErrEmpty", err)
	}
}

func TestPushPopOrdering(t *testing.T) {
	s := New(4)
	for _, c := range []int32{2, 5, 3} {
		if err := s.Push(c); err != nil {
			t.Fatalf("Push(%d): %v", c, err)
		}
	}
	if got := s.SystemCeiling(); got != 3 {
		t.Fatalf("SystemCeiling() = %d, want 3", got)
	}
	if err := s.Pop(); err != nil {
		t.Fatalf("Pop(): %v", err)
	}
	if got := s.SystemCeiling(); got != 5 {
		t.Fatalf("SystemCeiling() after pop = %d, want 5", got)
	}
	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestPushBeyondCapacity(t *testing.T) {
	s := New(2)
	if err := s.Push(1); err != nil {
		t.Fatalf("Push(1): %v", err)
	}
	if err := s.Push(2); err != nil {
		t.Fatalf("Push(2): %v", err)
	}
	if err := s.Push(3); err != ErrLimitExceeded {
		t.Fatalf("Push(3) = %v, want ErrLimitExceeded", err)
	}
}
