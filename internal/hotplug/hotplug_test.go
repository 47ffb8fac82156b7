package hotplug

import (
	"errors"
	"testing"
)

func TestNotifierOrdering(t *testing.T) {
	n := NewNotifier()

	var trace []string
	record := func(ev string) func(int) error {
		return func(cpu int) error {
			trace = append(trace, ev)
			return nil
		}
	}

	if _, err := n.Register(State{Name: "a", Starting: record("a+"), Dying: record("a-")}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := n.Register(State{Name: "b", Starting: record("b+"), Dying: record("b-")}); err != nil {
		t.Fatalf("register b: %v", err)
	}

	if err := n.CPUStarting(0); err != nil {
		t.Fatalf("starting: %v", err)
	}
	if err := n.CPUDying(0); err != nil {
		t.Fatalf("dying: %v", err)
	}

	want := []string{"a+", "b+", "b-", "a-"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestNotifierIdempotentTransitions(t *testing.T) {
	n := NewNotifier()
	calls := 0
	if _, err := n.Register(State{Starting: func(int) error { calls++; return nil }}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := n.CPUStarting(1); err != nil {
		t.Fatalf("starting: %v", err)
	}
	if err := n.CPUStarting(1); err != nil {
		t.Fatalf("second starting: %v", err)
	}
	if calls != 1 {
		t.Fatalf("starting callbacks = %d, want 1", calls)
	}
	if err := n.CPUDying(2); err != nil {
		t.Fatalf("dying offline cpu: %v", err)
	}
}

func TestNotifierStartingFailureRollsBack(t *testing.T) {
	n := NewNotifier()
	boom := errors.New("boom")

	var dyingRan bool
	if _, err := n.Register(State{
		Name:     "first",
		Starting: func(int) error { return nil },
		Dying:    func(int) error { dyingRan = true; return nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := n.Register(State{Name: "second", Starting: func(int) error { return boom }}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := n.CPUStarting(0)
	if !errors.Is(err, boom) {
		t.Fatalf("starting error = %v, want %v", err, boom)
	}
	if !dyingRan {
		t.Fatalf("earlier state not rolled back after failure")
	}
	if n.Online().Has(0) {
		t.Fatalf("cpu 0 marked online after failed bringup")
	}
}

func TestRegisterRunsForOnlineCPUs(t *testing.T) {
	n := NewNotifier()
	if err := n.CPUStarting(0); err != nil {
		t.Fatalf("starting: %v", err)
	}
	if err := n.CPUStarting(2); err != nil {
		t.Fatalf("starting: %v", err)
	}

	var seen []int
	if _, err := n.Register(State{Starting: func(cpu int) error {
		seen = append(seen, cpu)
		return nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(seen) != 2 || seen[0] != 0 || seen[1] != 2 {
		t.Fatalf("starting ran for %v, want [0 2]", seen)
	}
}

func TestUnregister(t *testing.T) {
	n := NewNotifier()
	calls := 0
	id, err := n.Register(State{Dying: func(int) error { calls++; return nil }})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := n.CPUStarting(0); err != nil {
		t.Fatalf("starting: %v", err)
	}
	n.Unregister(id)
	if err := n.CPUDying(0); err != nil {
		t.Fatalf("dying: %v", err)
	}
	if calls != 0 {
		t.Fatalf("dying ran %d times after unregister, want 0", calls)
	}
}
