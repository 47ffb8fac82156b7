package cpuset

import (
	"slices"
	"testing"
)

func TestSetAddHas(t *testing.T) {
	var s Set
	s.Add(0)
	s.Add(3)
	s.Add(67)

	for _, cpu := range []int{0, 3, 67} {
		if !s.Has(cpu) {
			t.Fatalf("expected CPU %d in set %v", cpu, s)
		}
	}
	for _, cpu := range []int{1, 2, 64, 66, -1} {
		if s.Has(cpu) {
			t.Fatalf("unexpected CPU %d in set %v", cpu, s)
		}
	}
	if got := s.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if got := s.Max(); got != 67 {
		t.Fatalf("max = %d, want 67", got)
	}
}

func TestSetRemove(t *testing.T) {
	s := Of(1, 2, 3)
	s.Remove(2)
	s.Remove(99) // out of range, no-op

	if s.Has(2) {
		t.Fatalf("CPU 2 still present after remove")
	}
	if got := s.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestSetAll(t *testing.T) {
	s := Of(5, 1, 64, 0)

	var got []int
	for cpu := range s.All() {
		got = append(got, cpu)
	}
	want := []int{0, 1, 5, 64}
	if !slices.Equal(got, want) {
		t.Fatalf("iteration order = %v, want %v", got, want)
	}
}

func TestSetAllEarlyStop(t *testing.T) {
	s := UpTo(16)
	n := 0
	for range s.All() {
		n++
		if n == 4 {
			break
		}
	}
	if n != 4 {
		t.Fatalf("yielded %d CPUs after break, want 4", n)
	}
}

func TestSetUpTo(t *testing.T) {
	s := UpTo(65)
	if got := s.Count(); got != 65 {
		t.Fatalf("count = %d, want 65", got)
	}
	if !s.Has(64) {
		t.Fatalf("CPU 64 missing from UpTo(65)")
	}
	if UpTo(0) != nil {
		t.Fatalf("UpTo(0) should be empty")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Set
	}{
		{"", nil},
		{"0", Of(0)},
		{"0-3", Of(0, 1, 2, 3)},
		{"0-3,7", Of(0, 1, 2, 3, 7)},
		{" 1 , 5-6 ", Of(1, 5, 6)},
		{"62-65", Of(62, 63, 64, 65)},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if got.String() != tt.want.String() {
			t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"x", "3-1", "-2", "1-"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", bad)
		}
	}
}

func TestParseStringRoundTrip(t *testing.T) {
	s := Of(0, 1, 2, 3, 7, 63, 64)
	got, err := Parse(s.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.String() != s.String() {
		t.Fatalf("round trip = %v, want %v", got, s)
	}
}

func TestSetString(t *testing.T) {
	tests := []struct {
		set  Set
		want string
	}{
		{nil, ""},
		{Of(0), "0"},
		{Of(0, 1, 2, 3), "0-3"},
		{Of(0, 1, 2, 3, 7), "0-3,7"},
		{Of(5, 7, 9), "5,7,9"},
		{Of(62, 63, 64, 65), "62-65"},
	}
	for _, tt := range tests {
		if got := tt.set.String(); got != tt.want {
			t.Fatalf("String(%v) = %q, want %q", []uint64(tt.set), got, tt.want)
		}
	}
}
