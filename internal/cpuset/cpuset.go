// Package cpuset describes sets of CPUs targeted by interrupt sends.
package cpuset

import (
	"fmt"
	"iter"
	"math/bits"
	"strconv"
	"strings"
)

const wordBits = 64

// Set is a bitmask of CPU numbers. The zero value is the empty set.
//
// A Set is a slice of words and therefore shares storage when copied;
// callers that hand a Set to concurrent code must not mutate it afterwards.
type Set []uint64

// Of returns a Set containing exactly the given CPUs.
func Of(cpus ...int) Set {
	var s Set
	for _, cpu := range cpus {
		s.Add(cpu)
	}
	return s
}

// Single returns a Set containing only the given CPU.
func Single(cpu int) Set {
	return Of(cpu)
}

// UpTo returns the Set {0, 1, ..., n-1}.
func UpTo(n int) Set {
	if n <= 0 {
		return nil
	}
	s := make(Set, (n+wordBits-1)/wordBits)
	for cpu := 0; cpu < n; cpu++ {
		s[cpu/wordBits] |= 1 << uint(cpu%wordBits)
	}
	return s
}

// Parse reads a Linux cpulist-style string, e.g. "0-3,7". An empty
// string is the empty set.
func Parse(s string) (Set, error) {
	var out Set
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, found := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil || first < 0 {
			return nil, fmt.Errorf("cpuset: bad cpu number %q", lo)
		}
		last := first
		if found {
			last, err = strconv.Atoi(hi)
			if err != nil || last < first {
				return nil, fmt.Errorf("cpuset: bad cpu range %q", part)
			}
		}
		for cpu := first; cpu <= last; cpu++ {
			out.Add(cpu)
		}
	}
	return out, nil
}

// Add inserts a CPU into the set, growing it as needed. Negative CPU
// numbers are ignored.
func (s *Set) Add(cpu int) {
	if cpu < 0 {
		return
	}
	word := cpu / wordBits
	for len(*s) <= word {
		*s = append(*s, 0)
	}
	(*s)[word] |= 1 << uint(cpu%wordBits)
}

// Remove deletes a CPU from the set.
func (s Set) Remove(cpu int) {
	if cpu < 0 {
		return
	}
	word := cpu / wordBits
	if word < len(s) {
		s[word] &^= 1 << uint(cpu%wordBits)
	}
}

// Has reports whether the set contains the given CPU.
func (s Set) Has(cpu int) bool {
	if cpu < 0 {
		return false
	}
	word := cpu / wordBits
	return word < len(s) && s[word]&(1<<uint(cpu%wordBits)) != 0
}

// Count returns the number of CPUs in the set.
func (s Set) Count() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// Empty reports whether the set contains no CPUs.
func (s Set) Empty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

// Max returns the highest CPU number in the set, or -1 if it is empty.
func (s Set) Max() int {
	for word := len(s) - 1; word >= 0; word-- {
		if s[word] != 0 {
			return word*wordBits + wordBits - 1 - bits.LeadingZeros64(s[word])
		}
	}
	return -1
}

// All returns an iterator over the CPUs in the set in ascending order.
func (s Set) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for word, w := range s {
			for w != 0 {
				cpu := word*wordBits + bits.TrailingZeros64(w)
				w &= w - 1
				if !yield(cpu) {
					return
				}
			}
		}
	}
}

// String formats the set in Linux cpulist style, e.g. "0-3,7".
func (s Set) String() string {
	if s.Empty() {
		return ""
	}
	var sb strings.Builder
	start, prev := -1, -2
	flush := func() {
		if start < 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		if start == prev {
			fmt.Fprintf(&sb, "%d", start)
		} else {
			fmt.Fprintf(&sb, "%d-%d", start, prev)
		}
	}
	for cpu := range s.All() {
		if cpu != prev+1 {
			flush()
			start = cpu
		}
		prev = cpu
	}
	flush()
	return sb.String()
}
