//go:build linux

package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/ipimux/internal/cpuset"
)

// Eventfd drives the physical line through one eventfd per CPU. Send
// bumps the target counters; the receiver parks in Wait until its
// counter is non-zero. The counter latches until read, so Eventfd
// implements the optional acknowledge capability: Clear reads it back
// down to zero before the drain snapshots the pending set.
type Eventfd struct {
	fds []int
}

// NewEventfd allocates one eventfd per CPU.
func NewEventfd(ncpus int) (*Eventfd, error) {
	if ncpus < 1 {
		return nil, fmt.Errorf("eventfd: cpu count %d out of range", ncpus)
	}
	e := &Eventfd{fds: make([]int, 0, ncpus)}
	for i := 0; i < ncpus; i++ {
		fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("eventfd: create for cpu %d: %w", i, err)
		}
		e.fds = append(e.fds, fd)
	}
	return e, nil
}

// NumCPUs returns the number of per-CPU eventfds.
func (e *Eventfd) NumCPUs() int { return len(e.fds) }

// Fd returns the raw descriptor for a CPU, for callers integrating with
// their own poll loop.
func (e *Eventfd) Fd(cpu int) int { return e.fds[cpu] }

// Send bumps the eventfd counter of every CPU in targets.
func (e *Eventfd) Send(targets cpuset.Set) error {
	if max := targets.Max(); max >= len(e.fds) {
		return fmt.Errorf("eventfd: target cpu %d out of range [0,%d)", max, len(e.fds))
	}
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	for target := range targets.All() {
		for {
			_, err := unix.Write(e.fds[target], one[:])
			if err == nil || !errors.Is(err, unix.EINTR) {
				if err != nil && !errors.Is(err, unix.EAGAIN) {
					return fmt.Errorf("eventfd: signal cpu %d: %w", target, err)
				}
				break
			}
		}
	}
	return nil
}

// Clear reads a CPU's counter back to zero. Reading with nothing pending
// is harmless.
func (e *Eventfd) Clear(cpu int) {
	if cpu < 0 || cpu >= len(e.fds) {
		return
	}
	var buf [8]byte
	for {
		_, err := unix.Read(e.fds[cpu], buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return
	}
}

// Wait blocks until the CPU's counter is non-zero or the timeout
// expires. A negative timeout waits forever. It reports whether the line
// fired; the caller is expected to drain, which clears the counter.
func (e *Eventfd) Wait(cpu int, timeout time.Duration) (bool, error) {
	if cpu < 0 || cpu >= len(e.fds) {
		return false, fmt.Errorf("eventfd: cpu %d out of range [0,%d)", cpu, len(e.fds))
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	pfd := []unix.PollFd{{Fd: int32(e.fds[cpu]), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("eventfd: poll cpu %d: %w", cpu, err)
		}
		return n > 0, nil
	}
}

// Close releases all descriptors.
func (e *Eventfd) Close() error {
	var firstErr error
	for _, fd := range e.fds {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.fds = nil
	return firstErr
}
