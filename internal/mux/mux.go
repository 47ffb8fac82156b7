// Package mux multiplexes a fixed number of logical interrupt lines over
// one physical inter-processor interrupt. Senders set bits in per-CPU
// pending words and kick the backend; the receiving CPU drains its word
// with an atomic snapshot-and-zero and dispatches each set bit through
// the virtual interrupt domain.
//
// The pending words are the only shared mutable state: multi-producer on
// the set side, single-consumer on the drain side. No locks are taken on
// either path.
package mux

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
	"golang.org/x/time/rate"

	"github.com/tinyrange/ipimux/internal/cpuset"
	"github.com/tinyrange/ipimux/internal/irq"
)

var (
	// ErrMuxExists reports that a mux already owns the process-wide
	// logical-line mapping.
	ErrMuxExists = errors.New("ipimux: mux already exists")

	// ErrNoBackend reports a construction attempt without a send-capable
	// backend.
	ErrNoBackend = errors.New("ipimux: backend with send capability required")

	// ErrClosed reports use of a mux after Close.
	ErrClosed = errors.New("ipimux: mux is closed")
)

// active guards the one-mapping-per-process invariant.
var active atomic.Bool

// pendingWord is one CPU's pending-line bitmask, padded so neighbouring
// CPUs' words never share a cache line.
type pendingWord struct {
	_    cpu.CacheLinePad
	bits atomic.Uint64
	_    cpu.CacheLinePad
}

type core struct {
	domain  *irq.Domain
	backend Backend
	clear   Clearer

	pending []pendingWord
	nlines  int

	log    *slog.Logger
	warn   *rate.Limiter
	closed atomic.Bool
}

func newCore(backend Backend, opts []Option) (*core, error) {
	cfg := buildConfig(opts)

	if backend == nil {
		return nil, ErrNoBackend
	}
	if cfg.lines < 1 || cfg.lines > MaxLines {
		return nil, fmt.Errorf("ipimux: line count %d out of range [1,%d]", cfg.lines, MaxLines)
	}
	if cfg.cpus < 1 {
		return nil, fmt.Errorf("ipimux: cpu count %d out of range", cfg.cpus)
	}

	if !active.CompareAndSwap(false, true) {
		return nil, ErrMuxExists
	}

	c := &core{
		backend: backend,
		pending: make([]pendingWord, cfg.cpus),
		nlines:  cfg.lines,
		log:     cfg.log,
		warn:    rate.NewLimiter(rate.Every(time.Second), 4),
	}
	c.clear, _ = backend.(Clearer)

	domain, err := irq.NewDomain("ipi-mux", cfg.lines, muxChip{c: c}, cfg.log)
	if err != nil {
		active.Store(false)
		return nil, fmt.Errorf("ipimux: add domain: %w", err)
	}
	c.domain = domain
	return c, nil
}

// VirqBase returns the first virtual interrupt of the mux's contiguous
// range; logical line i is virq VirqBase()+i.
func (c *core) VirqBase() int { return c.domain.VirqBase() }

// NumLines returns the number of logical lines.
func (c *core) NumLines() int { return c.nlines }

// NumCPUs returns the number of CPUs the mux maintains pending sets for.
func (c *core) NumCPUs() int { return len(c.pending) }

// Domain returns the virtual interrupt domain.
func (c *core) Domain() *irq.Domain { return c.domain }

// Chip returns the pass-through chip serving the logical lines.
func (c *core) Chip() irq.Chip { return muxChip{c: c} }

// SetHandler registers the handler invoked when a logical line is
// delivered on a CPU.
func (c *core) SetHandler(line int, h irq.Handler) error {
	return c.domain.SetHandler(line, h)
}

// Send marks a logical line pending on every CPU in targets, then raises
// the physical line through the backend. It is safe to call from any
// CPU, concurrently with other senders and with drains. There is no
// acknowledgment: delivery happens on each target's next drain.
func (c *core) Send(line int, targets cpuset.Set) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if line < 0 || line >= c.nlines {
		return fmt.Errorf("ipimux: line %d out of range [0,%d)", line, c.nlines)
	}
	if max := targets.Max(); max >= len(c.pending) {
		return fmt.Errorf("ipimux: target cpu %d out of range [0,%d)", max, len(c.pending))
	}
	if targets.Empty() {
		return nil
	}

	// The atomic Or publishes the pending bit before the backend raises
	// the line; it pairs with the Swap in drain, so a receiver woken by
	// the physical interrupt always observes its bit.
	mask := uint64(1) << uint(line)
	for target := range targets.All() {
		c.pending[target].bits.Or(mask)
	}

	return c.backend.Send(targets)
}

// drain empties the pending word of the given CPU and dispatches every
// set bit. It must only run on the CPU owning the word, one invocation
// at a time; running with no bits pending is a harmless spurious wakeup.
func (c *core) drain(cpu int) {
	if cpu < 0 || cpu >= len(c.pending) {
		if c.warn.Allow() {
			c.log.Warn("ipimux: drain for unknown cpu", "cpu", cpu)
		}
		return
	}

	if c.clear != nil {
		c.clear.Clear(cpu)
	}

	// Whole-word snapshot: bits set by sends racing this drain are either
	// captured here or left intact for the drain that follows the send's
	// own physical signal. Never both, never neither.
	snap := c.pending[cpu].bits.Swap(0)
	if snap == 0 {
		return
	}

	for snap != 0 {
		line := bits.TrailingZeros64(snap)
		snap &= snap - 1
		// Unmapped lines are reported by the domain; keep going with the
		// remaining bits.
		_ = c.domain.Dispatch(line, cpu)
	}
}

// pendingOn reports the raw pending word of a CPU. Test hook.
func (c *core) pendingOn(cpu int) uint64 {
	return c.pending[cpu].bits.Load()
}

func (c *core) close() {
	if c.closed.CompareAndSwap(false, true) {
		active.Store(false)
	}
}

// muxChip is the pass-through chip over the logical lines. The mux
// cannot disable individual lines, so mask and unmask do nothing.
type muxChip struct {
	c *core
}

func (muxChip) Name() string { return "ipi-mux" }
func (muxChip) Mask(int)     {}
func (muxChip) Unmask(int)   {}

func (ch muxChip) SendMask(line int, targets cpuset.Set) error {
	return ch.c.Send(line, targets)
}

var _ irq.Chip = muxChip{}
