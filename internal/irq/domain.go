// Package irq provides the virtual interrupt domain shared by the mux
// engine and its backends: a fixed mapping from logical line indices to
// virtual interrupt numbers with registered per-line handlers.
package irq

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// virqAlloc hands out process-wide virtual interrupt numbers. Virtual
// interrupts are identified by small positive integers; 0 is never a
// valid virq.
var virqAlloc atomic.Int64

func allocVirqRange(n int) int {
	return int(virqAlloc.Add(int64(n))) - n + 1
}

// Domain owns a contiguous range of virtual interrupts, one per logical
// line. The line-to-virq mapping is fixed at creation; only the handler
// slots change afterwards.
type Domain struct {
	name     string
	chip     Chip
	virqBase int
	descs    []desc

	log  *slog.Logger
	warn *rate.Limiter
}

type desc struct {
	handler atomic.Pointer[Handler]
}

// NewDomain allocates a domain with n logical lines served by the given
// chip. The virq range is allocated contiguously and is never reused.
func NewDomain(name string, n int, chip Chip, log *slog.Logger) (*Domain, error) {
	if n <= 0 {
		return nil, fmt.Errorf("irq: domain %q needs at least one line, got %d", name, n)
	}
	if chip == nil {
		return nil, fmt.Errorf("irq: domain %q needs a chip", name)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Domain{
		name:     name,
		chip:     chip,
		virqBase: allocVirqRange(n),
		descs:    make([]desc, n),
		log:      log,
		warn:     rate.NewLimiter(rate.Every(time.Second), 4),
	}, nil
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Chip returns the chip serving this domain's lines.
func (d *Domain) Chip() Chip { return d.chip }

// NumLines returns the number of logical lines in the domain.
func (d *Domain) NumLines() int { return len(d.descs) }

// VirqBase returns the first virtual interrupt number of the domain's
// contiguous range. Line i maps to virq VirqBase()+i.
func (d *Domain) VirqBase() int { return d.virqBase }

// Virq returns the virtual interrupt number for a logical line, or 0 if
// the line is out of range.
func (d *Domain) Virq(line int) int {
	if line < 0 || line >= len(d.descs) {
		return 0
	}
	return d.virqBase + line
}

// Line returns the logical line for a virtual interrupt number.
func (d *Domain) Line(virq int) (int, bool) {
	line := virq - d.virqBase
	if line < 0 || line >= len(d.descs) {
		return 0, false
	}
	return line, true
}

// SetHandler registers the handler for a logical line, replacing any
// previous one. A nil handler unmaps the line.
func (d *Domain) SetHandler(line int, h Handler) error {
	if line < 0 || line >= len(d.descs) {
		return fmt.Errorf("irq: %s: line %d out of range [0,%d)", d.name, line, len(d.descs))
	}
	if h == nil {
		d.descs[line].handler.Store(nil)
		return nil
	}
	d.descs[line].handler.Store(&h)
	return nil
}

// Dispatch invokes the handler registered for a logical line on the given
// CPU. An unmapped line is reported with a rate-limited warning and an
// error; it must not abort the caller's processing of further lines.
func (d *Domain) Dispatch(line, cpu int) error {
	if line >= 0 && line < len(d.descs) {
		if h := d.descs[line].handler.Load(); h != nil {
			(*h)(cpu)
			return nil
		}
	}
	if d.warn.Allow() {
		d.log.Warn("irq: no mapping for line", "domain", d.name, "line", line, "cpu", cpu)
	}
	return fmt.Errorf("irq: %s: no mapping for line %d", d.name, line)
}
