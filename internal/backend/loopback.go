// Package backend provides physical-line drivers for the mux: an
// in-process loopback machine for tests and simulations, and an
// eventfd-backed doorbell on Linux.
package backend

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/ipimux/internal/cpuset"
	"github.com/tinyrange/ipimux/internal/hotplug"
	"github.com/tinyrange/ipimux/internal/irq"
)

// Loopback simulates an SMP machine with one edge-triggered IPI doorbell
// per CPU. Each online CPU is a goroutine parked on its doorbell; raising
// the line wakes it and runs the chained handler, so back-to-back sends
// coalesce exactly like an edge interrupt. The doorbell clears itself on
// delivery, so Loopback deliberately does not implement the optional
// acknowledge capability.
//
// Loopback is both the backend and the parent line, and it drives an
// optional hotplug notifier as its CPUs come and go.
type Loopback struct {
	log *slog.Logger
	hp  *hotplug.Notifier

	mu      sync.Mutex
	handler func(cpu int)
	cpus    []*loopCPU
}

type loopCPU struct {
	doorbell chan struct{}
	enabled  bool

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewLoopback builds a machine with ncpus offline CPUs. hp and log may
// be nil.
func NewLoopback(ncpus int, hp *hotplug.Notifier, log *slog.Logger) (*Loopback, error) {
	if ncpus < 1 {
		return nil, fmt.Errorf("loopback: cpu count %d out of range", ncpus)
	}
	if log == nil {
		log = slog.Default()
	}
	l := &Loopback{log: log, hp: hp, cpus: make([]*loopCPU, ncpus)}
	for i := range l.cpus {
		l.cpus[i] = &loopCPU{doorbell: make(chan struct{}, 1)}
	}
	return l, nil
}

// NumCPUs returns the machine's CPU count.
func (l *Loopback) NumCPUs() int { return len(l.cpus) }

// Send raises the doorbell on every CPU in targets. A doorbell already
// raised absorbs further sends until the CPU services it.
func (l *Loopback) Send(targets cpuset.Set) error {
	if max := targets.Max(); max >= len(l.cpus) {
		return fmt.Errorf("loopback: target cpu %d out of range [0,%d)", max, len(l.cpus))
	}
	for target := range targets.All() {
		select {
		case l.cpus[target].doorbell <- struct{}{}:
		default:
		}
	}
	return nil
}

// SetChainedHandler installs the sub-handler run on doorbell delivery.
func (l *Loopback) SetChainedHandler(h func(cpu int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Enable starts reception of the doorbell on a CPU. Signals arriving
// while reception is disabled are discarded, as a masked line would be.
func (l *Loopback) Enable(cpu int, trigger irq.TriggerType) error {
	if trigger != irq.TriggerEdgeRising && trigger != irq.TriggerNone {
		return fmt.Errorf("loopback: unsupported trigger type %v", trigger)
	}
	c, err := l.cpu(cpu)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c.enabled = true
	return nil
}

// Disable stops reception of the doorbell on a CPU.
func (l *Loopback) Disable(cpu int) error {
	c, err := l.cpu(cpu)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c.enabled = false
	return nil
}

// TriggerType returns the doorbell's trigger type.
func (l *Loopback) TriggerType() irq.TriggerType { return irq.TriggerEdgeRising }

// StartCPU brings one CPU online: its service goroutine starts, then the
// hotplug notifier runs the Starting callbacks.
func (l *Loopback) StartCPU(cpu int) error {
	c, err := l.cpu(cpu)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if c.running {
		l.mu.Unlock()
		return nil
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go l.serve(cpu, c, c.stop, c.done)
	l.mu.Unlock()

	if l.hp != nil {
		if err := l.hp.CPUStarting(cpu); err != nil {
			l.haltCPU(c)
			return fmt.Errorf("loopback: bring cpu %d online: %w", cpu, err)
		}
	}
	return nil
}

// StopCPU takes one CPU offline: the hotplug notifier runs the Dying
// callbacks, then the service goroutine exits.
func (l *Loopback) StopCPU(cpu int) error {
	c, err := l.cpu(cpu)
	if err != nil {
		return err
	}
	if l.hp != nil {
		if err := l.hp.CPUDying(cpu); err != nil {
			l.log.Warn("loopback: dying callbacks failed", "cpu", cpu, "error", err)
		}
	}
	l.haltCPU(c)
	return nil
}

// Start brings every CPU online.
func (l *Loopback) Start() error {
	for cpu := range l.cpus {
		if err := l.StartCPU(cpu); err != nil {
			return err
		}
	}
	return nil
}

// Stop takes every CPU offline, highest first.
func (l *Loopback) Stop() error {
	for cpu := len(l.cpus) - 1; cpu >= 0; cpu-- {
		if err := l.StopCPU(cpu); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loopback) cpu(cpu int) (*loopCPU, error) {
	if cpu < 0 || cpu >= len(l.cpus) {
		return nil, fmt.Errorf("loopback: cpu %d out of range [0,%d)", cpu, len(l.cpus))
	}
	return l.cpus[cpu], nil
}

func (l *Loopback) haltCPU(c *loopCPU) {
	l.mu.Lock()
	if !c.running {
		l.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	l.mu.Unlock()

	close(stop)
	<-done
}

func (l *Loopback) serve(cpu int, c *loopCPU, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-c.doorbell:
			l.mu.Lock()
			h := l.handler
			enabled := c.enabled
			l.mu.Unlock()
			if enabled && h != nil {
				h(cpu)
			}
		}
	}
}

var _ irq.ParentLine = (*Loopback)(nil)
