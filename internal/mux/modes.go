package mux

import (
	"fmt"

	"github.com/tinyrange/ipimux/internal/hotplug"
	"github.com/tinyrange/ipimux/internal/irq"
)

// Explicit is a mux without a parent interrupt. Nothing drains
// automatically: the caller invokes Drain on the receiving CPU, typically
// from its own interrupt entry path, and manages enabling the physical
// line itself.
type Explicit struct {
	*core
}

// NewExplicit creates an explicit-mode mux over the given backend.
func NewExplicit(backend Backend, opts ...Option) (*Explicit, error) {
	c, err := newCore(backend, opts)
	if err != nil {
		return nil, err
	}
	return &Explicit{core: c}, nil
}

// Drain empties the calling CPU's pending set and dispatches every line
// found in the snapshot. Safe to call with nothing pending.
func (e *Explicit) Drain(cpu int) {
	e.drain(cpu)
}

// Close releases the process-wide mapping so another mux can be created.
func (e *Explicit) Close() {
	e.close()
}

// Chained is a mux installed as the sub-handler of a physical parent
// interrupt. Drains run automatically on physical delivery, and the
// parent line is enabled and disabled as CPUs come and go.
type Chained struct {
	*core
	parent irq.ParentLine
	hp     *hotplug.Notifier
	hpID   int
}

// NewChained creates a chained-mode mux over the given backend, hooked
// onto parent. If a hotplug notifier is supplied via WithHotplug, the
// enable/disable lifecycle hooks are registered with it; otherwise the
// caller is expected to call parent.Enable itself for each CPU.
func NewChained(parent irq.ParentLine, backend Backend, opts ...Option) (*Chained, error) {
	if parent == nil {
		return nil, fmt.Errorf("ipimux: chained mux requires a parent line")
	}

	c, err := newCore(backend, opts)
	if err != nil {
		return nil, err
	}
	m := &Chained{core: c, parent: parent}

	parent.SetChainedHandler(m.drain)

	cfg := buildConfig(opts)
	if cfg.hp != nil {
		id, err := cfg.hp.Register(hotplug.State{
			Name: "irqchip/ipi-mux:starting",
			Starting: func(cpu int) error {
				return parent.Enable(cpu, parent.TriggerType())
			},
			Dying: parent.Disable,
		})
		if err != nil {
			parent.SetChainedHandler(nil)
			c.close()
			return nil, fmt.Errorf("ipimux: register lifecycle hooks: %w", err)
		}
		m.hp = cfg.hp
		m.hpID = id
	}

	return m, nil
}

// Parent returns the physical line the mux chains onto.
func (m *Chained) Parent() irq.ParentLine { return m.parent }

// Close detaches the chained handler, unregisters the lifecycle hooks
// and releases the process-wide mapping.
func (m *Chained) Close() {
	if m.hp != nil {
		m.hp.Unregister(m.hpID)
		m.hp = nil
	}
	m.parent.SetChainedHandler(nil)
	m.close()
}
