// Package hotplug tracks CPU lifecycle transitions and runs registered
// callbacks as CPUs come online and go offline.
package hotplug

import (
	"fmt"
	"sync"

	"github.com/tinyrange/ipimux/internal/cpuset"
)

// State is a pair of lifecycle callbacks. Starting runs on a CPU's way
// online, Dying on its way offline. Either may be nil.
type State struct {
	Name     string
	Starting func(cpu int) error
	Dying    func(cpu int) error
}

type registration struct {
	id    int
	state State
}

// Notifier is the registry of lifecycle states for one machine. States
// run in registration order for Starting and in reverse order for Dying.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	regs   []registration
	online cpuset.Set
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Register adds a lifecycle state and returns a token for Unregister.
// Starting is invoked immediately for every CPU that is already online,
// matching the behavior expected by controllers registered after boot.
func (n *Notifier) Register(s State) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s.Starting != nil {
		for cpu := range n.online.All() {
			if err := s.Starting(cpu); err != nil {
				return 0, fmt.Errorf("hotplug: state %q starting on online cpu %d: %w", s.Name, cpu, err)
			}
		}
	}

	n.nextID++
	n.regs = append(n.regs, registration{id: n.nextID, state: s})
	return n.nextID, nil
}

// Unregister removes a previously registered state. It does not invoke
// any callbacks.
func (n *Notifier) Unregister(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, reg := range n.regs {
		if reg.id == id {
			n.regs = append(n.regs[:i], n.regs[i+1:]...)
			return
		}
	}
}

// CPUStarting marks a CPU online and runs every Starting callback in
// registration order. If one fails, the Dying callbacks of the states
// already run are invoked in reverse and the CPU stays offline.
func (n *Notifier) CPUStarting(cpu int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.online.Has(cpu) {
		return nil
	}
	for i, reg := range n.regs {
		if reg.state.Starting == nil {
			continue
		}
		if err := reg.state.Starting(cpu); err != nil {
			for j := i - 1; j >= 0; j-- {
				if dying := n.regs[j].state.Dying; dying != nil {
					_ = dying(cpu)
				}
			}
			return fmt.Errorf("hotplug: state %q starting cpu %d: %w", reg.state.Name, cpu, err)
		}
	}
	n.online.Add(cpu)
	return nil
}

// CPUDying runs every Dying callback in reverse registration order and
// marks the CPU offline. All callbacks run even if some fail; the first
// error is returned.
func (n *Notifier) CPUDying(cpu int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.online.Has(cpu) {
		return nil
	}
	var firstErr error
	for i := len(n.regs) - 1; i >= 0; i-- {
		dying := n.regs[i].state.Dying
		if dying == nil {
			continue
		}
		if err := dying(cpu); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("hotplug: state %q dying cpu %d: %w", n.regs[i].state.Name, cpu, err)
		}
	}
	n.online.Remove(cpu)
	return firstErr
}

// Online returns a copy of the set of online CPUs.
func (n *Notifier) Online() cpuset.Set {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(cpuset.Set, len(n.online))
	copy(out, n.online)
	return out
}
