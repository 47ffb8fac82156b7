package irq

import "github.com/tinyrange/ipimux/internal/cpuset"

// TriggerType describes how a physical interrupt line is signalled.
type TriggerType int

const (
	TriggerNone TriggerType = iota
	TriggerEdgeRising
	TriggerLevelHigh
)

func (t TriggerType) String() string {
	switch t {
	case TriggerEdgeRising:
		return "edge-rising"
	case TriggerLevelHigh:
		return "level-high"
	default:
		return "none"
	}
}

// Handler services one logical line on the CPU that drained it.
type Handler func(cpu int)

// Chip exposes the per-line operations of a virtual interrupt controller.
// Controllers that cannot mask individual lines implement Mask and Unmask
// as no-ops.
type Chip interface {
	Name() string
	Mask(line int)
	Unmask(line int)
	SendMask(line int, targets cpuset.Set) error
}

// ParentLine models the single physical interrupt a controller can chain
// onto. The chained handler runs on the CPU that received the physical
// interrupt.
type ParentLine interface {
	// SetChainedHandler installs (or, with nil, removes) the sub-handler
	// invoked on physical interrupt delivery.
	SetChainedHandler(h func(cpu int))

	// Enable starts reception of the physical line on the given CPU using
	// the requested trigger type.
	Enable(cpu int, trigger TriggerType) error

	// Disable stops reception of the physical line on the given CPU.
	Disable(cpu int) error

	// TriggerType returns the line's configured trigger type.
	TriggerType() TriggerType
}
