// Package ipimux multiplexes a fixed number of logical interrupt lines
// over a single physical inter-processor interrupt, for platforms whose
// hardware offers only one IPI vector. Senders mark logical lines
// pending in per-CPU atomic bitmasks and kick a backend; each receiving
// CPU drains its mask with an atomic snapshot-and-zero and dispatches
// every line found, so the send and drain paths never block or lock.
package ipimux

import (
	"log/slog"

	"github.com/tinyrange/ipimux/internal/cpuset"
	"github.com/tinyrange/ipimux/internal/hotplug"
	"github.com/tinyrange/ipimux/internal/irq"
	"github.com/tinyrange/ipimux/internal/mux"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from the internal packages
// -----------------------------------------------------------------------------

// Explicit is a mux whose drain the caller invokes directly.
type Explicit = mux.Explicit

// Chained is a mux that drains automatically as a sub-handler of its
// parent physical interrupt.
type Chained = mux.Chained

// Backend drives the one physical IPI line a mux is bound to.
type Backend = mux.Backend

// Clearer is the optional acknowledge capability of a Backend.
type Clearer = mux.Clearer

// ParentLine models the physical interrupt a chained mux hooks onto.
type ParentLine = irq.ParentLine

// Handler services one logical line on the CPU that drained it.
type Handler = irq.Handler

// TriggerType describes how a physical line is signalled.
type TriggerType = irq.TriggerType

// Set is a bitmask of target CPU numbers.
type Set = cpuset.Set

// Notifier tracks CPU lifecycle transitions for lifecycle hooks.
type Notifier = hotplug.Notifier

// Option configures a mux at construction time.
type Option = mux.Option

// Trigger type constants.
const (
	TriggerNone       = irq.TriggerNone
	TriggerEdgeRising = irq.TriggerEdgeRising
	TriggerLevelHigh  = irq.TriggerLevelHigh
)

// Line count limits.
const (
	DefaultLines = mux.DefaultLines
	MaxLines     = mux.MaxLines
)

// Common sentinel errors.
var (
	ErrMuxExists = mux.ErrMuxExists
	ErrNoBackend = mux.ErrNoBackend
	ErrClosed    = mux.ErrClosed
)

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NewExplicit creates an explicit-mode mux: nothing drains automatically
// and the caller invokes Drain on each receiving CPU itself.
func NewExplicit(backend Backend, opts ...Option) (*Explicit, error) {
	return mux.NewExplicit(backend, opts...)
}

// NewChained creates a chained-mode mux installed as a sub-handler of
// parent; drains run on physical delivery. With WithHotplug, the parent
// line is enabled and disabled as CPUs come online and go offline.
func NewChained(parent ParentLine, backend Backend, opts ...Option) (*Chained, error) {
	return mux.NewChained(parent, backend, opts...)
}

// NewNotifier returns an empty CPU lifecycle notifier.
func NewNotifier() *Notifier {
	return hotplug.NewNotifier()
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// WithLines sets the number of logical lines to multiplex (1 to MaxLines).
func WithLines(n int) Option { return mux.WithLines(n) }

// WithCPUs sets the number of CPUs the mux maintains pending sets for.
func WithCPUs(n int) Option { return mux.WithCPUs(n) }

// WithHotplug attaches a lifecycle notifier for chained-mode hooks.
func WithHotplug(n *Notifier) Option { return mux.WithHotplug(n) }

// WithLogger sets the structured logger used for warnings.
func WithLogger(l *slog.Logger) Option { return mux.WithLogger(l) }

// -----------------------------------------------------------------------------
// CPU sets
// -----------------------------------------------------------------------------

// CPUs returns a Set containing exactly the given CPUs.
func CPUs(cpus ...int) Set { return cpuset.Of(cpus...) }

// AllCPUs returns the Set {0, 1, ..., n-1}.
func AllCPUs(n int) Set { return cpuset.UpTo(n) }
