package mux

import (
	"log/slog"
	"runtime"

	"github.com/tinyrange/ipimux/internal/hotplug"
)

const (
	// DefaultLines is the number of logical lines allocated when
	// WithLines is not given.
	DefaultLines = 8

	// MaxLines bounds the logical line count to the width of the per-CPU
	// pending word.
	MaxLines = 64
)

// Option configures a mux at construction time.
type Option interface {
	IsOption()
}

type config struct {
	lines int
	cpus  int
	hp    *hotplug.Notifier
	log   *slog.Logger
}

func buildConfig(opts []Option) config {
	cfg := config{
		lines: DefaultLines,
		cpus:  runtime.NumCPU(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		switch o := opt.(type) {
		case *linesOption:
			cfg.lines = o.n
		case *cpusOption:
			cfg.cpus = o.n
		case *hotplugOption:
			cfg.hp = o.n
		case *loggerOption:
			cfg.log = o.l
		}
	}
	return cfg
}

// WithLines sets the number of logical lines to multiplex (1 to
// MaxLines). Firmware-described counts are fed through here.
func WithLines(n int) Option { return &linesOption{n: n} }

type linesOption struct{ n int }

func (*linesOption) IsOption() {}

// WithCPUs sets the number of CPUs the mux maintains pending sets for.
// Defaults to runtime.NumCPU.
func WithCPUs(n int) Option { return &cpusOption{n: n} }

type cpusOption struct{ n int }

func (*cpusOption) IsOption() {}

// WithHotplug attaches a lifecycle notifier. A chained mux registers its
// enable/disable hooks with it; an explicit mux ignores it.
func WithHotplug(n *hotplug.Notifier) Option { return &hotplugOption{n: n} }

type hotplugOption struct{ n *hotplug.Notifier }

func (*hotplugOption) IsOption() {}

// WithLogger sets the structured logger used for warnings.
func WithLogger(l *slog.Logger) Option { return &loggerOption{l: l} }

type loggerOption struct{ l *slog.Logger }

func (*loggerOption) IsOption() {}
