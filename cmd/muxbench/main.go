// Command muxbench measures send-to-dispatch throughput of the IPI mux
// over the in-process loopback machine.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/ipimux"
	"github.com/tinyrange/ipimux/internal/backend"
)

func run(ncpus, nlines, sends int, showBar bool) error {
	hp := ipimux.NewNotifier()
	machine, err := backend.NewLoopback(ncpus, hp, nil)
	if err != nil {
		return err
	}

	m, err := ipimux.NewChained(machine, machine,
		ipimux.WithLines(nlines),
		ipimux.WithCPUs(ncpus),
		ipimux.WithHotplug(hp))
	if err != nil {
		return err
	}
	defer m.Close()

	var dispatched atomic.Uint64
	for line := 0; line < nlines; line++ {
		if err := m.SetHandler(line, func(int) {
			dispatched.Add(1)
		}); err != nil {
			return err
		}
	}

	if err := machine.Start(); err != nil {
		return err
	}
	defer machine.Stop()

	var bar *progressbar.ProgressBar
	if showBar {
		bar = progressbar.Default(int64(sends), "sending")
		defer bar.Close()
	}

	const batch = 1024
	start := time.Now()
	for i := 0; i < sends; i++ {
		line := i % nlines
		target := ipimux.CPUs(i % ncpus)
		if err := m.Send(line, target); err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
		if bar != nil && (i+1)%batch == 0 {
			_ = bar.Add(batch)
		}
	}
	sendDone := time.Since(start)

	// Back-to-back sends of one line coalesce into a single dispatch, so
	// wait for the dispatch count to settle rather than for a fixed
	// total.
	prev := uint64(0)
	for {
		cur := dispatched.Load()
		if cur == prev && cur > 0 {
			break
		}
		prev = cur
		time.Sleep(20 * time.Millisecond)
	}
	total := time.Since(start)

	slog.Info("muxbench complete",
		"cpus", ncpus,
		"lines", nlines,
		"sends", sends,
		"dispatched", dispatched.Load(),
		"send_time", sendDone,
		"total_time", total,
		"sends_per_sec", fmt.Sprintf("%.0f", float64(sends)/sendDone.Seconds()))
	return nil
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	ncpus := fs.Int("cpus", 4, "Number of simulated CPUs")
	nlines := fs.Int("lines", ipimux.DefaultLines, "Number of logical lines")
	sends := fs.Int("n", 1_000_000, "Number of sends to issue")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *sends <= 0 {
		fmt.Fprintf(os.Stderr, "muxbench: -n must be positive\n")
		os.Exit(1)
	}

	showBar := term.IsTerminal(int(os.Stdout.Fd()))
	if err := run(*ncpus, *nlines, *sends, showBar); err != nil {
		fmt.Fprintf(os.Stderr, "muxbench: %v\n", err)
		os.Exit(1)
	}
}
