// Command muxsim boots a simulated multi-CPU machine from a YAML
// scenario, describes the mux in a flattened device tree the way
// firmware hands hardware topology to a kernel, and replays the
// scenario's sends while counting deliveries per CPU.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ipimux"
	"github.com/tinyrange/ipimux/internal/backend"
	"github.com/tinyrange/ipimux/internal/cpuset"
	"github.com/tinyrange/ipimux/internal/fdt"
)

type scenarioSend struct {
	Line    string `yaml:"line"`
	Targets string `yaml:"targets"`
	Repeat  int    `yaml:"repeat"`
}

type scenario struct {
	CPUs  int            `yaml:"cpus"`
	Lines []string       `yaml:"lines"`
	Sends []scenarioSend `yaml:"sends"`
}

var defaultScenario = scenario{
	CPUs:  4,
	Lines: []string{"reschedule", "call-function", "stop"},
	Sends: []scenarioSend{
		{Line: "reschedule", Targets: "1-3", Repeat: 4},
		{Line: "call-function", Targets: "0,2", Repeat: 2},
		{Line: "stop", Targets: "0-3", Repeat: 1},
	},
}

// buildTree encodes the scenario topology as a device tree blob. The
// simulator only trusts what it reads back out of the blob, mimicking
// a kernel consuming firmware-provided tables.
func buildTree(sc scenario) ([]byte, error) {
	cpus := fdt.NewNode("cpus")
	for i := 0; i < sc.CPUs; i++ {
		cpu := fdt.NewNode(fmt.Sprintf("cpu@%d", i))
		cpu.Set("reg", fdt.U32Prop(uint32(i)))
		cpu.Set("device_type", fdt.StringProp("cpu"))
		cpus.Add(cpu)
	}

	mux := fdt.NewNode("ipi-mux")
	mux.Set("compatible", fdt.StringProp("ventana,ipi-mux"))
	mux.Set("ventana,nr-ipis", fdt.U32Prop(uint32(len(sc.Lines))))
	mux.Set("interrupt-names", fdt.StringsProp(sc.Lines...))

	root := fdt.NewNode("")
	root.Add(cpus)
	root.Add(fdt.NewNode("soc").Add(mux))
	return fdt.Build(root)
}

type topology struct {
	ncpus int
	lines []string
}

func readTree(blob []byte) (topology, error) {
	root, err := fdt.Parse(blob)
	if err != nil {
		return topology{}, err
	}

	cpus := root.Child("cpus")
	if cpus == nil {
		return topology{}, fmt.Errorf("device tree has no /cpus node")
	}
	ncpus := len(cpus.Children)

	mux := root.Find("soc/ipi-mux")
	if mux == nil {
		return topology{}, fmt.Errorf("device tree has no /soc/ipi-mux node")
	}
	if compat, _ := mux.Str("compatible"); compat != "ventana,ipi-mux" {
		return topology{}, fmt.Errorf("unexpected compatible %q", compat)
	}
	nr, ok := mux.U32("ventana,nr-ipis")
	if !ok {
		return topology{}, fmt.Errorf("ipi-mux node missing ventana,nr-ipis")
	}
	names := mux.Props["interrupt-names"].AsStrings()
	if len(names) != int(nr) {
		return topology{}, fmt.Errorf("ipi-mux names %d != nr-ipis %d", len(names), nr)
	}
	return topology{ncpus: ncpus, lines: names}, nil
}

func run(sc scenario) error {
	blob, err := buildTree(sc)
	if err != nil {
		return fmt.Errorf("build device tree: %w", err)
	}
	topo, err := readTree(blob)
	if err != nil {
		return fmt.Errorf("read device tree: %w", err)
	}
	slog.Info("booting simulated machine",
		"cpus", topo.ncpus, "lines", topo.lines, "dtb_size", len(blob))

	hp := ipimux.NewNotifier()
	machine, err := backend.NewLoopback(topo.ncpus, hp, nil)
	if err != nil {
		return err
	}

	m, err := ipimux.NewChained(machine, machine,
		ipimux.WithLines(len(topo.lines)),
		ipimux.WithCPUs(topo.ncpus),
		ipimux.WithHotplug(hp))
	if err != nil {
		return err
	}
	defer m.Close()

	// delivered[line][cpu], guarded by mu since handlers run on the
	// per-CPU worker goroutines.
	var mu sync.Mutex
	delivered := make([]map[int]int, len(topo.lines))
	lineByName := make(map[string]int, len(topo.lines))
	for i, name := range topo.lines {
		delivered[i] = make(map[int]int)
		lineByName[name] = i
		line := i
		if err := m.SetHandler(line, func(cpu int) {
			mu.Lock()
			delivered[line][cpu]++
			mu.Unlock()
		}); err != nil {
			return err
		}
	}

	if err := machine.Start(); err != nil {
		return err
	}
	defer machine.Stop()

	for _, s := range sc.Sends {
		line, ok := lineByName[s.Line]
		if !ok {
			return fmt.Errorf("scenario names unknown line %q", s.Line)
		}
		targets, err := cpuset.Parse(s.Targets)
		if err != nil {
			return fmt.Errorf("scenario targets %q: %w", s.Targets, err)
		}
		repeat := s.Repeat
		if repeat <= 0 {
			repeat = 1
		}
		for i := 0; i < repeat; i++ {
			if err := m.Send(line, targets); err != nil {
				return fmt.Errorf("send %s to %s: %w", s.Line, s.Targets, err)
			}
			// Space repeats out so they do not coalesce into one
			// pending bit.
			time.Sleep(time.Millisecond)
		}
	}

	// Let in-flight dispatches settle.
	time.Sleep(50 * time.Millisecond)

	for i, name := range topo.lines {
		mu.Lock()
		counts := delivered[i]
		cpus := make([]int, 0, len(counts))
		for cpu := range counts {
			cpus = append(cpus, cpu)
		}
		sort.Ints(cpus)
		total := 0
		parts := make([]string, 0, len(cpus))
		for _, cpu := range cpus {
			total += counts[cpu]
			parts = append(parts, fmt.Sprintf("cpu%d=%d", cpu, counts[cpu]))
		}
		mu.Unlock()
		slog.Info("line summary", "line", name, "virq", m.VirqBase()+i, "total", total, "per_cpu", parts)
	}
	return nil
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "YAML scenario file (omit for a built-in demo)")
	verbose := fs.Bool("v", false, "Enable debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	sc := defaultScenario
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "muxsim: %v\n", err)
			os.Exit(1)
		}
		sc = scenario{}
		if err := yaml.Unmarshal(data, &sc); err != nil {
			fmt.Fprintf(os.Stderr, "muxsim: parse %s: %v\n", *configPath, err)
			os.Exit(1)
		}
	}
	if sc.CPUs <= 0 || len(sc.Lines) == 0 {
		fmt.Fprintf(os.Stderr, "muxsim: scenario needs cpus > 0 and at least one line\n")
		os.Exit(1)
	}

	if err := run(sc); err != nil {
		fmt.Fprintf(os.Stderr, "muxsim: %v\n", err)
		os.Exit(1)
	}
}
