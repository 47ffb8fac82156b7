package fdt

import (
	"slices"
	"testing"
)

func sampleTree() *Node {
	root := NewNode("")
	root.Set("compatible", StringProp("ventana,test-machine"))
	root.Set("#address-cells", U32Prop(1))

	cpus := root.Add(NewNode("cpus"))
	for i := uint32(0); i < 4; i++ {
		cpu := cpus.Add(NewNode("cpu@" + string(rune('0'+i))))
		cpu.Set("reg", U32Prop(i))
		cpu.Set("device_type", StringProp("cpu"))
	}

	soc := root.Add(NewNode("soc"))
	mux := soc.Add(NewNode("ipi-mux"))
	mux.Set("compatible", StringProp("ventana,ipi-mux"))
	mux.Set("ventana,nr-ipis", U32Prop(8))
	mux.Set("interrupt-names", StringsProp("reschedule", "call-function", "stop"))
	return root
}

func TestBuildParseRoundTrip(t *testing.T) {
	blob, err := Build(sampleTree())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	root, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, ok := root.Str("compatible"); !ok || got != "ventana,test-machine" {
		t.Fatalf("root compatible = %q,%v", got, ok)
	}

	cpus := root.Child("cpus")
	if cpus == nil {
		t.Fatalf("cpus node missing")
	}
	if got := len(cpus.Children); got != 4 {
		t.Fatalf("cpu count = %d, want 4", got)
	}
	if reg, ok := cpus.Children[2].U32("reg"); !ok || reg != 2 {
		t.Fatalf("cpu@2 reg = %d,%v", reg, ok)
	}

	mux := root.Find("soc/ipi-mux")
	if mux == nil {
		t.Fatalf("soc/ipi-mux not found")
	}
	if n, ok := mux.U32("ventana,nr-ipis"); !ok || n != 8 {
		t.Fatalf("nr-ipis = %d,%v, want 8", n, ok)
	}
	names := mux.Props["interrupt-names"].AsStrings()
	want := []string{"reschedule", "call-function", "stop"}
	if !slices.Equal(names, want) {
		t.Fatalf("interrupt-names = %v, want %v", names, want)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatalf("expected error for empty blob")
	}
	if _, err := Parse(make([]byte, 64)); err == nil {
		t.Fatalf("expected error for zeroed blob")
	}

	blob, err := Build(sampleTree())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Corrupt the structure block token stream.
	blob[len(blob)-1] ^= 0xff
	if _, err := Parse(blob[:len(blob)/2]); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
}

func TestPropertyAccessors(t *testing.T) {
	p := U32Prop(7, 9)
	if v, ok := p.AsU32(); !ok || v != 7 {
		t.Fatalf("AsU32 = %d,%v", v, ok)
	}
	if v, ok := p.U32At(1); !ok || v != 9 {
		t.Fatalf("U32At(1) = %d,%v", v, ok)
	}
	if _, ok := p.U32At(2); ok {
		t.Fatalf("U32At(2) should fail")
	}

	if _, ok := Property("no-nul").AsString(); ok {
		t.Fatalf("unterminated string should fail")
	}
	if s, ok := StringProp("ok").AsString(); !ok || s != "ok" {
		t.Fatalf("AsString = %q,%v", s, ok)
	}
	if _, ok := StringsProp("a", "b").AsString(); ok {
		t.Fatalf("string list should not read as single string")
	}
}

func TestFindMissing(t *testing.T) {
	root := sampleTree()
	if got := root.Find("soc/absent"); got != nil {
		t.Fatalf("Find returned %v for missing path", got)
	}
	if got := root.Find("soc/ipi-mux"); got == nil {
		t.Fatalf("Find failed for present path")
	}
}
