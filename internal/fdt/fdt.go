// Package fdt encodes and decodes flattened device trees. The mux's
// logical-line count and CPU topology arrive from firmware in this form.
package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

const (
	headerSize  = 0x28
	version     = 17
	lastCompVer = 16
	magic       = 0xd00dfeed

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProp      = 0x3
	tokenNop       = 0x4
	tokenEnd       = 0x9
)

// Property holds a raw property value. Typed accessors interpret it.
type Property []byte

// U32Prop encodes one or more big-endian cells.
func U32Prop(values ...uint32) Property {
	p := make(Property, 0, len(values)*4)
	for _, v := range values {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], v)
		p = append(p, tmp[:]...)
	}
	return p
}

// U64Prop encodes one or more 64-bit big-endian values.
func U64Prop(values ...uint64) Property {
	p := make(Property, 0, len(values)*8)
	for _, v := range values {
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], v)
		p = append(p, tmp[:]...)
	}
	return p
}

// StringProp encodes a NUL-terminated string.
func StringProp(s string) Property {
	return append(Property(s), 0)
}

// StringsProp encodes a list of NUL-terminated strings.
func StringsProp(values ...string) Property {
	var p Property
	for _, v := range values {
		p = append(p, v...)
		p = append(p, 0)
	}
	return p
}

// AsU32 returns the first cell of the property.
func (p Property) AsU32() (uint32, bool) {
	return p.U32At(0)
}

// U32At returns the i-th cell of the property.
func (p Property) U32At(i int) (uint32, bool) {
	off := i * 4
	if off < 0 || off+4 > len(p) {
		return 0, false
	}
	return binary.BigEndian.Uint32(p[off : off+4]), true
}

// AsString returns the property as a single string.
func (p Property) AsString() (string, bool) {
	if len(p) == 0 || p[len(p)-1] != 0 {
		return "", false
	}
	s := string(p[:len(p)-1])
	if strings.IndexByte(s, 0) >= 0 {
		return "", false
	}
	return s, true
}

// AsStrings returns the property as a string list.
func (p Property) AsStrings() []string {
	if len(p) == 0 || p[len(p)-1] != 0 {
		return nil
	}
	return strings.Split(string(p[:len(p)-1]), "\x00")
}

// Node is one device-tree node. The root node has an empty name.
type Node struct {
	Name     string
	Props    map[string]Property
	Children []*Node
}

// NewNode returns an empty node with the given name.
func NewNode(name string) *Node {
	return &Node{Name: name, Props: map[string]Property{}}
}

// Set stores a property on the node.
func (n *Node) Set(name string, p Property) *Node {
	if n.Props == nil {
		n.Props = map[string]Property{}
	}
	n.Props[name] = p
	return n
}

// Add appends a child node and returns it.
func (n *Node) Add(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Find walks a slash-separated path below the node, e.g. "soc/ipi-mux".
func (n *Node) Find(path string) *Node {
	cur := n
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		cur = cur.Child(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// U32 returns the first cell of a property on the node.
func (n *Node) U32(name string) (uint32, bool) {
	p, ok := n.Props[name]
	if !ok {
		return 0, false
	}
	return p.AsU32()
}

// Str returns a string property on the node.
func (n *Node) Str(name string) (string, bool) {
	p, ok := n.Props[name]
	if !ok {
		return "", false
	}
	return p.AsString()
}

// Build serializes the tree rooted at root into an FDT blob (version 17,
// one empty memory-reservation entry).
func Build(root *Node) ([]byte, error) {
	if root == nil {
		return nil, fmt.Errorf("fdt: nil root node")
	}
	e := &encoder{stringOffs: map[string]uint32{}}
	e.node(root)
	e.token(tokenEnd)
	e.pad()

	structBytes := e.structBuf.Bytes()
	stringBytes := e.strings.Bytes()

	offMemReserve := headerSize
	offStruct := offMemReserve + 16
	offStrings := offStruct + len(structBytes)
	total := offStrings + len(stringBytes)

	blob := make([]byte, total)
	be := binary.BigEndian
	be.PutUint32(blob[0:], magic)
	be.PutUint32(blob[4:], uint32(total))
	be.PutUint32(blob[8:], uint32(offStruct))
	be.PutUint32(blob[12:], uint32(offStrings))
	be.PutUint32(blob[16:], uint32(offMemReserve))
	be.PutUint32(blob[20:], version)
	be.PutUint32(blob[24:], lastCompVer)
	be.PutUint32(blob[28:], 0) // boot cpuid
	be.PutUint32(blob[32:], uint32(len(stringBytes)))
	be.PutUint32(blob[36:], uint32(len(structBytes)))
	copy(blob[offStruct:], structBytes)
	copy(blob[offStrings:], stringBytes)
	return blob, nil
}

type encoder struct {
	structBuf  bytes.Buffer
	strings    bytes.Buffer
	stringOffs map[string]uint32
}

func (e *encoder) node(n *Node) {
	e.token(tokenBeginNode)
	e.structBuf.WriteString(n.Name)
	e.structBuf.WriteByte(0)
	e.pad()

	names := make([]string, 0, len(n.Props))
	for name := range n.Props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := n.Props[name]
		e.token(tokenProp)
		e.u32(uint32(len(value)))
		e.u32(e.stringOff(name))
		e.structBuf.Write(value)
		e.pad()
	}

	for _, child := range n.Children {
		e.node(child)
	}
	e.token(tokenEndNode)
}

func (e *encoder) token(t uint32) { e.u32(t) }

func (e *encoder) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.structBuf.Write(tmp[:])
}

func (e *encoder) pad() {
	for e.structBuf.Len()%4 != 0 {
		e.structBuf.WriteByte(0)
	}
}

func (e *encoder) stringOff(name string) uint32 {
	if off, ok := e.stringOffs[name]; ok {
		return off
	}
	off := uint32(e.strings.Len())
	e.strings.WriteString(name)
	e.strings.WriteByte(0)
	e.stringOffs[name] = off
	return off
}
