package fdt

import (
	"encoding/binary"
	"fmt"
)

// Parse decodes an FDT blob into its node tree.
func Parse(blob []byte) (*Node, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("fdt: blob truncated at %d bytes", len(blob))
	}
	be := binary.BigEndian
	if got := be.Uint32(blob[0:]); got != magic {
		return nil, fmt.Errorf("fdt: bad magic %#08x", got)
	}
	if total := be.Uint32(blob[4:]); int(total) > len(blob) {
		return nil, fmt.Errorf("fdt: declared size %d exceeds blob size %d", total, len(blob))
	}
	if ver := be.Uint32(blob[20:]); ver < lastCompVer {
		return nil, fmt.Errorf("fdt: unsupported version %d", ver)
	}

	offStruct := int(be.Uint32(blob[8:]))
	offStrings := int(be.Uint32(blob[12:]))
	sizeStrings := int(be.Uint32(blob[32:]))
	sizeStruct := int(be.Uint32(blob[36:]))
	if offStruct < 0 || offStruct+sizeStruct > len(blob) {
		return nil, fmt.Errorf("fdt: structure block out of bounds")
	}
	if offStrings < 0 || offStrings+sizeStrings > len(blob) {
		return nil, fmt.Errorf("fdt: strings block out of bounds")
	}

	d := &decoder{
		buf:     blob[offStruct : offStruct+sizeStruct],
		strings: blob[offStrings : offStrings+sizeStrings],
	}
	return d.run()
}

type decoder struct {
	buf     []byte
	strings []byte
	off     int
}

func (d *decoder) run() (*Node, error) {
	var root *Node
	var stack []*Node

	for {
		token, err := d.u32()
		if err != nil {
			return nil, err
		}
		switch token {
		case tokenBeginNode:
			name, err := d.name()
			if err != nil {
				return nil, err
			}
			node := NewNode(name)
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("fdt: multiple root nodes")
				}
				root = node
			} else {
				stack[len(stack)-1].Add(node)
			}
			stack = append(stack, node)

		case tokenEndNode:
			if len(stack) == 0 {
				return nil, fmt.Errorf("fdt: unbalanced node end at offset %d", d.off)
			}
			stack = stack[:len(stack)-1]

		case tokenProp:
			size, err := d.u32()
			if err != nil {
				return nil, err
			}
			nameOff, err := d.u32()
			if err != nil {
				return nil, err
			}
			value, err := d.bytes(int(size))
			if err != nil {
				return nil, err
			}
			name, err := d.stringAt(int(nameOff))
			if err != nil {
				return nil, err
			}
			if len(stack) == 0 {
				return nil, fmt.Errorf("fdt: property %q outside any node", name)
			}
			stack[len(stack)-1].Set(name, Property(append([]byte(nil), value...)))

		case tokenNop:

		case tokenEnd:
			if len(stack) != 0 {
				return nil, fmt.Errorf("fdt: %d unterminated nodes", len(stack))
			}
			if root == nil {
				return nil, fmt.Errorf("fdt: empty tree")
			}
			return root, nil

		default:
			return nil, fmt.Errorf("fdt: unknown token %#x at offset %d", token, d.off-4)
		}
	}
}

func (d *decoder) u32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, fmt.Errorf("fdt: structure block truncated at offset %d", d.off)
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if n < 0 || d.off+n > len(d.buf) {
		return nil, fmt.Errorf("fdt: %d-byte value truncated at offset %d", n, d.off)
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	d.align()
	return v, nil
}

func (d *decoder) name() (string, error) {
	end := d.off
	for end < len(d.buf) && d.buf[end] != 0 {
		end++
	}
	if end == len(d.buf) {
		return "", fmt.Errorf("fdt: unterminated node name at offset %d", d.off)
	}
	name := string(d.buf[d.off:end])
	d.off = end + 1
	d.align()
	return name, nil
}

func (d *decoder) stringAt(off int) (string, error) {
	if off < 0 || off >= len(d.strings) {
		return "", fmt.Errorf("fdt: property name offset %d out of bounds", off)
	}
	end := off
	for end < len(d.strings) && d.strings[end] != 0 {
		end++
	}
	return string(d.strings[off:end]), nil
}

func (d *decoder) align() {
	for d.off%4 != 0 {
		d.off++
	}
}
