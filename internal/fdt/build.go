package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	headerSize = 0x28
	version    = 17
	lastComp   = 16

	// Magic is the first word of every blob.
	Magic = 0xd00dfeed

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProp      = 0x3
	tokenEnd       = 0x9
)

// Reservation is a memory reservation block entry.
type Reservation struct {
	Address, Size uint64
}

// Tree is a complete blob description.
type Tree struct {
	Root     Node
	Reserved []Reservation
	BootCPU  uint32
}

// Build serializes the tree.
func (t Tree) Build() ([]byte, error) {
	b := &builder{offsets: make(map[string]uint32)}
	if t.Root.Name != "" {
		return nil, fmt.Errorf("fdt: root node must be unnamed, got %q", t.Root.Name)
	}
	if err := b.node(t.Root); err != nil {
		return nil, err
	}
	return b.finish(t), nil
}

// Build serializes root with no reservations and boot CPU 0.
func Build(root Node) ([]byte, error) {
	return Tree{Root: root}.Build()
}

type builder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	offsets   map[string]uint32
}

func (b *builder) node(n Node) error {
	b.token(tokenBeginNode)
	b.structure.WriteString(n.Name)
	b.structure.WriteByte(0)
	b.pad()

	seen := make(map[string]bool, len(n.Properties))
	for _, p := range n.Properties {
		if p.Name == "" {
			return fmt.Errorf("fdt: node %q has an unnamed property", n.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("fdt: node %q has duplicate property %q", n.Name, p.Name)
		}
		seen[p.Name] = true

		b.token(tokenProp)
		b.word(uint32(len(p.Value)))
		b.word(b.stringOffset(p.Name))
		b.structure.Write(p.Value)
		b.pad()
	}

	for _, c := range n.Children {
		if c.Name == "" {
			return fmt.Errorf("fdt: node %q has an unnamed child", n.Name)
		}
		if err := b.node(c); err != nil {
			return err
		}
	}

	b.token(tokenEndNode)
	return nil
}

func (b *builder) finish(t Tree) []byte {
	b.token(tokenEnd)

	// Reservation entries end with a zero pair.
	rsv := make([]byte, 0, (len(t.Reserved)+1)*16)
	for _, r := range t.Reserved {
		rsv = binary.BigEndian.AppendUint64(rsv, r.Address)
		rsv = binary.BigEndian.AppendUint64(rsv, r.Size)
	}
	rsv = append(rsv, make([]byte, 16)...)

	offRsv := headerSize
	offStruct := offRsv + len(rsv)
	offStrings := offStruct + b.structure.Len()
	total := offStrings + b.strings.Len()

	blob := make([]byte, 0, total)
	for _, v := range []uint32{
		Magic,
		uint32(total),
		uint32(offStruct),
		uint32(offStrings),
		uint32(offRsv),
		version,
		lastComp,
		t.BootCPU,
		uint32(b.strings.Len()),
		uint32(b.structure.Len()),
	} {
		blob = binary.BigEndian.AppendUint32(blob, v)
	}
	blob = append(blob, rsv...)
	blob = append(blob, b.structure.Bytes()...)
	blob = append(blob, b.strings.Bytes()...)
	return blob
}

func (b *builder) stringOffset(name string) uint32 {
	if off, ok := b.offsets[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.offsets[name] = off
	return off
}

func (b *builder) token(t uint32) { b.word(t) }

func (b *builder) word(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.structure.Write(tmp[:])
}

func (b *builder) pad() {
	for b.structure.Len()%4 != 0 {
		b.structure.WriteByte(0)
	}
}
