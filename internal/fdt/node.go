// Package fdt serializes flattened device trees (DTB version 17).
package fdt

import (
	"encoding/binary"
	"strings"
)

// Property is one name/value pair. Value is already in big-endian wire
// form; use the constructors below to build it.
type Property struct {
	Name  string
	Value []byte
}

// Node is a device-tree node. Properties are emitted in order.
type Node struct {
	Name       string
	Properties []Property
	Children   []Node
}

// Prop appends properties to n and returns it.
func (n Node) Prop(props ...Property) Node {
	n.Properties = append(n.Properties, props...)
	return n
}

// Child appends children to n and returns it.
func (n Node) Child(children ...Node) Node {
	n.Children = append(n.Children, children...)
	return n
}

// Lookup returns the property with the given name.
func (n Node) Lookup(name string) (Property, bool) {
	for _, p := range n.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Flag is an empty property such as "interrupt-controller".
func Flag(name string) Property { return Property{Name: name} }

// String is a single NUL-terminated string.
func String(name, v string) Property {
	return Property{Name: name, Value: append([]byte(v), 0)}
}

// Strings is a string list.
func Strings(name string, vs ...string) Property {
	return Property{Name: name, Value: []byte(strings.Join(vs, "\x00") + "\x00")}
}

// U32 is a list of 32-bit cells.
func U32(name string, vs ...uint32) Property {
	b := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return Property{Name: name, Value: b}
}

// U64 is a list of 64-bit values, each two cells.
func U64(name string, vs ...uint64) Property {
	b := make([]byte, 0, len(vs)*8)
	for _, v := range vs {
		b = binary.BigEndian.AppendUint64(b, v)
	}
	return Property{Name: name, Value: b}
}
