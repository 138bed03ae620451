package rv64

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Device is a memory-mapped peripheral. Offsets are relative to the
// device's base address.
type Device interface {
	Read(offset uint64, size int) (uint64, error)
	Write(offset uint64, size int, value uint64) error
	Size() uint64
}

// BusError reports an access that no device decoded.
type BusError struct {
	Addr uint64
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus error at %#x", e.Addr)
}

// Memory is a RAM device.
type Memory struct {
	Data []byte
}

// NewMemory allocates size bytes of RAM.
func NewMemory(size uint64) *Memory {
	return &Memory{Data: make([]byte, size)}
}

func (m *Memory) Size() uint64 { return uint64(len(m.Data)) }

func (m *Memory) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("rv64: memory read out of bounds: offset=%#x size=%d", offset, size)
	}
	b := m.Data[offset:]
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("rv64: invalid access size %d", size)
}

func (m *Memory) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return fmt.Errorf("rv64: memory write out of bounds: offset=%#x size=%d", offset, size)
	}
	b := m.Data[offset:]
	switch size {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(b, value)
	default:
		return fmt.Errorf("rv64: invalid access size %d", size)
	}
	return nil
}

type mapping struct {
	base uint64
	end  uint64
	dev  Device
}

// Bus decodes physical addresses to devices.
type Bus struct {
	maps []mapping
	last int
}

// Map attaches dev at base. Overlapping mappings are rejected.
func (b *Bus) Map(base uint64, dev Device) error {
	end := base + dev.Size()
	if end <= base {
		return fmt.Errorf("rv64: device at %#x has invalid size %#x", base, dev.Size())
	}
	for _, m := range b.maps {
		if base < m.end && m.base < end {
			return fmt.Errorf("rv64: device [%#x, %#x) overlaps [%#x, %#x)", base, end, m.base, m.end)
		}
	}
	b.maps = append(b.maps, mapping{base: base, end: end, dev: dev})
	sort.Slice(b.maps, func(i, j int) bool { return b.maps[i].base < b.maps[j].base })
	b.last = 0
	return nil
}

func (b *Bus) decode(addr uint64, size int) (Device, uint64, bool) {
	if b.last < len(b.maps) {
		if m := b.maps[b.last]; addr >= m.base && addr+uint64(size) <= m.end {
			return m.dev, addr - m.base, true
		}
	}
	for i, m := range b.maps {
		if addr >= m.base && addr+uint64(size) <= m.end {
			b.last = i
			return m.dev, addr - m.base, true
		}
	}
	return nil, 0, false
}

// Read performs a physical read of size bytes.
func (b *Bus) Read(addr uint64, size int) (uint64, error) {
	dev, off, ok := b.decode(addr, size)
	if !ok {
		return 0, &BusError{Addr: addr}
	}
	v, err := dev.Read(off, size)
	if err != nil {
		return 0, &BusError{Addr: addr}
	}
	return v, nil
}

// Write performs a physical write of size bytes.
func (b *Bus) Write(addr uint64, size int, value uint64) error {
	dev, off, ok := b.decode(addr, size)
	if !ok {
		return &BusError{Addr: addr}
	}
	if err := dev.Write(off, size, value); err != nil {
		return &BusError{Addr: addr}
	}
	return nil
}

// Load copies data into RAM at addr.
func (b *Bus) Load(addr uint64, data []byte) error {
	dev, off, ok := b.decode(addr, len(data))
	if mem, isMem := dev.(*Memory); ok && isMem {
		copy(mem.Data[off:], data)
		return nil
	}
	for i, c := range data {
		if err := b.Write(addr+uint64(i), 1, uint64(c)); err != nil {
			return fmt.Errorf("rv64: load %d bytes at %#x: %w", len(data), addr, err)
		}
	}
	return nil
}

// Write64 and Read64 are conveniences for tests and loaders.
func (b *Bus) Write64(addr, v uint64) error { return b.Write(addr, 8, v) }

func (b *Bus) Read64(addr uint64) (uint64, error) { return b.Read(addr, 8) }
