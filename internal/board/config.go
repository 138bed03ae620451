package board

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMemoryBase  uint64 = 0x8000_0000
	DefaultMemoryMB    uint64 = 128
	DefaultClintBase   uint64 = 0x0200_0000
	DefaultUARTBase    uint64 = 0x1000_0000
	DefaultTimebaseHz  uint64 = 10_000_000
	DefaultPayloadSkew uint64 = 0x20_0000
)

// Config describes the emulated board and what to boot on it.
type Config struct {
	Memory  MemoryConfig  `yaml:"memory"`
	Clint   ClintConfig   `yaml:"clint"`
	UART    UARTConfig    `yaml:"uart"`
	Hart    HartConfig    `yaml:"hart"`
	Payload PayloadConfig `yaml:"payload"`
	DTB     DTBConfig     `yaml:"dtb,omitempty"`

	PMP         []PMPEntry `yaml:"pmp,omitempty"`
	Diagnostics bool       `yaml:"diagnostics,omitempty"`
}

type MemoryConfig struct {
	Base   uint64 `yaml:"base"`
	SizeMB uint64 `yaml:"sizeMB"`
}

type ClintConfig struct {
	Base       uint64 `yaml:"base"`
	TimebaseHz uint64 `yaml:"timebaseHz"`
}

type UARTConfig struct {
	Base uint64 `yaml:"base"`
}

type HartConfig struct {
	ID       uint64 `yaml:"id,omitempty"`
	VendorID uint64 `yaml:"vendorID,omitempty"`
	ArchID   uint64 `yaml:"archID,omitempty"`
	ImplID   uint64 `yaml:"implID,omitempty"`

	// VendorCSRs seeds custom machine CSRs (0x7c0..0x7ff).
	VendorCSRs map[uint16]uint64 `yaml:"vendorCSRs,omitempty"`

	// BreakpointIllegal models cores that report ebreak as an illegal
	// instruction.
	BreakpointIllegal bool `yaml:"breakpointIllegal,omitempty"`
}

type PayloadConfig struct {
	Path     string `yaml:"path"`
	LoadAddr uint64 `yaml:"loadAddr,omitempty"`
	// Entry overrides the ELF entry point or the load address of a raw
	// image.
	Entry uint64 `yaml:"entry,omitempty"`
}

type DTBConfig struct {
	Path     string `yaml:"path,omitempty"`
	LoadAddr uint64 `yaml:"loadAddr,omitempty"`
	// Generate describes the board itself when Path is empty.
	Generate bool `yaml:"generate,omitempty"`
}

func (d DTBConfig) enabled() bool { return d.Path != "" || d.Generate }

// MemorySize is the RAM size in bytes.
func (c *Config) MemorySize() uint64 { return c.Memory.SizeMB << 20 }

// MemoryEnd is the first address past RAM.
func (c *Config) MemoryEnd() uint64 { return c.Memory.Base + c.MemorySize() }

func (c *Config) normalize() {
	if c.Memory.Base == 0 {
		c.Memory.Base = DefaultMemoryBase
	}
	if c.Memory.SizeMB == 0 {
		c.Memory.SizeMB = DefaultMemoryMB
	}
	if c.Clint.Base == 0 {
		c.Clint.Base = DefaultClintBase
	}
	if c.Clint.TimebaseHz == 0 {
		c.Clint.TimebaseHz = DefaultTimebaseHz
	}
	if c.UART.Base == 0 {
		c.UART.Base = DefaultUARTBase
	}
	if c.Payload.LoadAddr == 0 {
		c.Payload.LoadAddr = c.Memory.Base + DefaultPayloadSkew
	}
	if c.DTB.enabled() && c.DTB.LoadAddr == 0 {
		// Last 2 MiB of RAM, where Linux looks for it first.
		c.DTB.LoadAddr = c.MemoryEnd() - DefaultPayloadSkew
	}
}

func (c *Config) validate() error {
	if c.Hart.ID != 0 {
		return fmt.Errorf("hart id %d: only hart 0 is supported", c.Hart.ID)
	}
	if c.MemorySize() <= 2*DefaultPayloadSkew {
		return fmt.Errorf("memory size %d MiB too small", c.Memory.SizeMB)
	}
	if !c.inRAM(c.Payload.LoadAddr) {
		return fmt.Errorf("payload load address %#x outside RAM", c.Payload.LoadAddr)
	}
	if c.DTB.enabled() && !c.inRAM(c.DTB.LoadAddr) {
		return fmt.Errorf("dtb load address %#x outside RAM", c.DTB.LoadAddr)
	}
	if len(c.PMP) > maxPMPEntries {
		return fmt.Errorf("%d pmp entries, at most %d", len(c.PMP), maxPMPEntries)
	}
	for i, e := range c.PMP {
		if _, _, err := e.encode(c.pmpPrev(i)); err != nil {
			return fmt.Errorf("pmp entry %d: %w", i, err)
		}
	}
	return nil
}

func (c *Config) inRAM(addr uint64) bool {
	return addr >= c.Memory.Base && addr < c.MemoryEnd()
}

// pmpPrev is the end of entry i-1, the implicit base of a TOR entry.
func (c *Config) pmpPrev(i int) uint64 {
	if i == 0 {
		return 0
	}
	p := c.PMP[i-1]
	return p.Base + p.Size
}

// ParseConfig decodes a board description and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse board config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("board config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a board description from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read board config: %w", err)
	}
	return ParseConfig(data)
}

// DefaultConfig is the board used when no description is given.
func DefaultConfig() Config {
	var cfg Config
	cfg.normalize()
	return cfg
}

// SetPayload points the config at a payload image, overriding the file.
func (c *Config) SetPayload(path string) {
	c.Payload.Path = path
}

// SetDTB points the config at a device tree blob, overriding the file.
// The path "generate" asks for a generated tree instead.
func (c *Config) SetDTB(path string) error {
	if path == "generate" {
		c.DTB.Path, c.DTB.Generate = "", true
	} else {
		c.DTB.Path = path
	}
	c.normalize()
	if !c.inRAM(c.DTB.LoadAddr) {
		return errors.New("dtb load address outside RAM")
	}
	return nil
}
