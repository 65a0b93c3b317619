package ram

import (
	"fmt"
	"sort"
)

// Region is a named range of guest physical memory that models fill in
// through discovery writes.
type Region struct {
	Name string
	Base uint64
	Size uint64
}

func (r Region) End() uint64 { return r.Base + r.Size }

// Fixed low-memory regions of a PC.
const (
	RealModeIDTBase = 0x0
	BDABase         = 0x400
	EBDABase        = 0x9fc00
	BIOSBase        = 0xf0000

	ebdaSize = 0x400
	biosSize = 0x10000
)

// LowMemoryEnd is the smallest RAM size that holds the fixed layout.
const LowMemoryEnd = 0x100000

// Layout tracks the named regions inside guest RAM.
type Layout struct {
	ramSize uint64
	regions []Region
}

// NewLayout returns an empty layout for ramSize bytes of RAM.
func NewLayout(ramSize uint64) *Layout {
	return &Layout{ramSize: ramSize}
}

// DefaultLayout returns the PC low-memory layout: the real-mode IDT, the
// BIOS data area, the extended BIOS data area and the BIOS image.
func DefaultLayout(ramSize uint64) (*Layout, error) {
	l := NewLayout(ramSize)
	for _, r := range []Region{
		{"realmode idt", RealModeIDTBase, 0x400},
		{"bda", BDABase, 0x100},
		{"ebda", EBDABase, ebdaSize},
		{"bios", BIOSBase, biosSize},
	} {
		if err := l.RegisterFixed(r.Name, r.Base, r.Size); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// RegisterFixed adds a named region. It must lie inside RAM and must not
// overlap another region.
func (l *Layout) RegisterFixed(name string, base, size uint64) error {
	if size == 0 {
		return fmt.Errorf("ram: cannot register zero-size region %s", name)
	}
	end := base + size
	if end < base || end > l.ramSize {
		return fmt.Errorf("ram: region %s [0x%x-0x%x) outside RAM [0x0-0x%x)", name, base, end, l.ramSize)
	}
	for _, r := range l.regions {
		if r.Name == name {
			return fmt.Errorf("ram: region %s already registered", name)
		}
		if base < r.End() && end > r.Base {
			return fmt.Errorf("ram: region %s [0x%x-0x%x) overlaps %s [0x%x-0x%x)",
				name, base, end, r.Name, r.Base, r.End())
		}
	}
	l.regions = append(l.regions, Region{Name: name, Base: base, Size: size})
	sort.Slice(l.regions, func(i, j int) bool { return l.regions[i].Base < l.regions[j].Base })
	return nil
}

// Lookup returns the region called name.
func (l *Layout) Lookup(name string) (Region, bool) {
	for _, r := range l.regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Regions returns a copy of all regions sorted by base address.
func (l *Layout) Regions() []Region {
	result := make([]Region, len(l.regions))
	copy(result, l.regions)
	return result
}

// RAMSize returns the RAM size.
func (l *Layout) RAMSize() uint64 { return l.ramSize }

// BaseMemoryKB is the conventional memory below the EBDA in KiB.
func (l *Layout) BaseMemoryKB() uint64 {
	end := min(l.ramSize, uint64(0xa0000))
	if r, ok := l.Lookup("ebda"); ok && r.Base < end {
		end = r.Base
	}
	return end / 1024
}

// alignUp aligns value up to the specified alignment.
func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}
