// Package msg defines the payloads dispatched on the device buses.
package msg

import "github.com/tinyrange/vcore/internal/bus"

// IOWidth selects the access size of a port transaction as log2 of the
// byte count.
type IOWidth uint8

const (
	IOByte  IOWidth = 0
	IOWord  IOWidth = 1
	IODword IOWidth = 2
)

// Bytes returns the access size in bytes.
func (w IOWidth) Bytes() int { return 1 << w }

// IOIn is a read from an I/O port. Value starts as all ones so an
// unclaimed read floats high. A non-zero Count selects string I/O into Ptr.
type IOIn struct {
	Type  IOWidth
	Port  uint16
	Count uint32
	Value uint32
	Ptr   []byte
}

func NewIOIn(width IOWidth, port uint16) *IOIn {
	return &IOIn{Type: width, Port: port, Value: ^uint32(0)}
}

func (IOIn) Kind() bus.Kind { return bus.KindIOIn }

// IOOut is a write to an I/O port.
type IOOut struct {
	Type  IOWidth
	Port  uint16
	Count uint32
	Value uint32
	Ptr   []byte
}

func NewIOOut(width IOWidth, port uint16, value uint32) *IOOut {
	return &IOOut{Type: width, Port: port, Value: value}
}

func (IOOut) Kind() bus.Kind { return bus.KindIOOut }

// Irq changes the level of an interrupt line.
type Irq struct {
	Type IrqType
	Line uint8
}

type IrqType uint8

const (
	AssertIRQ IrqType = iota
	AssertNotify
	DeassertIRQ
)

// LINT0 is the pseudo line of the local APIC LINT0 pin.
const LINT0 = 255

func (Irq) Kind() bus.Kind { return bus.KindIrq }

// Legacy carries the side-band signals of the old chipset glue logic.
type Legacy struct {
	Type  LegacyType
	Value uint32
}

type LegacyType uint8

const (
	LegacyGateA20 LegacyType = iota
	LegacyReset
	LegacyFastA20
	LegacyInit
)

func (t LegacyType) String() string {
	switch t {
	case LegacyGateA20:
		return "gate-a20"
	case LegacyReset:
		return "reset"
	case LegacyFastA20:
		return "fast-a20"
	case LegacyInit:
		return "init"
	default:
		return "unknown"
	}
}

func (Legacy) Kind() bus.Kind { return bus.KindLegacy }
