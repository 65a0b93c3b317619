// Package vbios bridges software interrupts of a real-mode guest to the
// BIOS service models on the motherboard bios bus.
package vbios

import (
	"encoding/binary"

	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/nova"
)

const (
	// BiosBase is the physical address of the BIOS image. Byte n of the
	// image holds the int3 that demultiplexes interrupt vector n.
	BiosBase = 0xf0000
	// BiosResetVector is the pseudo vector of the reset entry point.
	BiosResetVector = 0x100
	// BiosMaxVector bounds the demultiplexing range.
	BiosMaxVector = BiosResetVector + 1

	bdaBase = 0x400
)

// Common holds the helpers shared by BIOS service models.
type Common struct {
	mb *motherboard.Motherboard
}

func NewCommon(mb *motherboard.Motherboard) Common {
	return Common{mb: mb}
}

// ReadBDA reads the 32-bit word at offset in the BIOS data area.
func (c Common) ReadBDA(offset uint16) uint32 {
	var value uint32
	c.mb.Mem.Send(&msg.Mem{Read: true, Phys: bdaBase + uint64(offset), Value: &value})
	return value
}

// WriteBDA stores the low n bytes of value at offset in the BIOS data
// area and keeps the other bytes of the word.
func (c Common) WriteBDA(offset uint16, value uint32, n int) {
	var word, src [4]byte
	binary.LittleEndian.PutUint32(word[:], c.ReadBDA(offset))
	binary.LittleEndian.PutUint32(src[:], value)
	copy(word[:min(n, 4)], src[:])
	x := binary.LittleEndian.Uint32(word[:])
	c.mb.Mem.Send(&msg.Mem{Phys: bdaBase + uint64(offset), Value: &x})
}

// JmpInt continues execution at the real-mode handler of vector number.
func (c Common) JmpInt(m *msg.Bios, number uint8) bool {
	var v [4]byte
	if !m.VCPU.CopyIn(uint64(number)*4, v[:]) {
		return false
	}
	cs := m.CPU.Seg(nova.SegCS)
	cs.Sel = binary.LittleEndian.Uint16(v[2:])
	cs.Base = uint64(cs.Sel) << 4
	m.CPU.SetSeg(nova.SegCS, cs)
	m.CPU.SetEIP(uint32(binary.LittleEndian.Uint16(v[0:])))
	m.MtrOut |= nova.MtdRIPLen | nova.MtdCsSs
	return true
}

// Error signals a failed call the usual way: carry set and the error code
// in AH.
func (c Common) Error(m *msg.Bios, code uint8) {
	m.CPU.SetEFL(m.CPU.EFL() | nova.FlagCarry)
	m.CPU.SetAH(code)
	m.MtrOut |= nova.MtdRFlags | nova.MtdGprACDB
}

// Success clears the carry flag.
func (c Common) Success(m *msg.Bios) {
	m.CPU.SetEFL(m.CPU.EFL() &^ nova.FlagCarry)
	m.MtrOut |= nova.MtdRFlags
}

// Outb writes a byte to an I/O port.
func (c Common) Outb(port uint16, value uint8) {
	c.mb.IOOut.Send(msg.NewIOOut(msg.IOByte, port, uint32(value)))
}
