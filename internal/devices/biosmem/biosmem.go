// Package biosmem answers the BIOS memory size queries.
package biosmem

import (
	"github.com/tinyrange/vcore/internal/devices/vbios"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/nova"
	"github.com/tinyrange/vcore/internal/params"
)

const (
	// BDA offset of the conventional memory size in KiB.
	bdaBaseMemory = 0x13

	extendedBase = 0x100000
	// INT 0x15 AH=0x88 reports at most 63 MiB.
	maxExtendedKB = 0xfc00

	errUnsupported = 0x86
)

// BiosMem serves INT 0x12 and INT 0x15 AH=0x88.
type BiosMem struct {
	vbios.Common
	mb *motherboard.Motherboard
}

func New(mb *motherboard.Motherboard) *BiosMem {
	return &BiosMem{Common: vbios.NewCommon(mb), mb: mb}
}

func (b *BiosMem) Attach() {
	b.mb.Bios.Add(b, b.receiveBios)
}

func (b *BiosMem) receiveBios(m *msg.Bios) bool {
	switch m.IRQ {
	case 0x12:
		return b.conventional(m)
	case 0x15:
		if m.CPU.AH() == 0x88 {
			return b.extended(m)
		}
	}
	return false
}

func (b *BiosMem) conventional(m *msg.Bios) bool {
	m.CPU.SetAX(uint16(b.ReadBDA(bdaBaseMemory)))
	m.MtrOut |= nova.MtdGprACDB
	return true
}

func (b *BiosMem) extended(m *msg.Bios) bool {
	region := msg.NewMemRegion(extendedBase >> 12)
	if !b.mb.MemRegion.Send(region) {
		b.Error(m, errUnsupported)
		return true
	}
	end := (region.StartPage + region.Count) << 12
	m.CPU.SetAX(uint16(min((end-extendedBase)>>10, maxExtendedKB)))
	m.MtrOut |= nova.MtdGprACDB
	b.Success(m)
	return true
}

// Register adds the "biosmem" model.
func Register(reg *params.Registry) {
	reg.MustRegister("biosmem", func(mb *motherboard.Motherboard, _ []uint64, _ string) error {
		New(mb).Attach()
		return nil
	}, "biosmem - provide the BIOS memory size services INT 0x12 and INT 0x15 AH=0x88.")
}
