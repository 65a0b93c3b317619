package vbios

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/nova"
	"github.com/tinyrange/vcore/internal/params"
	"github.com/tinyrange/vcore/internal/vcpu"
)

const (
	// CodeOffset is where the trampoline is placed inside the BIOS image.
	CodeOffset = 0x200
	// ShmemBase is the guest physical address of the VCPU shared memory.
	ShmemBase = BiosBase + 0x1000

	// int3 vector slot of the real-mode IDT.
	int3Vector = 3
	// vector 0x43 holds the graphics font pointer, not a handler.
	fontVector = 0x43

	injValid = 0x80000000
	// segment AR bit selecting a 32-bit stack.
	arBig = 1 << 10
)

var ErrNoVCPU = errors.New("vbios: no VCPU for this VBIOS")

// VBios serves one VCPU. It catches the single-step exits on the int3
// instructions of the BIOS image, forwards the call on the bios bus and
// runs the parameter marshaling with the trampoline.
type VBios struct {
	Common

	vcpu       *vcpu.VCPU
	shadow     *nova.CpuState
	trampoline []byte
	log        *slog.Logger
}

// New creates a bridge for v. trampoline is the real-mode copy loop that
// is placed at CodeOffset; its last byte must be an iret.
func New(mb *motherboard.Motherboard, v *vcpu.VCPU, trampoline []byte) (*VBios, error) {
	if v == nil {
		return nil, ErrNoVCPU
	}
	if len(trampoline) == 0 || CodeOffset+len(trampoline) > ShmemBase-BiosBase {
		return nil, fmt.Errorf("vbios: trampoline size %d does not fit the BIOS image", len(trampoline))
	}
	return &VBios{
		Common:     NewCommon(mb),
		vcpu:       v,
		shadow:     nova.NewCpuState(),
		trampoline: trampoline,
		log:        mb.Logger("vbios"),
	}, nil
}

// Attach subscribes to the VCPU executor and memory buses and to discovery.
func (b *VBios) Attach() {
	b.vcpu.Executor.Add(b, b.receiveCpu)
	b.vcpu.Mem.Add(b, b.receiveMem)
	b.vcpu.MemRegion.Add(b, b.receiveMemRegion)
	b.mb.Discovery.Add(b, b.receiveDiscovery)
}

func (b *VBios) receiveCpu(m *msg.Cpu) bool {
	if m.Type != msg.CpuSingleStep {
		return false
	}
	cpu := m.CPU
	linear := cpu.Seg(nova.SegCS).Base + uint64(cpu.EIP())
	if cpu.PM() && !cpu.V86() ||
		linear < BiosBase || linear >= BiosBase+BiosMaxVector ||
		cpu.InjInfo()&injValid != 0 {
		return false
	}
	irq := uint32(linear - BiosBase)

	// A new call always starts with direct guest memory access.
	b.vcpu.SetParamsUsed(0)
	call := &msg.Bios{VCPU: b.vcpu, CPU: cpu, IRQ: irq}
	if !b.mb.Bios.Send(call) && irq != BiosResetVector {
		b.log.Debug("vbios: unhandled interrupt", "vcpu", b.vcpu.ID(), "irq", irq, "ax", cpu.AX())
	}
	m.MtrOut |= call.MtrOut

	// Nobody moved the instruction pointer, so return to the caller.
	if m.MtrOut&nova.MtdRIPLen == 0 && m.MtrOut&nova.MtdCsSs == 0 {
		b.iret(m)
	}
	return true
}

func (b *VBios) iret(m *msg.Cpu) {
	cpu := m.CPU
	if cpu.V86() {
		// Jump to the iret that ends the trampoline.
		cpu.SetEIP(uint32(CodeOffset + len(b.trampoline) - 1))
		m.MtrOut |= nova.MtdRIPLen
		return
	}

	ss := cpu.Seg(nova.SegSS)
	sp := uint64(cpu.ESP())
	if ss.AR&arBig == 0 {
		sp &= 0xffff
	}
	var frame [6]byte
	if !b.vcpu.CopyIn(ss.Base+sp, frame[:]) {
		b.mb.Panic("vbios: cannot copy in iret frame at 0x%x", ss.Base+sp)
	}
	cs := cpu.Seg(nova.SegCS)
	cs.Sel = binary.LittleEndian.Uint16(frame[2:])
	cs.Base = uint64(cs.Sel) << 4
	cs.AR = 0x93
	if cpu.V86() {
		cs.AR = 0xf3
	}
	cpu.SetSeg(nova.SegCS, cs)
	cpu.SetEIP(uint32(binary.LittleEndian.Uint16(frame[0:])))
	cpu.SetESP(cpu.ESP() + 6)
	// Only IF and TF come from the caller.
	cpu.SetEFL(cpu.EFL()&^0x300 | uint32(binary.LittleEndian.Uint16(frame[4:]))&0x300)
	m.MtrOut |= nova.MtdRFlags | nova.MtdRSP | nova.MtdRIPLen | nova.MtdCsSs
}

// receiveMem runs the trampoline side of the marshaling protocol. The
// trampoline reads the count of slot n before it copies slot n; those
// reads drive the protocol.
func (b *VBios) receiveMem(m *msg.Mem) bool {
	if m.Read && m.Phys >= ShmemBase && m.Phys < ShmemBase+vcpu.NumParams*vcpu.ParamSize &&
		(m.Phys-ShmemBase)%vcpu.ParamSize == 0 {
		b.slotRead(int((m.Phys - ShmemBase) / vcpu.ParamSize))
	}

	// The shared memory is visible to the guest at ShmemBase.
	if m.Phys >= ShmemBase && m.Phys < ShmemBase+vcpu.ShmemSize-3 {
		shmem := b.vcpu.Shmem().Bytes()[m.Phys-ShmemBase:]
		if m.Read {
			*m.Value = binary.LittleEndian.Uint32(shmem)
		} else {
			binary.LittleEndian.PutUint32(shmem, *m.Value)
		}
		return true
	}

	// The 16 bytes below 4 GiB alias the reset entry of the BIOS.
	if !m.Read || m.Phys < 0xfffffff0 || m.Phys >= 0x1_0000_0000 {
		return false
	}
	return b.mb.Mem.Send(&msg.Mem{Read: true, Phys: m.Phys & 0xfffff, Value: m.Value})
}

func (b *VBios) slotRead(number int) {
	v := b.vcpu
	if number == 0 {
		// The trampoline starts a new call: only slot 0 is valid.
		v.Shmem().ClearParams(1)
		v.SetParamsUsed(1)
		return
	}
	if number != v.ParamsUsed() {
		return
	}

	slot0 := v.Shmem().Param(0)
	off := slot0.Dst.Linear() - ShmemBase
	if slot0.Dst.Linear() < ShmemBase || off+frameSize > vcpu.ShmemSize {
		b.log.Debug("vbios: stack frame outside shared memory", "vcpu", v.ID(), "addr", slot0.Dst.Linear())
		v.SetParamsUsed(0)
		return
	}
	frame := stackFrame(v.Shmem().Bytes()[off : off+frameSize])

	shadow := b.shadow
	for i := 0; i < 8; i++ {
		shadow.SetGPR(nova.GPR(i), uint64(frame.rgpr(7-i)))
	}
	shadow.SetEFL(uint32(frame.u16(frameUEFL)))
	for _, s := range []struct {
		seg nova.Segment
		off int
	}{{nova.SegES, frameES}, {nova.SegDS, frameDS}} {
		d := shadow.Seg(s.seg)
		d.Sel = frame.u16(s.off)
		d.Base = uint64(d.Sel) << 4
		shadow.SetSeg(s.seg, d)
	}

	call := &msg.Bios{VCPU: v, CPU: shadow, IRQ: uint32(frame.u16(frameIRQ)) - 1}
	if b.mb.Bios.Send(call) {
		for i := 0; i < 8; i++ {
			frame.setRGPR(7-i, shadow.Reg32(nova.GPR(i)))
		}
		frame.setU16(frameUEFL, uint16(shadow.EFL()))
		var out [frameSize]byte
		copy(out[:], frame)
		v.CopyOut(slot0.Src.Linear(), out[:])
		v.SetParamsUsed(0)
	}
	if v.ParamsUsed() == number {
		// Failed or bogus call.
		b.log.Debug("vbios: call aborted", "vcpu", v.ID(), "irq", call.IRQ, "slots", number)
		v.SetParamsUsed(0)
	}
}

// receiveMemRegion exposes the shared memory page for direct copies.
func (b *VBios) receiveMemRegion(m *msg.MemRegion) bool {
	if m.Page != ShmemBase>>12 {
		return false
	}
	m.StartPage = m.Page
	m.Count = 1
	m.Ptr = b.vcpu.Shmem().Bytes()
	return true
}

// receiveDiscovery fills the real-mode IDT and the BIOS image. Each vector
// points at its own int3 so the single-step exit tells them apart.
func (b *VBios) receiveDiscovery(m *msg.Discovery) bool {
	if m.Type != msg.DiscoveryStart {
		return false
	}
	d := b.mb.Discovery
	value := uint32(BiosBase>>4) << 16
	for i := uint32(0); i < 256; i++ {
		msg.DiscoveryWriteB(d, "bios", i, 0xcc)
		if i != fontVector {
			msg.DiscoveryWriteDW(d, "realmode idt", i*4, value)
		}
		if i == int3Vector {
			msg.DiscoveryWriteDW(d, "realmode idt", i*4, uint32(BiosBase>>4)<<16+CodeOffset)
			msg.DiscoveryWriteST(d, "bios", CodeOffset, b.trampoline)
		}
		value++
	}
	return false
}

// Register adds the "vbios" model. It attaches to the most recently
// created VCPU.
func Register(reg *params.Registry, trampoline []byte) {
	reg.MustRegister("vbios", func(mb *motherboard.Motherboard, _ []uint64, _ string) error {
		b, err := New(mb, mb.LastVCPU(), trampoline)
		if err != nil {
			return err
		}
		b.Attach()
		return nil
	}, "vbios - create a bridge between VCPU and the BIOS bus.")
}
