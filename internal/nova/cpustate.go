package nova

import "encoding/binary"

// Message transfer descriptor bits select which parts of the register
// snapshot are transferred between the kernel and the VMM.
const (
	MtdGprACDB  = 1 << 0
	MtdGprBSD   = 1 << 1
	MtdRSP      = 1 << 2
	MtdRIPLen   = 1 << 3
	MtdRFlags   = 1 << 4
	MtdDsEs     = 1 << 5
	MtdFsGs     = 1 << 6
	MtdCsSs     = 1 << 7
	MtdTR       = 1 << 8
	MtdLDTR     = 1 << 9
	MtdGDTR     = 1 << 10
	MtdIDTR     = 1 << 11
	MtdCR       = 1 << 12
	MtdDR       = 1 << 13
	MtdSysenter = 1 << 14
	MtdQual     = 1 << 15
	MtdCtrl     = 1 << 16
	MtdInj      = 1 << 17
	MtdState    = 1 << 18
	MtdTSC      = 1 << 19
)

const (
	FlagCarry = 1 << 0
	FlagIF    = 1 << 9
	FlagVM    = 1 << 17
)

// GPR indexes the general purpose register file in hardware encoding order.
type GPR int

const (
	RegA GPR = iota
	RegC
	RegD
	RegB
	RegSP
	RegBP
	RegSI
	RegDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15

	NumGPRs = 16
)

// Segment indexes the segment and system descriptors of the snapshot.
type Segment int

const (
	SegES Segment = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
	SegLD
	SegTR
	SegGD
	SegID

	numSegments = 10
)

// Byte offsets of the x86_64 register snapshot. This layout is shared
// with the kernel and must not change.
const (
	offMTD         = 0
	offInstLen     = 8
	offIP          = 16
	offFL          = 24
	offIntrState   = 32
	offActvState   = 36
	offInjInfo     = 40
	offInjError    = 44
	offGPR         = 48
	offQual        = offGPR + NumGPRs*8
	offCtrl        = offQual + 16
	offReserved    = offCtrl + 8
	offCR0         = offReserved + 8
	offCR2         = offCR0 + 8
	offCR3         = offCR2 + 8
	offCR4         = offCR3 + 8
	offCR8         = offCR4 + 8
	offDR7         = offCR8 + 16
	offSysenterCS  = offDR7 + 8
	offSysenterESP = offSysenterCS + 8
	offSysenterEIP = offSysenterESP + 8
	offSegments    = offSysenterEIP + 8
	descriptorSize = 16
	offTSCValue    = offSegments + numSegments*descriptorSize
	offTSCOff      = offTSCValue + 8

	// CpuStateSize is the size in bytes of the register snapshot.
	CpuStateSize = offTSCOff + 8
)

// Descriptor is a segment or system descriptor as stored in the snapshot.
type Descriptor struct {
	Sel   uint16
	AR    uint16
	Limit uint32
	Base  uint64
}

// CpuState is an accessor layer over the architectural register snapshot.
// It is either a view into a UTCB or a standalone buffer.
type CpuState struct {
	b []byte
}

// NewCpuState allocates a zeroed standalone register snapshot.
func NewCpuState() *CpuState {
	return &CpuState{b: make([]byte, CpuStateSize)}
}

// CpuStateFromBytes wraps b, which must be at least CpuStateSize long.
func CpuStateFromBytes(b []byte) *CpuState {
	if len(b) < CpuStateSize {
		panic("nova: register snapshot buffer too small")
	}
	return &CpuState{b: b[:CpuStateSize:CpuStateSize]}
}

func (c *CpuState) Bytes() []byte { return c.b }

// CopyFrom overwrites the whole snapshot with other.
func (c *CpuState) CopyFrom(other *CpuState) { copy(c.b, other.b) }

func (c *CpuState) u8(off int) uint8 { return c.b[off] }
func (c *CpuState) u16(off int) uint16 { return binary.LittleEndian.Uint16(c.b[off:]) }
func (c *CpuState) u32(off int) uint32 { return binary.LittleEndian.Uint32(c.b[off:]) }
func (c *CpuState) u64(off int) uint64 { return binary.LittleEndian.Uint64(c.b[off:]) }
func (c *CpuState) setU8(off int, v uint8) { c.b[off] = v }
func (c *CpuState) setU16(off int, v uint16) { binary.LittleEndian.PutUint16(c.b[off:], v) }
func (c *CpuState) setU32(off int, v uint32) { binary.LittleEndian.PutUint32(c.b[off:], v) }
func (c *CpuState) setU64(off int, v uint64) { binary.LittleEndian.PutUint64(c.b[off:], v) }
func gprOffset(r GPR) int { return offGPR + int(r)*8 }
func segOffset(s Segment) int { return offSegments + int(s)*descriptorSize }

func (c *CpuState) MTD() uint64 { return c.u64(offMTD) }
func (c *CpuState) SetMTD(v uint64) { c.setU64(offMTD, v) }
func (c *CpuState) InstLen() uint64 { return c.u64(offInstLen) }
func (c *CpuState) SetInstLen(v uint64) { c.setU64(offInstLen, v) }
func (c *CpuState) RIP() uint64 { return c.u64(offIP) }
func (c *CpuState) SetRIP(v uint64) { c.setU64(offIP, v) }
func (c *CpuState) EIP() uint32 { return c.u32(offIP) }
func (c *CpuState) SetEIP(v uint32) { c.setU32(offIP, v) }
func (c *CpuState) RFlags() uint64 { return c.u64(offFL) }
func (c *CpuState) SetRFlags(v uint64) { c.setU64(offFL, v) }
func (c *CpuState) EFL() uint32 { return c.u32(offFL) }
func (c *CpuState) SetEFL(v uint32) { c.setU32(offFL, v) }
func (c *CpuState) IntrState() uint32 { return c.u32(offIntrState) }
func (c *CpuState) SetIntrState(v uint32) { c.setU32(offIntrState, v) }
func (c *CpuState) ActvState() uint32 { return c.u32(offActvState) }
func (c *CpuState) SetActvState(v uint32) { c.setU32(offActvState, v) }
func (c *CpuState) InjInfo() uint32 { return c.u32(offInjInfo) }
func (c *CpuState) SetInjInfo(v uint32) { c.setU32(offInjInfo, v) }
func (c *CpuState) InjError() uint32 { return c.u32(offInjError) }
func (c *CpuState) SetInjError(v uint32) { c.setU32(offInjError, v) }

// GPR returns the full 64-bit register.
func (c *CpuState) GPR(r GPR) uint64 { return c.u64(gprOffset(r)) }
func (c *CpuState) SetGPR(r GPR, v uint64) { c.setU64(gprOffset(r), v) }
func (c *CpuState) Reg32(r GPR) uint32 { return c.u32(gprOffset(r)) }
func (c *CpuState) SetReg32(r GPR, v uint32) { c.setU32(gprOffset(r), v) }
func (c *CpuState) Reg16(r GPR) uint16 { return c.u16(gprOffset(r)) }
func (c *CpuState) SetReg16(r GPR, v uint16) { c.setU16(gprOffset(r), v) }

// Reg8 returns the low byte of r, or the high byte of its 16-bit part when
// high is set (AH, CH, DH, BH).
func (c *CpuState) Reg8(r GPR, high bool) uint8 {
	if high {
		return c.u8(gprOffset(r) + 1)
	}
	return c.u8(gprOffset(r))
}

func (c *CpuState) SetReg8(r GPR, high bool, v uint8) {
	if high {
		c.setU8(gprOffset(r)+1, v)
		return
	}
	c.setU8(gprOffset(r), v)
}

func (c *CpuState) EAX() uint32 { return c.Reg32(RegA) }
func (c *CpuState) SetEAX(v uint32) { c.SetReg32(RegA, v) }
func (c *CpuState) EBX() uint32 { return c.Reg32(RegB) }
func (c *CpuState) SetEBX(v uint32) { c.SetReg32(RegB, v) }
func (c *CpuState) ECX() uint32 { return c.Reg32(RegC) }
func (c *CpuState) SetECX(v uint32) { c.SetReg32(RegC, v) }
func (c *CpuState) EDX() uint32 { return c.Reg32(RegD) }
func (c *CpuState) SetEDX(v uint32) { c.SetReg32(RegD, v) }
func (c *CpuState) ESP() uint32 { return c.Reg32(RegSP) }
func (c *CpuState) SetESP(v uint32) { c.SetReg32(RegSP, v) }
func (c *CpuState) AX() uint16 { return c.Reg16(RegA) }
func (c *CpuState) SetAX(v uint16) { c.SetReg16(RegA, v) }
func (c *CpuState) AH() uint8 { return c.Reg8(RegA, true) }
func (c *CpuState) SetAH(v uint8) { c.SetReg8(RegA, true, v) }
func (c *CpuState) AL() uint8 { return c.Reg8(RegA, false) }
func (c *CpuState) SetAL(v uint8) { c.SetReg8(RegA, false, v) }

func (c *CpuState) Qual(i int) uint64 { return c.u64(offQual + i*8) }
func (c *CpuState) SetQual(i int, v uint64) { c.setU64(offQual+i*8, v) }
func (c *CpuState) Ctrl(i int) uint32 { return c.u32(offCtrl + i*4) }
func (c *CpuState) SetCtrl(i int, v uint32) { c.setU32(offCtrl+i*4, v) }

func (c *CpuState) CR0() uint64 { return c.u64(offCR0) }
func (c *CpuState) SetCR0(v uint64) { c.setU64(offCR0, v) }
func (c *CpuState) CR2() uint64 { return c.u64(offCR2) }
func (c *CpuState) SetCR2(v uint64) { c.setU64(offCR2, v) }
func (c *CpuState) CR3() uint64 { return c.u64(offCR3) }
func (c *CpuState) SetCR3(v uint64) { c.setU64(offCR3, v) }
func (c *CpuState) CR4() uint64 { return c.u64(offCR4) }
func (c *CpuState) SetCR4(v uint64) { c.setU64(offCR4, v) }
func (c *CpuState) CR8() uint64 { return c.u64(offCR8) }
func (c *CpuState) SetCR8(v uint64) { c.setU64(offCR8, v) }
func (c *CpuState) DR7() uint64 { return c.u64(offDR7) }
func (c *CpuState) SetDR7(v uint64) { c.setU64(offDR7, v) }

func (c *CpuState) SysenterCS() uint64 { return c.u64(offSysenterCS) }
func (c *CpuState) SetSysenterCS(v uint64) { c.setU64(offSysenterCS, v) }
func (c *CpuState) SysenterESP() uint64 { return c.u64(offSysenterESP) }
func (c *CpuState) SetSysenterESP(v uint64) { c.setU64(offSysenterESP, v) }
func (c *CpuState) SysenterEIP() uint64 { return c.u64(offSysenterEIP) }
func (c *CpuState) SetSysenterEIP(v uint64) { c.setU64(offSysenterEIP, v) }

func (c *CpuState) TSCValue() uint64 { return c.u64(offTSCValue) }
func (c *CpuState) SetTSCValue(v uint64) { c.setU64(offTSCValue, v) }
func (c *CpuState) TSCOff() int64 { return int64(c.u64(offTSCOff)) }
func (c *CpuState) SetTSCOff(v int64) { c.setU64(offTSCOff, uint64(v)) }

// Seg reads a segment or system descriptor.
func (c *CpuState) Seg(s Segment) Descriptor {
	off := segOffset(s)
	return Descriptor{
		Sel:   c.u16(off),
		AR:    c.u16(off + 2),
		Limit: c.u32(off + 4),
		Base:  c.u64(off + 8),
	}
}

// SetSeg writes a segment or system descriptor.
func (c *CpuState) SetSeg(s Segment, d Descriptor) {
	off := segOffset(s)
	c.setU16(off, d.Sel)
	c.setU16(off+2, d.AR)
	c.setU32(off+4, d.Limit)
	c.setU64(off+8, d.Base)
}

// SetRealModeSeg loads a real-mode selector, deriving the base from it.
func (c *CpuState) SetRealModeSeg(s Segment, sel uint16) {
	d := c.Seg(s)
	d.Sel = sel
	d.Base = uint64(sel) << 4
	c.SetSeg(s, d)
}

// PM reports whether protected mode is enabled.
func (c *CpuState) PM() bool { return c.CR0()&1 != 0 }

// V86 reports whether the virtual-8086 flag is set.
func (c *CpuState) V86() bool { return c.EFL()&FlagVM != 0 }
