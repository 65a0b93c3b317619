package vcpu

import (
	"encoding/binary"
	"errors"
)

const (
	// ShmemSize is the size of the per-VCPU area shared with the BIOS
	// trampoline.
	ShmemSize = 4096
	// NumParams is the number of copy slots: register-in, param-in,
	// param-out, register-out and the terminating empty slot.
	NumParams = 5
	// ParamSize is the encoded size of one slot.
	ParamSize = 12
)

var (
	ErrParamTableFull = errors.New("vcpu: parameter table full")
	// ErrParamSize reports a copy request that a slot count cannot hold.
	// A zero count marks the end of the table.
	ErrParamSize = errors.New("vcpu: parameter size out of range")
)

// GuestPtr is a real-mode seg:ofs pointer.
type GuestPtr struct {
	Seg uint16
	Ofs uint16
}

// PtrFromLinear splits a linear address into a 16-byte aligned segment
// and the remaining offset.
func PtrFromLinear(addr uint64) GuestPtr {
	seg := uint16(addr >> 4)
	return GuestPtr{Seg: seg, Ofs: uint16(addr - uint64(seg)<<4)}
}

func (p GuestPtr) Linear() uint64 { return uint64(p.Seg)<<4 + uint64(p.Ofs) }

// Param is one decoded copy slot. The trampoline copies Count bytes from
// Src to Dst and stops at the first slot with a zero count.
type Param struct {
	Count uint16
	Src   GuestPtr
	Dst   GuestPtr
}

const (
	paramCount  = 0
	paramSrcSeg = 2
	paramSrcOfs = 4
	paramDstSeg = 6
	paramDstOfs = 8
)

// Shmem is the shared-memory area. The slot table sits at its start, the
// rest is scratch space for marshaled data.
type Shmem [ShmemSize]byte

func (s *Shmem) Bytes() []byte { return s[:] }

func (s *Shmem) u16(off int) uint16 { return binary.LittleEndian.Uint16(s[off:]) }
func (s *Shmem) setU16(off int, v uint16) { binary.LittleEndian.PutUint16(s[off:], v) }

func (s *Shmem) Param(i int) Param {
	base := i * ParamSize
	return Param{
		Count: s.u16(base + paramCount),
		Src:   GuestPtr{Seg: s.u16(base + paramSrcSeg), Ofs: s.u16(base + paramSrcOfs)},
		Dst:   GuestPtr{Seg: s.u16(base + paramDstSeg), Ofs: s.u16(base + paramDstOfs)},
	}
}

func (s *Shmem) SetParam(i int, p Param) {
	s.setCount(i, p.Count)
	s.setSrc(i, p.Src)
	s.setDst(i, p.Dst)
}

func (s *Shmem) setCount(i int, n uint16) { s.setU16(i*ParamSize+paramCount, n) }

func (s *Shmem) setSrc(i int, p GuestPtr) {
	s.setU16(i*ParamSize+paramSrcSeg, p.Seg)
	s.setU16(i*ParamSize+paramSrcOfs, p.Ofs)
}

func (s *Shmem) setDst(i int, p GuestPtr) {
	s.setU16(i*ParamSize+paramDstSeg, p.Seg)
	s.setU16(i*ParamSize+paramDstOfs, p.Ofs)
}

// ClearParams zeroes the slots from index first to the end of the table.
func (s *Shmem) ClearParams(first int) {
	clear(s[first*ParamSize : NumParams*ParamSize])
}
