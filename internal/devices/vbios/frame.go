package vbios

import "encoding/binary"

// stackFrame is what the trampoline pushes before a call: the pushal
// registers, the segment registers, the int3 frame and the caller's iret
// frame.
type stackFrame []byte

const (
	frameSize = 52

	frameES   = 32
	frameDS   = 34
	frameIRQ  = 40
	frameUEFL = 50
)

// rgpr returns register i in pushal order: edi, esi, ebp, esp, ebx, edx,
// ecx, eax.
func (f stackFrame) rgpr(i int) uint32 { return binary.LittleEndian.Uint32(f[4*i:]) }
func (f stackFrame) setRGPR(i int, v uint32) { binary.LittleEndian.PutUint32(f[4*i:], v) }
func (f stackFrame) u16(off int) uint16 { return binary.LittleEndian.Uint16(f[off:]) }
func (f stackFrame) setU16(off int, v uint16) { binary.LittleEndian.PutUint16(f[off:], v) }
