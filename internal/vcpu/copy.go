package vcpu

import (
	"encoding/binary"
	"log/slog"

	"github.com/tinyrange/vcore/internal/msg"
)

// CopyIn reads len(buf) bytes of guest memory at addr.
func (v *VCPU) CopyIn(addr uint64, buf []byte) bool { return v.CopyInOut(addr, buf, true) }

// CopyOut writes buf to guest memory at addr.
func (v *VCPU) CopyOut(addr uint64, buf []byte) bool { return v.CopyInOut(addr, buf, false) }

// CopyInOut moves bytes between buf and the guest memory visible to this
// VCPU. Active BIOS parameter slots redirect the access first. Memory that
// a model exposes on the memregion bus is copied directly, everything else
// goes through 4-byte transactions on the mem bus.
//
// A false return means the data is not available yet (a new copy slot was
// queued) or a bus transaction was not claimed. Units written before a
// failing transaction stay written.
func (v *VCPU) CopyInOut(addr uint64, buf []byte, read bool) bool {
	addr, ok, err := v.CheckParams(addr, len(buf), read)
	if err != nil {
		slog.Debug("vcpu: marshal parameter", "vcpu", v.id, "addr", addr, "count", len(buf), "error", err)
		return false
	}
	if !ok {
		return false
	}

	region := msg.NewMemRegion(addr >> 12)
	n := uint64(len(buf))
	if v.MemRegion.Send(region) && region.Ptr != nil && region.Contains(addr, n) {
		if read {
			copy(buf, region.Bytes(addr, n))
		} else {
			copy(region.Bytes(addr, n), buf)
		}
		return true
	}

	if off := addr & 3; off != 0 {
		l := min(4-off, n)
		if !v.partialWord(addr&^3, int(off), buf[:l], read) {
			return false
		}
		buf = buf[l:]
		addr += l
	}
	for len(buf) >= 4 {
		var value uint32
		if !read {
			value = binary.LittleEndian.Uint32(buf)
		}
		if !v.Mem.Send(&msg.Mem{Read: read, Phys: addr, Value: &value}) {
			return false
		}
		if read {
			binary.LittleEndian.PutUint32(buf, value)
		}
		buf = buf[4:]
		addr += 4
	}
	if len(buf) > 0 {
		return v.partialWord(addr, 0, buf, read)
	}
	return true
}

// partialWord transfers part of the aligned word at phys. Writes merge buf
// into the current word contents before storing it back.
func (v *VCPU) partialWord(phys uint64, off int, buf []byte, read bool) bool {
	var value uint32
	m := msg.Mem{Read: true, Phys: phys, Value: &value}
	if !v.Mem.Send(&m) {
		return false
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], value)
	if read {
		copy(buf, word[off:])
		return true
	}
	copy(word[off:], buf)
	value = binary.LittleEndian.Uint32(word[:])
	m.Read = false
	return v.Mem.Send(&m)
}
