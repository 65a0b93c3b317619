package vcpu

import (
	"fmt"
	"math"
)

// Shmem returns the shared-memory area of the VCPU.
func (v *VCPU) Shmem() *Shmem { return &v.shmem }

// ParamsUsed returns the number of active copy slots.
func (v *VCPU) ParamsUsed() int { return v.paramsUsed }

// SetParamsUsed sets the number of active copy slots. Zero turns off
// parameter substitution.
func (v *VCPU) SetParamsUsed(n int) { v.paramsUsed = n }

// ShmemPtr returns the linear address of the first unused scratch byte:
// the destination of slot 0 plus the byte counts of all active slots.
func (v *VCPU) ShmemPtr() uint64 {
	ptr := v.shmem.Param(0).Dst.Linear()
	for i := 0; i < v.paramsUsed; i++ {
		ptr += uint64(v.shmem.Param(i).Count)
	}
	return ptr
}

// AddParam records a copy request for count bytes at addr. A read copies
// guest memory into scratch space, a write copies scratch space back to
// the guest. The slot table is never overwritten, and count must fit the
// 16-bit slot count.
func (v *VCPU) AddParam(addr uint64, count int, read bool) error {
	if count <= 0 || count > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes at 0x%x", ErrParamSize, count, addr)
	}
	i := v.paramsUsed
	if i >= NumParams {
		return ErrParamTableFull
	}
	v.shmem.setCount(i, uint16(count))
	guest := PtrFromLinear(addr)
	if read {
		v.shmem.setSrc(i, guest)
	} else {
		v.shmem.setDst(i, guest)
	}
	// Slot 0 may have just been written, so the scratch pointer is
	// computed afterwards.
	scratch := PtrFromLinear(v.ShmemPtr())
	if read {
		v.shmem.setDst(i, scratch)
	} else {
		v.shmem.setSrc(i, scratch)
	}
	v.paramsUsed++
	return nil
}

// CheckParams substitutes a marshaled address for addr. It returns the
// address to access and whether the data is available there. With no
// active slots addr is returned unchanged. A read that matches the source
// and size of an earlier slot is redirected to its scratch copy; otherwise
// a new slot is added and ok is false so the caller retries once the
// trampoline has copied the data in. A write always gets fresh scratch
// space.
func (v *VCPU) CheckParams(addr uint64, count int, read bool) (uint64, bool, error) {
	if v.paramsUsed == 0 {
		return addr, true, nil
	}
	if read {
		for i := 0; i < v.paramsUsed; i++ {
			p := v.shmem.Param(i)
			if p.Src.Linear() == addr && int(p.Count) == count {
				return p.Dst.Linear(), true, nil
			}
		}
		return addr, false, v.AddParam(addr, count, true)
	}
	scratch := v.ShmemPtr()
	if err := v.AddParam(addr, count, false); err != nil {
		return addr, false, err
	}
	return scratch, true, nil
}
