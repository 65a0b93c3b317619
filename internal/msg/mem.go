package msg

import "github.com/tinyrange/vcore/internal/bus"

// Mem is a single 4-byte guest physical memory transaction. Phys is
// 4-byte aligned for transactions issued by the VCPU memory bridge.
type Mem struct {
	Read  bool
	Phys  uint64
	Value *uint32
}

func (Mem) Kind() bus.Kind { return bus.KindMem }

// MemRegion asks for direct host access to the page Page. The claiming
// model fills in the page range it backs and the host bytes of that range;
// Ptr may stay nil when the range exists but cannot be accessed directly.
type MemRegion struct {
	Page uint64

	StartPage      uint64
	Count          uint64
	Ptr            []byte
	ActualPhysical bool
}

func NewMemRegion(page uint64) *MemRegion {
	return &MemRegion{Page: page}
}

func (MemRegion) Kind() bus.Kind { return bus.KindMemRegion }

// Contains reports whether [addr, addr+n) lies in the claimed range.
func (m *MemRegion) Contains(addr, n uint64) bool {
	return addr >= m.StartPage<<12 && addr+n <= (m.StartPage+m.Count)<<12
}

// Bytes returns the host bytes backing [addr, addr+n). The caller checks
// Contains first.
func (m *MemRegion) Bytes(addr, n uint64) []byte {
	off := addr - m.StartPage<<12
	return m.Ptr[off : off+n]
}
