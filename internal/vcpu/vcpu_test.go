package vcpu

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/tinyrange/vcore/internal/msg"
)

type memOp struct {
	read bool
	phys uint64
}

// wordMemory is a device-backed memory that only answers 4-byte
// transactions.
type wordMemory struct {
	words map[uint64]uint32
	ops   []memOp
	fail  uint64
}

func attachWordMemory(t *testing.T, v *VCPU) *wordMemory {
	t.Helper()
	m := &wordMemory{words: make(map[uint64]uint32), fail: ^uint64(0)}
	v.Mem.Add(m, func(req *msg.Mem) bool {
		if req.Phys&3 != 0 {
			t.Fatalf("unaligned mem transaction at 0x%x", req.Phys)
		}
		if req.Phys == m.fail {
			return false
		}
		m.ops = append(m.ops, memOp{req.Read, req.Phys})
		if req.Read {
			*req.Value = m.words[req.Phys]
		} else {
			m.words[req.Phys] = *req.Value
		}
		return true
	})
	return m
}

func (m *wordMemory) load(base uint64, data []byte) {
	for i := 0; i < len(data); i += 4 {
		var w [4]byte
		copy(w[:], data[i:])
		m.words[base+uint64(i)] = uint32(w[0]) | uint32(w[1])<<8 | uint32(w[2])<<16 | uint32(w[3])<<24
	}
}

func TestCopyInSlowPathStraddle(t *testing.T) {
	v := New(0)
	mem := attachWordMemory(t, v)
	mem.load(0x1000, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	buf := make([]byte, 6)
	if !v.CopyIn(0x1002, buf) {
		t.Fatalf("CopyIn failed")
	}
	if want := []byte{2, 3, 4, 5, 6, 7}; !bytes.Equal(buf, want) {
		t.Fatalf("buf = %x, want %x", buf, want)
	}
	want := []memOp{{true, 0x1000}, {true, 0x1004}}
	if !reflect.DeepEqual(mem.ops, want) {
		t.Fatalf("transactions = %+v, want %+v", mem.ops, want)
	}
}

func TestCopyOutSlowPathMerges(t *testing.T) {
	v := New(0)
	mem := attachWordMemory(t, v)
	mem.load(0x2000, []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xbb, 0xbb, 0xbb, 0xbb, 0xcc, 0xcc, 0xcc, 0xcc})

	if !v.CopyOut(0x2001, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Fatalf("CopyOut failed")
	}
	got := []uint32{mem.words[0x2000], mem.words[0x2004], mem.words[0x2008]}
	want := []uint32{0x030201aa, 0x07060504, 0xcccc0908}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("words = %08x, want %08x", got, want)
	}
	wantOps := []memOp{
		{true, 0x2000}, {false, 0x2000},
		{false, 0x2004},
		{true, 0x2008}, {false, 0x2008},
	}
	if !reflect.DeepEqual(mem.ops, wantOps) {
		t.Fatalf("transactions = %+v, want %+v", mem.ops, wantOps)
	}
}

func TestCopyInShortUnaligned(t *testing.T) {
	v := New(0)
	mem := attachWordMemory(t, v)
	mem.load(0x3000, []byte{0x10, 0x11, 0x12, 0x13})

	buf := make([]byte, 2)
	if !v.CopyIn(0x3001, buf) {
		t.Fatalf("CopyIn failed")
	}
	if !bytes.Equal(buf, []byte{0x11, 0x12}) {
		t.Fatalf("buf = %x", buf)
	}
	if len(mem.ops) != 1 {
		t.Fatalf("transactions = %+v, want one read", mem.ops)
	}
}

func TestCopyAbortsOnUnclaimedUnit(t *testing.T) {
	v := New(0)
	mem := attachWordMemory(t, v)
	mem.fail = 0x4008

	if v.CopyOut(0x4000, make([]byte, 16)) {
		t.Fatalf("CopyOut succeeded across an unbacked word")
	}
	// Units before the failing one stay written.
	want := []memOp{{false, 0x4000}, {false, 0x4004}}
	if !reflect.DeepEqual(mem.ops, want) {
		t.Fatalf("transactions = %+v, want %+v", mem.ops, want)
	}
}

func TestCopyRegionFastPath(t *testing.T) {
	v := New(0)
	mem := attachWordMemory(t, v)
	host := make([]byte, 2*4096)
	v.MemRegion.AddFunc(func(m *msg.MemRegion) bool {
		if m.Page < 0x10 || m.Page >= 0x12 {
			return false
		}
		m.StartPage = 0x10
		m.Count = 2
		m.Ptr = host
		return true
	})

	if !v.CopyOut(0x10ffe, []byte{1, 2, 3, 4}) {
		t.Fatalf("CopyOut failed")
	}
	if !bytes.Equal(host[0xffe:0x1002], []byte{1, 2, 3, 4}) {
		t.Fatalf("host bytes = %x", host[0xffe:0x1002])
	}
	buf := make([]byte, 4)
	if !v.CopyIn(0x10ffe, buf) || !bytes.Equal(buf, []byte{1, 2, 3, 4}) {
		t.Fatalf("CopyIn = %x", buf)
	}
	if len(mem.ops) != 0 {
		t.Fatalf("fast path issued mem transactions: %+v", mem.ops)
	}

	// An access running past the region end falls back to the mem bus.
	if !v.CopyIn(0x11ffc, make([]byte, 8)) {
		t.Fatalf("CopyIn past region end failed")
	}
	if len(mem.ops) != 2 {
		t.Fatalf("transactions = %+v, want two reads", mem.ops)
	}
}

func TestCopyRegionWithoutHostBytes(t *testing.T) {
	v := New(0)
	mem := attachWordMemory(t, v)
	v.MemRegion.AddFunc(func(m *msg.MemRegion) bool {
		m.StartPage = m.Page
		m.Count = 1
		return true
	})
	if !v.CopyIn(0x5000, make([]byte, 4)) {
		t.Fatalf("CopyIn failed")
	}
	if len(mem.ops) != 1 {
		t.Fatalf("transactions = %+v, want one read", mem.ops)
	}
}

func TestParamTableFull(t *testing.T) {
	v := New(0)
	v.shmem.setDst(0, PtrFromLinear(0xf103c))
	for i := 0; i < NumParams; i++ {
		if err := v.AddParam(0x7000+uint64(i)*0x10, 4, true); err != nil {
			t.Fatalf("AddParam %d: %v", i, err)
		}
	}
	slot0 := v.Shmem().Param(0)

	_, ok, err := v.CheckParams(0x9000, 4, true)
	if !errors.Is(err, ErrParamTableFull) || ok {
		t.Fatalf("CheckParams = ok %v err %v, want ErrParamTableFull", ok, err)
	}
	if v.ParamsUsed() != NumParams {
		t.Fatalf("params used = %d", v.ParamsUsed())
	}
	if got := v.Shmem().Param(0); got != slot0 {
		t.Fatalf("slot 0 overwritten: %+v, was %+v", got, slot0)
	}
	if v.CopyIn(0x9000, make([]byte, 4)) {
		t.Fatalf("CopyIn succeeded with a full slot table")
	}
}

func TestParamSizeRejected(t *testing.T) {
	tests := []struct {
		name  string
		count int
		read  bool
	}{
		{"read past slot count", 0x10000, true},
		{"write past slot count", 0x20000, false},
		{"empty read", 0, true},
		{"negative", -4, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := New(0)
			v.shmem.SetParam(0, Param{Count: 52, Src: GuestPtr{Seg: 0x9000, Ofs: 0xffc0}, Dst: GuestPtr{Seg: 0xf000, Ofs: 0x103c}})
			v.SetParamsUsed(1)

			_, ok, err := v.CheckParams(0x20000, tc.count, tc.read)
			if !errors.Is(err, ErrParamSize) || ok {
				t.Fatalf("CheckParams = ok %v err %v, want ErrParamSize", ok, err)
			}
			if v.ParamsUsed() != 1 {
				t.Fatalf("params used = %d, want 1", v.ParamsUsed())
			}
			if p := v.Shmem().Param(1); p != (Param{}) {
				t.Fatalf("slot 1 touched: %+v", p)
			}
		})
	}

	v := New(0)
	v.shmem.setDst(0, PtrFromLinear(0xf103c))
	if err := v.AddParam(0x7000, 0xffff, true); err != nil {
		t.Fatalf("AddParam(0xffff): %v", err)
	}
	if got := v.Shmem().Param(0).Count; got != 0xffff {
		t.Fatalf("slot count = 0x%x", got)
	}
}

func TestCheckParamsReadRedirect(t *testing.T) {
	v := New(0)
	// Slot 0 as set up by the trampoline: 52 bytes of stack frame.
	v.shmem.SetParam(0, Param{Count: 52, Src: GuestPtr{Seg: 0x9000, Ofs: 0xffc0}, Dst: GuestPtr{Seg: 0xf000, Ofs: 0x103c}})
	v.SetParamsUsed(1)

	addr, ok, err := v.CheckParams(0x7c00, 16, true)
	if err != nil || ok || addr != 0x7c00 {
		t.Fatalf("first lookup = 0x%x ok %v err %v", addr, ok, err)
	}
	p := v.Shmem().Param(1)
	if p.Count != 16 || p.Src.Linear() != 0x7c00 || p.Dst.Linear() != 0xf103c+52 {
		t.Fatalf("slot 1 = %+v", p)
	}
	if p.Src != (GuestPtr{Seg: 0x7c0, Ofs: 0}) {
		t.Fatalf("slot 1 src = %+v", p.Src)
	}

	addr, ok, err = v.CheckParams(0x7c00, 16, true)
	if err != nil || !ok || addr != 0xf103c+52 {
		t.Fatalf("second lookup = 0x%x ok %v err %v", addr, ok, err)
	}
	// A different size does not match.
	if _, ok, _ := v.CheckParams(0x7c00, 8, true); ok {
		t.Fatalf("size mismatch matched")
	}
}

func TestCheckParamsWrite(t *testing.T) {
	v := New(0)
	v.shmem.SetParam(0, Param{Count: 52, Src: GuestPtr{Seg: 0x9000, Ofs: 0xffc0}, Dst: GuestPtr{Seg: 0xf000, Ofs: 0x103c}})
	v.SetParamsUsed(1)

	addr, ok, err := v.CheckParams(0x500, 8, false)
	if err != nil || !ok {
		t.Fatalf("CheckParams: ok %v err %v", ok, err)
	}
	if addr != 0xf103c+52 {
		t.Fatalf("scratch = 0x%x", addr)
	}
	p := v.Shmem().Param(1)
	if p.Src.Linear() != addr || p.Dst.Linear() != 0x500 || p.Count != 8 {
		t.Fatalf("slot 1 = %+v", p)
	}
	if v.ShmemPtr() != 0xf103c+52+8 {
		t.Fatalf("shmem ptr = 0x%x", v.ShmemPtr())
	}
}

func TestCheckParamsInactive(t *testing.T) {
	v := New(0)
	addr, ok, err := v.CheckParams(0x1234, 2, true)
	if err != nil || !ok || addr != 0x1234 {
		t.Fatalf("CheckParams = 0x%x ok %v err %v", addr, ok, err)
	}
	if v.ParamsUsed() != 0 {
		t.Fatalf("inactive lookup added a slot")
	}
}

func TestPtrFromLinear(t *testing.T) {
	tests := []struct {
		addr uint64
		want GuestPtr
	}{
		{0x7c00, GuestPtr{0x7c0, 0}},
		{0xf103c, GuestPtr{0xf103, 0xc}},
		{0x9ffff, GuestPtr{0x9fff, 0xf}},
	}
	for _, tc := range tests {
		if got := PtrFromLinear(tc.addr); got != tc.want || got.Linear() != tc.addr {
			t.Fatalf("PtrFromLinear(0x%x) = %+v", tc.addr, got)
		}
	}
}

func TestSetCPUID(t *testing.T) {
	v := New(1)
	var got *msg.Cpu
	v.Executor.AddFunc(func(m *msg.Cpu) bool {
		got = m
		return m.Type == msg.CpuCPUIDWrite
	})
	if !v.SetCPUID(1, 3, 0x1234, 0xff00) {
		t.Fatalf("SetCPUID not claimed")
	}
	if got.Nr != 1 || got.Reg != 3 || got.Mask != 0xffff00ff || got.Value != 0x1200 {
		t.Fatalf("cpuid write = %+v", got)
	}
	if !v.IsAP() {
		t.Fatalf("vcpu 1 is not an AP")
	}
}

func TestInjectCount(t *testing.T) {
	v := New(0)
	v.Inject()
	v.Inject()
	if v.InjCount() != 2 {
		t.Fatalf("inj count = %d", v.InjCount())
	}
}
