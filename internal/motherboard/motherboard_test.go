package motherboard

import (
	"errors"
	"testing"

	"github.com/tinyrange/vcore/internal/msg"
)

func TestVCPUIdentity(t *testing.T) {
	mb := New()
	if mb.LastVCPU() != nil {
		t.Fatalf("empty board has a last VCPU")
	}
	bsp := mb.NewVCPU()
	ap := mb.NewVCPU()

	if bsp.ID() != 0 || ap.ID() != 1 {
		t.Fatalf("ids = %d, %d", bsp.ID(), ap.ID())
	}
	if mb.LastVCPU() != ap || mb.VCPU(0) != bsp || mb.VCPU(2) != nil {
		t.Fatalf("VCPU lookup broken")
	}
	if mb.IsAP(0) || !mb.IsAP(1) || mb.IsAP(2) {
		t.Fatalf("IsAP wrong")
	}
	if len(mb.VCPUs()) != 2 {
		t.Fatalf("vcpus = %d", len(mb.VCPUs()))
	}
}

func TestVCPUMemoryForwarding(t *testing.T) {
	mb := New()
	v := mb.NewVCPU()

	var seen []string
	mb.Mem.AddFunc(func(m *msg.Mem) bool {
		seen = append(seen, "global")
		*m.Value = 0x11223344
		return true
	})
	// Added after the VCPU was created, still consulted first.
	v.Mem.AddFunc(func(m *msg.Mem) bool {
		seen = append(seen, "local")
		return m.Phys == 0xf1000
	})

	buf := make([]byte, 4)
	if !v.CopyIn(0x8000, buf) {
		t.Fatalf("CopyIn failed")
	}
	if buf[0] != 0x44 || buf[3] != 0x11 {
		t.Fatalf("buf = %x", buf)
	}
	if len(seen) != 2 || seen[0] != "local" || seen[1] != "global" {
		t.Fatalf("dispatch = %v", seen)
	}

	seen = nil
	v.CopyIn(0xf1000, buf)
	if len(seen) != 1 {
		t.Fatalf("local claim was forwarded: %v", seen)
	}
}

func TestDiscoverWithoutModels(t *testing.T) {
	mb := New()
	if mb.Discover() {
		t.Fatalf("discovery claimed with no models")
	}
	if st := mb.Discovery.Stats(); st.Unclaimed != 0 {
		t.Fatalf("best-effort bus counted unclaimed: %+v", st)
	}
}

type closer struct {
	order *[]int
	id    int
	err   error
}

func (c closer) Close() error {
	*c.order = append(*c.order, c.id)
	return c.err
}

func TestCloseReverseOrder(t *testing.T) {
	mb := New()
	var order []int
	boom := errors.New("boom")
	mb.AddCloser(closer{&order, 1, nil})
	mb.AddCloser(closer{&order, 2, boom})

	if err := mb.Close(); !errors.Is(err, boom) {
		t.Fatalf("Close = %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("close order = %v", order)
	}
}

func TestBusesIncludeVCPUs(t *testing.T) {
	mb := New()
	mb.NewVCPU()
	infos := mb.Buses()
	if len(infos) != 8+5 {
		t.Fatalf("buses = %d", len(infos))
	}
	if infos[0].Name() != "discovery" || infos[8].Name() != "vcpu0 executor" {
		t.Fatalf("names = %q, %q", infos[0].Name(), infos[8].Name())
	}
}

func TestPanic(t *testing.T) {
	mb := New()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("Panic returned")
		}
	}()
	mb.Panic("vbios: cannot copy iret frame at 0x%x", 0x7bfa)
}
