package biosmem

import (
	"testing"

	"github.com/tinyrange/vcore/internal/devices/ram"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/nova"
	"github.com/tinyrange/vcore/internal/params"
)

func newBoard(t *testing.T, ramSize uint64) *motherboard.Motherboard {
	t.Helper()
	mb := motherboard.New()
	if ramSize > 0 {
		r, err := ram.New(ramSize, nil)
		if err != nil {
			t.Fatalf("ram.New: %v", err)
		}
		t.Cleanup(func() { r.Close() })
		r.Attach(mb)
	}
	New(mb).Attach()
	mb.Discover()
	return mb
}

func call(mb *motherboard.Motherboard, irq uint32, ax uint16) (*msg.Bios, bool) {
	cpu := nova.NewCpuState()
	cpu.SetAX(ax)
	cpu.SetEFL(0x0202)
	m := &msg.Bios{VCPU: mb.NewVCPU(), CPU: cpu, IRQ: irq}
	return m, mb.Bios.Send(m)
}

func TestConventionalMemory(t *testing.T) {
	mb := newBoard(t, 2<<20)
	m, ok := call(mb, 0x12, 0)
	if !ok {
		t.Fatalf("INT 0x12 not claimed")
	}
	if m.CPU.AX() != 639 {
		t.Fatalf("ax = %d, want 639", m.CPU.AX())
	}
	if m.MtrOut&nova.MtdGprACDB == 0 {
		t.Fatalf("mtr out = 0x%x", m.MtrOut)
	}
}

func TestExtendedMemory(t *testing.T) {
	tests := []struct {
		name    string
		ramSize uint64
		want    uint16
	}{
		{"4 MiB", 4 << 20, 3072},
		{"above 64 MiB", 128 << 20, 0xfc00},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mb := newBoard(t, tc.ramSize)
			m, ok := call(mb, 0x15, 0x8800)
			if !ok {
				t.Fatalf("INT 0x15 AH=0x88 not claimed")
			}
			if m.CPU.AX() != tc.want {
				t.Fatalf("ax = 0x%x, want 0x%x", m.CPU.AX(), tc.want)
			}
			if m.CPU.EFL()&nova.FlagCarry != 0 {
				t.Fatalf("carry set on success")
			}
		})
	}
}

func TestExtendedMemoryUnbacked(t *testing.T) {
	mb := newBoard(t, 0)
	m, ok := call(mb, 0x15, 0x8800)
	if !ok {
		t.Fatalf("INT 0x15 AH=0x88 not claimed")
	}
	if m.CPU.EFL()&nova.FlagCarry == 0 || m.CPU.AH() != errUnsupported {
		t.Fatalf("efl = 0x%x ah = 0x%x, want carry and 0x86", m.CPU.EFL(), m.CPU.AH())
	}
}

func TestOtherCallsUnclaimed(t *testing.T) {
	mb := newBoard(t, 2<<20)
	for _, tc := range []struct {
		irq uint32
		ax  uint16
	}{
		{0x15, 0xe820},
		{0x15, 0x8700},
		{0x13, 0},
		{0x100, 0},
	} {
		if _, ok := call(mb, tc.irq, tc.ax); ok {
			t.Fatalf("INT 0x%x AX=0x%x claimed", tc.irq, tc.ax)
		}
	}
}

func TestRegister(t *testing.T) {
	reg := params.NewRegistry()
	Register(reg)
	mb := motherboard.New()
	if err := reg.Run(mb, "biosmem"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mb.Bios.Count() != 1 {
		t.Fatalf("bios subscribers = %d", mb.Bios.Count())
	}
}
