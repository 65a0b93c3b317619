package pager

import (
	"errors"
	"testing"

	"github.com/tinyrange/vcore/internal/devices/ram"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/nova"
)

const hostBase = 0x4000_0000

func newBoard(t *testing.T) *motherboard.Motherboard {
	t.Helper()
	mb := motherboard.New()
	r, err := ram.New(2<<20, nil)
	if err != nil {
		t.Fatalf("ram.New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	r.Attach(mb)
	return mb
}

func faultMessage(phys uint32) *nova.Utcb {
	u := nova.NewUtcb()
	u.AppendUntyped(phys)
	return u
}

func TestHandleFault(t *testing.T) {
	p := New(newBoard(t), hostBase)
	u := faultMessage(0x1234)

	left, err := p.HandleFault(u)
	if err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if left != 0 {
		t.Fatalf("remaining = 0x%x", left)
	}
	if u.Untyped() != 0 {
		t.Fatalf("untyped = %d, reply must only carry items", u.Untyped())
	}
	if !u.ValidateSendBounds() {
		t.Fatalf("reply violates send bounds")
	}

	items := u.Items()
	if len(items) == 0 {
		t.Fatalf("no items")
	}
	if items[0].Crd.Base() != hostBase+0x1000 || items[0].Hotspot != 0x1000|nova.MapEPT {
		t.Fatalf("first item base 0x%x hotspot 0x%x", items[0].Crd.Base(), items[0].Hotspot)
	}
	next := uint64(hostBase + 0x1000)
	for i, item := range items {
		if item.Crd.Base() != next {
			t.Fatalf("item %d base 0x%x, want 0x%x", i, item.Crd.Base(), next)
		}
		if uint64(item.Hotspot)&^0xfff != next-hostBase {
			t.Fatalf("item %d hotspot 0x%x", i, item.Hotspot)
		}
		if item.Crd.Type() != nova.DescTypeMem {
			t.Fatalf("item %d type %d", i, item.Crd.Type())
		}
		next += item.Crd.Size()
	}
	if next != hostBase+2<<20 {
		t.Fatalf("items end at 0x%x", next)
	}
}

func TestHandleFaultPartial(t *testing.T) {
	p := New(newBoard(t), hostBase, nova.WithMaxItems(2))
	u := faultMessage(0x1000)
	left, err := p.HandleFault(u)
	if err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if u.Typed() != 2 {
		t.Fatalf("typed = %d", u.Typed())
	}
	// 0x1000 and 0x2000-0x4000 fit, the rest of the 2 MiB does not.
	if left != 2<<20-0x4000 {
		t.Fatalf("remaining = 0x%x", left)
	}
}

func TestHandleFaultProtocol(t *testing.T) {
	p := New(newBoard(t), hostBase)

	dirty := faultMessage(0x1000)
	dirty.SetWord(nova.StackStart, 1)
	empty := nova.NewUtcb()

	for name, u := range map[string]*nova.Utcb{"dirty stack slot": dirty, "no fault address": empty} {
		if _, err := p.HandleFault(u); !errors.Is(err, ErrProtocol) {
			t.Fatalf("%s: err = %v, want ErrProtocol", name, err)
		}
	}
	if dirty.Untyped() != 1 || dirty.Word(0) != 0x1000 {
		t.Fatalf("rejected message was modified")
	}
}

func TestHandleFaultUnbacked(t *testing.T) {
	mb := newBoard(t)
	// A device window that exists but has no host bytes.
	mb.MemRegion.AddFunc(func(m *msg.MemRegion) bool {
		if m.Page != 0xfee00 {
			return false
		}
		m.StartPage, m.Count = m.Page, 1
		return true
	})
	p := New(mb, hostBase)
	for _, phys := range []uint32{0x300000, 0xfee00000} {
		if _, err := p.HandleFault(faultMessage(phys)); !errors.Is(err, ErrUnbacked) {
			t.Fatalf("fault at 0x%x: err = %v, want ErrUnbacked", phys, err)
		}
	}
}

func TestHandleFaultAddressRange(t *testing.T) {
	p := New(newBoard(t), 0xffff_0000_0000)
	if _, err := p.HandleFault(faultMessage(0x1000)); !errors.Is(err, nova.ErrAddressRange) {
		t.Fatalf("err = %v, want ErrAddressRange", err)
	}
}
