package nova

import (
	"errors"
	"math/rand"
	"testing"
)

func TestCrdRoundTrip(t *testing.T) {
	bases := []uint64{0, 0x1000, 0x7654_3000, 0xffff_f000, 0x1_2345_6000}
	for order := uint(0); order < 32; order++ {
		for _, base := range bases {
			for attr := uint(0); attr < 0x20; attr += 5 {
				crd := CrdFromBase(base, order, attr)
				if crd.Base() != base || crd.Order() != order || crd.Attr() != attr {
					t.Fatalf("round trip (0x%x, %d, 0x%x) -> (0x%x, %d, 0x%x)",
						base, order, attr, crd.Base(), crd.Order(), crd.Attr())
				}
			}
		}
	}
}

func TestCrdFields(t *testing.T) {
	crd := NewCrd(0x123, 3, DescMemAll)
	if crd.Cap() != 0x123 {
		t.Fatalf("cap = 0x%x", crd.Cap())
	}
	if crd.Size() != 8<<12 {
		t.Fatalf("size = 0x%x", crd.Size())
	}
	if crd.Type() != DescTypeMem {
		t.Fatalf("type = %d", crd.Type())
	}
	if crd.Rights() != DescRightsAll {
		t.Fatalf("rights = 0x%x", crd.Rights())
	}
	// Attr only covers the low five bits of the ABI.
	if crd.Attr() != DescMemAll&0x1f {
		t.Fatalf("attr = 0x%x", crd.Attr())
	}
}

func TestQpd(t *testing.T) {
	q := NewQpd(2, 10000)
	if q.Prio() != 2 || q.Quantum() != 10000 {
		t.Fatalf("qpd prio=%d quantum=%d", q.Prio(), q.Quantum())
	}
}

func TestMinShift(t *testing.T) {
	tests := []struct {
		start, size uint64
		want        uint
	}{
		{0x1000, 0x3000, 12},
		{0x0, 0x4000, 14},
		{0x4000, 0x100000, 14},
		{0x0, 0x1, 0},
		{0x800, 0x10000, 11},
		{0x0, 0x1_0000_0000, MaxShift},
	}
	for _, tc := range tests {
		if got := MinShift(tc.start, tc.size); got != tc.want {
			t.Fatalf("MinShift(0x%x, 0x%x) = %d, want %d", tc.start, tc.size, got, tc.want)
		}
	}
}

func TestAddMappingsThreePages(t *testing.T) {
	u := NewUtcb()
	left, err := u.AddMappings(0x1000, 0x3000, 0, DescMemAll, WithMaxItems(16))
	if err != nil {
		t.Fatalf("AddMappings: %v", err)
	}
	if left != 0 {
		t.Fatalf("remaining = 0x%x, want 0", left)
	}
	if u.Typed() != 3 {
		t.Fatalf("typed = %d, want 3", u.Typed())
	}
	for i, item := range u.Items() {
		if item.Crd.Order() != 0 {
			t.Fatalf("item %d order = %d", i, item.Crd.Order())
		}
		if want := uint64(0x1000 * (i + 1)); item.Crd.Base() != want {
			t.Fatalf("item %d base = 0x%x, want 0x%x", i, item.Crd.Base(), want)
		}
		if item.Crd.Attr() != DescMemAll&0x1f {
			t.Fatalf("item %d attr = 0x%x", i, item.Crd.Attr())
		}
	}
}

func TestAddMappingsLargestBlockFirst(t *testing.T) {
	u := NewUtcb()
	left, err := u.AddMappings(0x0, 0x7000, 0, DescMemAll)
	if err != nil || left != 0 {
		t.Fatalf("AddMappings: left=0x%x err=%v", left, err)
	}
	want := []uint{2, 1, 0}
	items := u.Items()
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, item := range items {
		if item.Crd.Order() != want[i] {
			t.Fatalf("item %d order = %d, want %d", i, item.Crd.Order(), want[i])
		}
	}
}

func TestAddMappingsDelegateHotspot(t *testing.T) {
	u := NewUtcb()
	hotspot := uint64(0x20000 | MapEPT)
	if _, err := u.AddMappings(0x40000, 0x2000, hotspot, DescMemAll); err != nil {
		t.Fatalf("AddMappings: %v", err)
	}
	items := u.Items()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Hotspot != uint32(hotspot) {
		t.Fatalf("hotspot = 0x%x, want 0x%x", items[0].Hotspot, hotspot)
	}
	if items[0].Crd.Order() != 1 {
		t.Fatalf("order = %d, want 1", items[0].Crd.Order())
	}
}

func TestAddMappingsMaxItems(t *testing.T) {
	u := NewUtcb()
	left, err := u.AddMappings(0x1000, 0x3000, 0, DescMemAll, WithMaxItems(2))
	if err != nil {
		t.Fatalf("AddMappings: %v", err)
	}
	if left != 0x1000 {
		t.Fatalf("remaining = 0x%x, want 0x1000", left)
	}
	if u.Typed() != 2 {
		t.Fatalf("typed = %d, want 2", u.Typed())
	}
}

func TestAddMappingsStopsAtUntypedRegion(t *testing.T) {
	u := NewUtcb()
	u.SetUntyped(MaxDataWords - 4)

	// Room for exactly two items between the untyped words and the end.
	left, err := u.AddMappings(0x1000, 0x3000, 0, DescMemAll)
	if err != nil {
		t.Fatalf("AddMappings: %v", err)
	}
	if left != 0x1000 {
		t.Fatalf("remaining = 0x%x, want 0x1000", left)
	}
	if u.Typed() != 2 {
		t.Fatalf("typed = %d, want 2", u.Typed())
	}
	if u.itemStart() < int(u.Untyped()) {
		t.Fatalf("typed items overlap untyped words")
	}
}

func TestAddMappingsFrameValidation(t *testing.T) {
	u := NewUtcb()
	left, err := u.AddMappings(0x1000, 0x1000*uint64(DefaultMaxItems), 0, DescMemAll, WithFrameValidation())
	if err != nil {
		t.Fatalf("AddMappings: %v", err)
	}
	if left == 0 {
		t.Fatalf("expected a remainder with frame validation")
	}
	if !u.ValidateSendBounds() {
		t.Fatalf("frame validation produced an unsendable buffer (typed=%d)", u.Typed())
	}
}

func TestAddMappingsMisaligned(t *testing.T) {
	u := NewUtcb()
	left, err := u.AddMappings(0x1800, 0x1000, 0, DescMemAll)
	if !errors.Is(err, ErrMisaligned) {
		t.Fatalf("err = %v, want ErrMisaligned", err)
	}
	if left != 0x1000 || u.Typed() != 0 {
		t.Fatalf("misaligned call consumed input: left=0x%x typed=%d", left, u.Typed())
	}
}

func TestAddMappingsAddressRange(t *testing.T) {
	u := NewUtcb()
	if _, err := u.AddMappings(0x1_0000_0000, 0x1000, 0, DescMemAll); !errors.Is(err, ErrAddressRange) {
		t.Fatalf("err = %v, want ErrAddressRange", err)
	}
}

func TestAddMappingsCoversRegion(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 500; iter++ {
		addr := uint64(rng.Intn(1<<18)) << 12
		size := uint64(rng.Intn(1<<10)+1) << 12
		hotspot := uint64(0)
		if rng.Intn(2) == 1 {
			hotspot = uint64(rng.Intn(1<<18))<<12 | MapMap
		}

		var consumed uint64
		cursor := addr
		for pass := 0; size-consumed > 0; pass++ {
			if pass > 1024 {
				t.Fatalf("no progress mapping 0x%x+0x%x", addr, size)
			}
			u := NewUtcb()
			var hs uint64
			if hotspot != 0 {
				hs = hotspot + consumed
			}
			left, err := u.AddMappings(cursor, size-consumed, hs, DescMemAll, WithMaxItems(8))
			if err != nil {
				t.Fatalf("AddMappings: %v", err)
			}
			for _, item := range u.Items() {
				if item.Crd.Base() != cursor {
					t.Fatalf("item base 0x%x, want contiguous 0x%x", item.Crd.Base(), cursor)
				}
				if item.Crd.Base()&(item.Crd.Size()-1) != 0 {
					t.Fatalf("item 0x%x not aligned to its size 0x%x", item.Crd.Base(), item.Crd.Size())
				}
				cursor += item.Crd.Size()
			}
			consumed = size - left
			if cursor != addr+consumed {
				t.Fatalf("items cover 0x%x bytes, remainder says 0x%x", cursor-addr, consumed)
			}
		}
	}
}

func TestResetThenRecvBounds(t *testing.T) {
	u := NewUtcb()
	u.SetUntyped(7)
	u.SetWord(StackStart, 0xdead)
	if _, err := u.AddMappings(0x1000, 0x1000, 0, DescMemAll); err != nil {
		t.Fatalf("AddMappings: %v", err)
	}
	u.Reset()
	if !u.ValidateRecvBounds() {
		t.Fatalf("reset buffer failed recv bounds")
	}
	if u.Untyped() != 0 || u.Typed() != 0 {
		t.Fatalf("reset left untyped=%d typed=%d", u.Untyped(), u.Typed())
	}
}

func TestRecvBoundsDirtyStackSlot(t *testing.T) {
	u := NewUtcb()
	u.SetWord(StackStart, 1)
	if !u.ValidateSendBounds() {
		t.Fatalf("send bounds should ignore the stack slot")
	}
	if u.ValidateRecvBounds() {
		t.Fatalf("recv bounds accepted a dirty stack slot")
	}
}

func TestBoundsLimits(t *testing.T) {
	tests := []struct {
		name           string
		untyped, typed uint
		ok             bool
	}{
		{"empty", 0, 0, true},
		{"untyped at limit", MaxFrameWords - HeaderWords - 1, 0, true},
		{"frame too large", MaxFrameWords - HeaderWords, 0, false},
		{"untyped past stack", StackStart + 1, 0, false},
		{"typed words too large", 0, MaxFrameWords/2 + 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := NewUtcb()
			u.SetUntyped(tc.untyped)
			u.setTyped(tc.typed)
			if got := u.ValidateSendBounds(); got != tc.ok {
				t.Fatalf("ValidateSendBounds = %v, want %v (frame words %d)", got, tc.ok, u.FrameWords())
			}
			if got := u.ValidateRecvBounds(); got != tc.ok {
				t.Fatalf("ValidateRecvBounds = %v, want %v", got, tc.ok)
			}
		})
	}
}

func TestAppendUntyped(t *testing.T) {
	u := NewUtcb()
	for i := 0; i < StackStart; i++ {
		if !u.AppendUntyped(uint32(i)) {
			t.Fatalf("append %d failed", i)
		}
	}
	if u.AppendUntyped(0) {
		t.Fatalf("append past the stack slot succeeded")
	}
	if u.Word(10) != 10 {
		t.Fatalf("word 10 = %d", u.Word(10))
	}
}

func TestRegsAliasUtcb(t *testing.T) {
	u := NewUtcb()
	regs := u.Regs()
	regs.SetEAX(0x12345678)
	regs.SetAH(0xab)
	if u.Word(offGPR/4) != 0x1234ab78 {
		t.Fatalf("eax word = 0x%x", u.Word(offGPR/4))
	}
	regs.SetRealModeSeg(SegCS, 0xf000)
	if cs := regs.Seg(SegCS); cs.Base != 0xf0000 || cs.Sel != 0xf000 {
		t.Fatalf("cs = %+v", cs)
	}
	if CpuStateSize != 464 {
		t.Fatalf("register snapshot size = %d", CpuStateSize)
	}
}
