// Package pager answers guest memory faults that arrive as messages from
// across the privilege boundary.
//
// The fault message carries the faulting guest physical address in its
// first untyped word. The reply replaces it with typed items that map the
// backing host memory into the guest.
package pager

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/nova"
)

var (
	// ErrProtocol means the received buffer cannot be interpreted.
	ErrProtocol = errors.New("pager: malformed fault message")
	// ErrUnbacked means no model backs the faulting address.
	ErrUnbacked = errors.New("pager: guest address not backed by memory")
)

const pageShift = 12

// Pager resolves faults through the motherboard memregion bus. Guest
// physical address 0 is visible at hostBase in the VMM address space.
type Pager struct {
	mb       *motherboard.Motherboard
	hostBase uint64
	opts     []nova.MappingOption
	log      *slog.Logger
}

func New(mb *motherboard.Motherboard, hostBase uint64, opts ...nova.MappingOption) *Pager {
	return &Pager{mb: mb, hostBase: hostBase, opts: opts, log: mb.Logger("pager")}
}

// HandleFault turns the fault in u into its reply. The faulting page is
// always the first typed item; the rest of the backing region follows as
// far as the buffer allows. remaining is the part of the region that did
// not fit, which is not an error.
func (p *Pager) HandleFault(u *nova.Utcb) (remaining uint64, err error) {
	if !u.ValidateRecvBounds() || u.Untyped() < 1 {
		return 0, fmt.Errorf("%w: untyped %d typed %d", ErrProtocol, u.Untyped(), u.Typed())
	}
	phys := uint64(u.Word(0))
	page := phys >> pageShift

	region := msg.NewMemRegion(page)
	if !p.mb.MemRegion.Send(region) || region.Ptr == nil {
		return 0, fmt.Errorf("%w: 0x%x", ErrUnbacked, phys)
	}

	u.Reset()
	start := page << pageShift
	size := (region.StartPage+region.Count)<<pageShift - start
	remaining, err = u.AddMappings(p.hostBase+start, size, start|nova.MapEPT, nova.DescMemAll, p.opts...)
	if err != nil {
		return remaining, fmt.Errorf("pager: map 0x%x: %w", phys, err)
	}
	p.log.Debug("pager: fault resolved", "phys", phys, "items", u.Typed(), "remaining", remaining)
	return remaining, nil
}
