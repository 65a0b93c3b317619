// Package motherboard wires device models together. It owns the machine
// wide buses and the virtual CPUs.
package motherboard

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/vcore/internal/bus"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/vcpu"
)

// Motherboard holds the global buses. Models subscribe while the machine is
// built; afterwards the subscriber lists are not changed. Discovery and
// Legacy are broadcasts: their listeners do not claim.
type Motherboard struct {
	Discovery *bus.Bus[msg.Discovery]
	Bios      *bus.Bus[msg.Bios]
	Mem       *bus.Bus[msg.Mem]
	MemRegion *bus.Bus[msg.MemRegion]
	IOIn      *bus.Bus[msg.IOIn]
	IOOut     *bus.Bus[msg.IOOut]
	Irq       *bus.Bus[msg.Irq]
	Legacy    *bus.Bus[msg.Legacy]

	vcpus   []*vcpu.VCPU
	logger  *slog.Logger
	closers []io.Closer
}

type Option func(*Motherboard)

// WithLogger sets the logger handed to device models.
func WithLogger(l *slog.Logger) Option {
	return func(mb *Motherboard) { mb.logger = l }
}

func New(opts ...Option) *Motherboard {
	mb := &Motherboard{
		Discovery: bus.New[msg.Discovery]("discovery", bus.WithBestEffort()),
		Bios:      bus.New[msg.Bios]("bios"),
		Mem:       bus.New[msg.Mem]("mem"),
		MemRegion: bus.New[msg.MemRegion]("memregion"),
		IOIn:      bus.New[msg.IOIn]("io-in"),
		IOOut:     bus.New[msg.IOOut]("io-out"),
		Irq:       bus.New[msg.Irq]("irq"),
		Legacy:    bus.New[msg.Legacy]("legacy", bus.WithBestEffort()),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(mb)
	}
	return mb
}

// Logger returns the logger for component, e.g. "vbios".
func (mb *Motherboard) Logger(component string) *slog.Logger {
	return mb.logger.With("component", component)
}

// NewVCPU creates the next virtual CPU. Memory transactions that no model
// on the VCPU buses claims are forwarded to the global buses.
func (mb *Motherboard) NewVCPU() *vcpu.VCPU {
	v := vcpu.New(len(mb.vcpus))
	v.Mem.SetFallback(mb.Mem.Send)
	v.MemRegion.SetFallback(mb.MemRegion.Send)
	mb.vcpus = append(mb.vcpus, v)
	return v
}

// VCPU returns the VCPU with logical id, or nil.
func (mb *Motherboard) VCPU(id int) *vcpu.VCPU {
	if id < 0 || id >= len(mb.vcpus) {
		return nil
	}
	return mb.vcpus[id]
}

func (mb *Motherboard) VCPUs() []*vcpu.VCPU { return mb.vcpus }

// LastVCPU returns the most recently created VCPU, or nil. Per-CPU models
// attach to it.
func (mb *Motherboard) LastVCPU() *vcpu.VCPU {
	if len(mb.vcpus) == 0 {
		return nil
	}
	return mb.vcpus[len(mb.vcpus)-1]
}

// IsAP reports whether id names an application processor. The first VCPU
// is the bootstrap processor.
func (mb *Motherboard) IsAP(id int) bool {
	return id > 0 && id < len(mb.vcpus)
}

// Discover broadcasts the discovery request. It reports whether any model
// claimed it; nobody claiming is not an error.
func (mb *Motherboard) Discover() bool {
	return mb.Discovery.Send(&msg.Discovery{Type: msg.DiscoveryStart})
}

// AddCloser registers a resource released by Close.
func (mb *Motherboard) AddCloser(c io.Closer) {
	mb.closers = append(mb.closers, c)
}

// Close releases model resources in reverse registration order.
func (mb *Motherboard) Close() error {
	var errs []error
	for i := len(mb.closers) - 1; i >= 0; i-- {
		if err := mb.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	mb.closers = nil
	return errors.Join(errs...)
}

// Panic stops emulation after an unrecoverable protocol violation.
func (mb *Motherboard) Panic(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	mb.logger.Error("motherboard: panic", "error", err)
	panic(err)
}

// Buses lists the global buses followed by the buses of every VCPU.
func (mb *Motherboard) Buses() []bus.Info {
	infos := []bus.Info{
		mb.Discovery, mb.Bios, mb.Mem, mb.MemRegion,
		mb.IOIn, mb.IOOut, mb.Irq, mb.Legacy,
	}
	for _, v := range mb.vcpus {
		infos = append(infos, v.Executor, v.Event, v.Lapic, v.Mem, v.MemRegion)
	}
	return infos
}
