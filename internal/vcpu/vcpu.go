// Package vcpu implements the device-side handle of a virtual CPU: its
// private buses and the bridge that lets device models reach guest memory.
package vcpu

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyrange/vcore/internal/bus"
	"github.com/tinyrange/vcore/internal/msg"
)

// Event bits delivered on the Event bus. The SIPI vector lives in bits
// 8-15.
const (
	EventIntr   = 1 << 0
	EventFixed  = 1 << 0
	EventLowest = 1 << 1
	EventSMI    = 1 << 2
	EventRRD    = 1 << 3
	EventReset  = 1 << 3
	EventNMI    = 1 << 4
	EventInit   = 1 << 5
	EventSIPI   = 1 << 6
	EventExtInt = 1 << 7
	EventMask   = 0xff
	DeassIntr   = 1 << 16
	EventDebug  = 1 << 17
	StateBlock  = 1 << 18
	StateWakeup = 1 << 19
	EventHost   = 1 << 20
	EventResume = 1 << 21
)

// VCPU is owned by one emulation thread. Its buses, shared memory and
// parameter slots are never touched by other VCPUs.
type VCPU struct {
	id int

	Executor  *bus.Bus[msg.Cpu]
	Event     *bus.Bus[msg.CpuEvent]
	Lapic     *bus.Bus[msg.LapicEvent]
	Mem       *bus.Bus[msg.Mem]
	MemRegion *bus.Bus[msg.MemRegion]

	shmem      Shmem
	paramsUsed int

	injCount atomic.Uint64
}

// New returns a VCPU with logical id and empty buses.
func New(id int) *VCPU {
	name := func(bus string) string { return fmt.Sprintf("vcpu%d %s", id, bus) }
	return &VCPU{
		id:        id,
		Executor:  bus.New[msg.Cpu](name("executor")),
		Event:     bus.New[msg.CpuEvent](name("event")),
		Lapic:     bus.New[msg.LapicEvent](name("lapic")),
		Mem:       bus.New[msg.Mem](name("mem")),
		MemRegion: bus.New[msg.MemRegion](name("memregion")),
	}
}

func (v *VCPU) ID() int { return v.id }

// IsAP reports whether this is an application processor.
func (v *VCPU) IsAP() bool { return v.id != 0 }

// SetCPUID changes the bits selected by mask of CPUID leaf nr, register
// reg. It reports whether an executor model accepted the change.
func (v *VCPU) SetCPUID(nr, reg, value, mask uint32) bool {
	return v.Executor.Send(msg.NewCPUIDWrite(nr, reg, ^mask, value&mask))
}

// InjCount returns the number of events injected so far.
func (v *VCPU) InjCount() uint64 { return v.injCount.Load() }

// Inject records one injected event.
func (v *VCPU) Inject() uint64 { return v.injCount.Add(1) }
