package msg

import (
	"github.com/tinyrange/vcore/internal/bus"
	"github.com/tinyrange/vcore/internal/nova"
)

// GuestMemory copies between host buffers and guest linear memory as seen
// by one VCPU. A false return means the access did not complete.
type GuestMemory interface {
	CopyIn(addr uint64, buf []byte) bool
	CopyOut(addr uint64, buf []byte) bool
}

// Bios asks the BIOS service models to handle software interrupt IRQ for a
// VCPU. Handlers update CPU and add the registers they touched to MtrOut.
type Bios struct {
	VCPU   GuestMemory
	CPU    *nova.CpuState
	IRQ    uint32
	MtrOut uint64
}

func (Bios) Kind() bus.Kind { return bus.KindBios }
