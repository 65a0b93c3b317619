package legacy

import (
	"fmt"
	"sync"

	"github.com/tinyrange/vcore/internal/chipset"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/params"
)

const systemControlPortA = 0x92

const (
	port92FastReset = 1 << 0
	port92A20       = 1 << 1
)

// Port92 implements system control port A: bit 0 pulses a fast reset,
// bit 1 drives the A20 gate.
type Port92 struct {
	mb *motherboard.Motherboard

	mu  sync.Mutex
	a20 bool
}

func NewPort92(mb *motherboard.Motherboard) *Port92 {
	return &Port92{mb: mb}
}

func (p *Port92) SupportsPortIO() *chipset.PortIOIntercept {
	return &chipset.PortIOIntercept{Ports: []uint16{systemControlPortA}, Handler: p}
}

func (p *Port92) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.a20 = false
	return nil
}

func (p *Port92) ReadIOPort(port uint16, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var val byte
	if p.a20 {
		val |= port92A20
	}
	for i := range data {
		data[i] = val
	}
	return nil
}

func (p *Port92) WriteIOPort(port uint16, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("port92: empty write")
	}
	val := data[0]
	a20 := val&port92A20 != 0

	// A reset request re-enters Reset; send without holding mu.
	p.mu.Lock()
	changed := a20 != p.a20
	p.a20 = a20
	p.mu.Unlock()

	if changed {
		var level uint32
		if a20 {
			level = 1
		}
		sendLegacy(p.mb, msg.LegacyFastA20, level)
	}
	if val&port92FastReset != 0 {
		sendLegacy(p.mb, msg.LegacyReset, uint32(val))
	}
	return nil
}

var _ chipset.Device = (*Port92)(nil)

// RegisterPort92 adds the "port92" model.
func RegisterPort92(reg *params.Registry) {
	reg.MustRegister("port92", func(mb *motherboard.Motherboard, _ []uint64, _ string) error {
		return attach(mb, "port92", NewPort92(mb))
	}, "port92 - system control port A with fast A20 gate and fast reset.")
}
