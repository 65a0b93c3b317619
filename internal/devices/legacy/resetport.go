package legacy

import (
	"fmt"
	"sync"

	"github.com/tinyrange/vcore/internal/chipset"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/params"
)

const (
	DefaultResetPort = 0x10
	// The reset control register treats bit 1 as the reset trigger.
	DefaultResetMask = 0x02
)

// ResetPort emulates a reset control register. A write with any bit of
// the mask set requests a system reset on the legacy bus.
type ResetPort struct {
	mb   *motherboard.Motherboard
	port uint16
	mask byte

	mu   sync.Mutex
	last byte
}

func NewResetPort(mb *motherboard.Motherboard, port uint16, mask byte) *ResetPort {
	return &ResetPort{mb: mb, port: port, mask: mask}
}

func (p *ResetPort) SupportsPortIO() *chipset.PortIOIntercept {
	return &chipset.PortIOIntercept{Ports: []uint16{p.port}, Handler: p}
}

func (p *ResetPort) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = 0
	return nil
}

func (p *ResetPort) ReadIOPort(port uint16, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range data {
		data[i] = p.last
	}
	return nil
}

func (p *ResetPort) WriteIOPort(port uint16, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("reset control: empty write")
	}

	p.mu.Lock()
	p.last = data[0]
	p.mu.Unlock()

	if data[0]&p.mask == 0 {
		return nil
	}
	sendLegacy(p.mb, msg.LegacyReset, uint32(data[0]))
	return nil
}

var _ chipset.Device = (*ResetPort)(nil)

// RegisterResetPort adds the "resetport" model.
func RegisterResetPort(reg *params.Registry) {
	reg.MustRegister("resetport", func(mb *motherboard.Motherboard, argv []uint64, _ string) error {
		port, mask := uint64(DefaultResetPort), uint64(DefaultResetMask)
		if argv[0] != params.Unset {
			port = argv[0]
		}
		if argv[1] != params.Unset {
			mask = argv[1]
		}
		if port > 0xffff || mask == 0 || mask > 0xff {
			return fmt.Errorf("resetport: invalid port 0x%x or mask 0x%x", port, mask)
		}
		return attach(mb, fmt.Sprintf("resetport@%#x", port), NewResetPort(mb, uint16(port), byte(mask)))
	}, "resetport:port=0x10,mask=0x2 - reset control register.",
		"Example: 'resetport:0xcf9,0x4' for the PCI reset control register.")
}
