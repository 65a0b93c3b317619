// Package legacy models the small PC glue devices: the reset control
// registers, system control port A, the CMOS and the debug console.
package legacy

import (
	"github.com/tinyrange/vcore/internal/chipset"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
)

// attach connects a single port device to the I/O buses.
func attach(mb *motherboard.Motherboard, name string, dev chipset.Device) error {
	b := chipset.NewBuilder()
	if err := b.RegisterDevice(name, dev); err != nil {
		return err
	}
	b.Build().Attach(mb)
	return nil
}

func sendLegacy(mb *motherboard.Motherboard, t msg.LegacyType, value uint32) {
	mb.Legacy.Send(&msg.Legacy{Type: t, Value: value})
}
