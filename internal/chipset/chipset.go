// Package chipset attaches port I/O device models to the motherboard
// buses.
package chipset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
)

var ErrNoHandler = errors.New("chipset: no handler")

// Chipset holds the dispatch tables built by a Builder.
type Chipset struct {
	devices map[string]Device
	pio     map[uint16]PortIOHandler
}

// Reset resets all registered devices in name order.
func (c *Chipset) Reset() error {
	for _, name := range c.deviceNames() {
		if err := c.devices[name].Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// HandlePIO dispatches an I/O port access to the registered device.
func (c *Chipset) HandlePIO(port uint16, data []byte, isWrite bool) error {
	handler, ok := c.pio[port]
	if !ok {
		return fmt.Errorf("%w for I/O port 0x%04x", ErrNoHandler, port)
	}
	if isWrite {
		return handler.WriteIOPort(port, data)
	}
	return handler.ReadIOPort(port, data)
}

// Attach subscribes the chipset to the port I/O buses and to the legacy
// bus. A port access is claimed when a device is registered for it, even
// if the device reports an error; the error is logged. A system reset
// request resets every device.
func (c *Chipset) Attach(mb *motherboard.Motherboard) {
	mb.IOIn.Add(c, c.receiveIOIn)
	mb.IOOut.Add(c, c.receiveIOOut)
	mb.Legacy.Add(c, c.receiveLegacy)
}

func (c *Chipset) receiveIOIn(m *msg.IOIn) bool {
	if _, ok := c.pio[m.Port]; !ok {
		return false
	}
	width := m.Type.Bytes()
	if m.Count > 0 {
		for i := 0; i < int(m.Count) && (i+1)*width <= len(m.Ptr); i++ {
			c.logPIO(m.Port, c.HandlePIO(m.Port, m.Ptr[i*width:(i+1)*width], false))
		}
		return true
	}
	var data [4]byte
	c.logPIO(m.Port, c.HandlePIO(m.Port, data[:width], false))
	value := binary.LittleEndian.Uint32(data[:])
	mask := uint32(1)<<(8*width) - 1
	m.Value = m.Value&^mask | value&mask
	return true
}

func (c *Chipset) receiveIOOut(m *msg.IOOut) bool {
	if _, ok := c.pio[m.Port]; !ok {
		return false
	}
	width := m.Type.Bytes()
	if m.Count > 0 {
		for i := 0; i < int(m.Count) && (i+1)*width <= len(m.Ptr); i++ {
			c.logPIO(m.Port, c.HandlePIO(m.Port, m.Ptr[i*width:(i+1)*width], true))
		}
		return true
	}
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], m.Value)
	c.logPIO(m.Port, c.HandlePIO(m.Port, data[:width], true))
	return true
}

// receiveLegacy never claims: every attached chipset has to see a reset.
func (c *Chipset) receiveLegacy(m *msg.Legacy) bool {
	if m.Type != msg.LegacyReset {
		return false
	}
	if err := c.Reset(); err != nil {
		slog.Error("chipset: system reset", "error", err)
	}
	return false
}

func (c *Chipset) logPIO(port uint16, err error) {
	if err != nil {
		slog.Error("chipset: port io", "port", port, "error", err)
	}
}

func (c *Chipset) deviceNames() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
