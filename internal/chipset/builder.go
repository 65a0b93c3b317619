package chipset

import "fmt"

// Builder registers devices and their ports before creating a Chipset.
type Builder struct {
	devices map[string]Device
	pio     map[uint16]PortIOHandler
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		devices: make(map[string]Device),
		pio:     make(map[uint16]PortIOHandler),
	}
}

// RegisterDevice adds a device and records its ports. Port conflicts
// with earlier devices are errors.
func (b *Builder) RegisterDevice(name string, dev Device) error {
	if name == "" {
		return fmt.Errorf("chipset: device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("chipset: device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("chipset: device %q already registered", name)
	}

	if intercept := dev.SupportsPortIO(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("chipset: device %q provided I/O ports with nil handler", name)
		}
		for _, port := range intercept.Ports {
			if err := b.WithPioPort(port, intercept.Handler); err != nil {
				return fmt.Errorf("chipset: device %q: %w", name, err)
			}
		}
	}

	b.devices[name] = dev
	return nil
}

// WithPioPort registers a single I/O port handler.
func (b *Builder) WithPioPort(port uint16, handler PortIOHandler) error {
	if handler == nil {
		return fmt.Errorf("handler for port 0x%x is nil", port)
	}
	if _, exists := b.pio[port]; exists {
		return fmt.Errorf("port 0x%x already registered", port)
	}
	b.pio[port] = handler
	return nil
}

// Build returns the dispatch tables. The builder may be reused.
func (b *Builder) Build() *Chipset {
	c := &Chipset{
		devices: make(map[string]Device, len(b.devices)),
		pio:     make(map[uint16]PortIOHandler, len(b.pio)),
	}
	for name, dev := range b.devices {
		c.devices[name] = dev
	}
	for port, handler := range b.pio {
		c.pio[port] = handler
	}
	return c
}
