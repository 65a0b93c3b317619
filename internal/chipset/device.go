package chipset

// PortIOHandler handles reads and writes to individual I/O ports. data
// holds 1, 2 or 4 bytes in little-endian order.
type PortIOHandler interface {
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// PortIOIntercept describes the ports a device wants to serve and the handler for them.
type PortIOIntercept struct {
	Ports   []uint16
	Handler PortIOHandler
}

// Device is implemented by every model attached through the chipset.
// The intercept may be nil for devices without ports.
type Device interface {
	SupportsPortIO() *PortIOIntercept
	Reset() error
}
