package msg

import (
	"encoding/binary"

	"github.com/tinyrange/vcore/internal/bus"
)

type DiscoveryType uint8

const (
	// DiscoveryStart is broadcast once after all models are constructed.
	DiscoveryStart DiscoveryType = iota
	// DiscoveryWrite stores Data at Offset into the named low-memory
	// resource.
	DiscoveryWrite
	// DiscoveryLayout asks the memory model to list its named resources
	// in Resources.
	DiscoveryLayout
)

// Resource is a named range of guest physical memory.
type Resource struct {
	Name string
	Base uint64
	Size uint64
}

// Discovery is sent on the best-effort discovery bus. Models answer a
// DiscoveryStart by publishing DiscoveryWrite messages of their own.
type Discovery struct {
	Type      DiscoveryType
	Resource  string
	Offset    uint32
	Data      []byte
	Resources []Resource
}

func (Discovery) Kind() bus.Kind { return bus.KindDiscovery }

// DiscoveryWriteDW publishes a 32-bit little-endian value.
func DiscoveryWriteDW(b *bus.Bus[Discovery], resource string, offset, value uint32) bool {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], value)
	return b.Send(&Discovery{Type: DiscoveryWrite, Resource: resource, Offset: offset, Data: data[:]})
}

// DiscoveryWriteST publishes a byte string.
func DiscoveryWriteST(b *bus.Bus[Discovery], resource string, offset uint32, data []byte) bool {
	return b.Send(&Discovery{Type: DiscoveryWrite, Resource: resource, Offset: offset, Data: data})
}

// DiscoveryWriteB publishes a single byte.
func DiscoveryWriteB(b *bus.Bus[Discovery], resource string, offset uint32, value byte) bool {
	return DiscoveryWriteST(b, resource, offset, []byte{value})
}
