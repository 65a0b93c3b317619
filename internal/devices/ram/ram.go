// Package ram models host-backed guest RAM starting at physical address 0.
package ram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/nova"
	"github.com/tinyrange/vcore/internal/params"
)

const pageSize = 0x1000

// BDA offset of the conventional memory size in KiB.
const bdaBaseMemory = 0x13

var ErrOutOfRange = errors.New("ram: range outside guest memory")

// RAM is a single anonymous host mapping backing [0, Size()).
type RAM struct {
	mem    []byte
	layout *Layout
	log    *slog.Logger
}

// New maps size bytes of zeroed memory, rounded up to whole pages.
func New(size uint64, log *slog.Logger) (*RAM, error) {
	size = alignUp(size, pageSize)
	if size < LowMemoryEnd {
		return nil, fmt.Errorf("ram: size 0x%x below the 1 MiB low-memory layout", size)
	}
	maxInt := uint64(^uint(0) >> 1)
	if size > maxInt {
		return nil, fmt.Errorf("ram: size %d exceeds host address limit", size)
	}
	layout, err := DefaultLayout(size)
	if err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("ram: allocate memory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RAM{mem: mem, layout: layout, log: log}, nil
}

// Close unmaps the backing memory.
func (r *RAM) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if err != nil {
		return fmt.Errorf("ram: unmap memory: %w", err)
	}
	return nil
}

func (r *RAM) Size() uint64 { return uint64(len(r.mem)) }

// Bytes returns the host view of guest memory.
func (r *RAM) Bytes() []byte { return r.mem }

func (r *RAM) Layout() *Layout { return r.layout }

// Attach subscribes the RAM to the memory and discovery buses.
func (r *RAM) Attach(mb *motherboard.Motherboard) {
	mb.Mem.Add(r, r.receiveMem)
	mb.MemRegion.Add(r, r.receiveMemRegion)
	mb.Discovery.Add(r, r.receiveDiscovery)
}

func (r *RAM) receiveMem(m *msg.Mem) bool {
	if m.Phys+4 > r.Size() || m.Phys+4 < m.Phys {
		return false
	}
	if m.Read {
		*m.Value = binary.LittleEndian.Uint32(r.mem[m.Phys:])
	} else {
		binary.LittleEndian.PutUint32(r.mem[m.Phys:], *m.Value)
	}
	return true
}

func (r *RAM) receiveMemRegion(m *msg.MemRegion) bool {
	if m.Page >= r.Size()/pageSize {
		return false
	}
	m.StartPage = 0
	m.Count = r.Size() / pageSize
	m.Ptr = r.mem
	m.ActualPhysical = true
	return true
}

// receiveDiscovery stores discovery writes into the named regions. The
// discovery request itself is answered by publishing the BDA memory size
// and is left unclaimed so every model sees it.
func (r *RAM) receiveDiscovery(m *msg.Discovery) bool {
	switch m.Type {
	case msg.DiscoveryStart:
		if bda, ok := r.layout.Lookup("bda"); ok {
			binary.LittleEndian.PutUint16(r.mem[bda.Base+bdaBaseMemory:], uint16(r.layout.BaseMemoryKB()))
		}
		return false
	case msg.DiscoveryLayout:
		for _, region := range r.layout.Regions() {
			m.Resources = append(m.Resources, msg.Resource{Name: region.Name, Base: region.Base, Size: region.Size})
		}
		return true
	case msg.DiscoveryWrite:
		region, ok := r.layout.Lookup(m.Resource)
		if !ok {
			return false
		}
		if uint64(m.Offset)+uint64(len(m.Data)) > region.Size {
			r.log.Error("ram: discovery write outside region",
				"resource", m.Resource, "offset", m.Offset, "len", len(m.Data), "size", region.Size)
			return false
		}
		copy(r.mem[region.Base+uint64(m.Offset):], m.Data)
		return true
	}
	return false
}

// Delegate describes guest memory [phys, phys+size) as typed items that
// map it from the VMM, where guest address 0 lives at hostBase, into the
// guest physical address space. It returns the part that did not fit.
func (r *RAM) Delegate(u *nova.Utcb, phys, size, hostBase uint64) (uint64, error) {
	if phys+size > r.Size() || phys+size < phys {
		return size, fmt.Errorf("%w: [0x%x-0x%x)", ErrOutOfRange, phys, phys+size)
	}
	return u.AddMappings(hostBase+phys, size, phys|nova.MapEPT, nova.DescMemAll)
}

// Register adds the "ram" model. ram:MB sizes the memory, without an
// argument defaultMB is used.
func Register(reg *params.Registry, defaultMB uint64) {
	reg.MustRegister("ram", func(mb *motherboard.Motherboard, argv []uint64, _ string) error {
		mbytes := argv[0]
		if mbytes == params.Unset {
			mbytes = defaultMB
		}
		r, err := New(mbytes<<20, mb.Logger("ram"))
		if err != nil {
			return err
		}
		r.Attach(mb)
		mb.AddCloser(r)
		return nil
	}, "ram:MB - guest memory starting at physical address 0.")
}
