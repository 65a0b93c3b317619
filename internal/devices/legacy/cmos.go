package legacy

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyrange/vcore/internal/chipset"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/params"
)

const (
	cmosAddrPort uint16 = 0x70
	cmosDataPort uint16 = 0x71

	cmosRegSeconds    byte = 0x00
	cmosRegMinutes    byte = 0x02
	cmosRegHours      byte = 0x04
	cmosRegWeekday    byte = 0x06
	cmosRegDayOfMonth byte = 0x07
	cmosRegMonth      byte = 0x08
	cmosRegYear       byte = 0x09
	cmosRegStatusA    byte = 0x0a
	cmosRegStatusB    byte = 0x0b
	cmosRegStatusC    byte = 0x0c
	cmosRegStatusD    byte = 0x0d
	cmosRegCentury    byte = 0x32

	// Memory size registers in KiB, low byte first.
	cmosRegBaseMemory   byte = 0x15
	cmosRegExtMemory    byte = 0x17
	cmosRegExtMemoryAlt byte = 0x30
	// Memory above 16 MiB in 64 KiB units.
	cmosRegHighMemory byte = 0x34
)

const (
	statusBBinaryMode = 1 << 2
	statusB24HourMode = 1 << 1
	statusDValidRAM   = 1 << 7
)

// CMOS emulates the clock and NVRAM registers of the MC146818. The clock
// is read from the host on every access; the chip raises no interrupts.
// The memory size registers are filled in at discovery time.
type CMOS struct {
	mb  *motherboard.Motherboard
	now func() time.Time

	mu   sync.Mutex
	addr byte
	cmos [128]byte
}

func NewCMOS(mb *motherboard.Motherboard, now func() time.Time) *CMOS {
	if now == nil {
		now = time.Now
	}
	c := &CMOS{mb: mb, now: now}
	c.resetLocked()
	return c
}

func (c *CMOS) resetLocked() {
	c.addr = 0
	c.cmos[cmosRegStatusA] = 0x26
	c.cmos[cmosRegStatusB] = statusB24HourMode
	c.cmos[cmosRegStatusC] = 0
	c.cmos[cmosRegStatusD] = statusDValidRAM
}

func (c *CMOS) SupportsPortIO() *chipset.PortIOIntercept {
	return &chipset.PortIOIntercept{Ports: []uint16{cmosAddrPort, cmosDataPort}, Handler: c}
}

// Reset restores the status registers. NVRAM contents survive.
func (c *CMOS) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return nil
}

// Attach connects the CMOS to the I/O and discovery buses.
func (c *CMOS) Attach() error {
	c.mb.Discovery.Add(c, c.receiveDiscovery)
	return attach(c.mb, "cmos", c)
}

func (c *CMOS) ReadIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("cmos: invalid read size %d", len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch port {
	case cmosAddrPort:
		data[0] = c.addr
	case cmosDataPort:
		data[0] = c.readRegisterLocked(c.addr)
	default:
		return fmt.Errorf("cmos: invalid read port 0x%04x", port)
	}
	return nil
}

func (c *CMOS) WriteIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("cmos: invalid write size %d", len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch port {
	case cmosAddrPort:
		// Bit 7 masks NMIs, which do not exist here.
		c.addr = data[0] & 0x7f
	case cmosDataPort:
		c.writeRegisterLocked(c.addr, data[0])
	default:
		return fmt.Errorf("cmos: invalid write port 0x%04x", port)
	}
	return nil
}

func (c *CMOS) readRegisterLocked(idx byte) byte {
	switch idx {
	case cmosRegSeconds, cmosRegMinutes, cmosRegHours, cmosRegWeekday,
		cmosRegDayOfMonth, cmosRegMonth, cmosRegYear, cmosRegCentury:
		return c.timeRegisterLocked(idx)
	case cmosRegStatusC:
		value := c.cmos[cmosRegStatusC]
		c.cmos[cmosRegStatusC] = 0
		return value
	}
	return c.cmos[idx]
}

func (c *CMOS) writeRegisterLocked(idx, value byte) {
	switch idx {
	case cmosRegStatusA:
		// The update-in-progress bit is read-only.
		c.cmos[idx] = value &^ 0x80
	case cmosRegStatusC, cmosRegStatusD:
		// Read-only
	case cmosRegSeconds, cmosRegMinutes, cmosRegHours, cmosRegWeekday,
		cmosRegDayOfMonth, cmosRegMonth, cmosRegYear, cmosRegCentury:
		// The clock follows the host.
	default:
		c.cmos[idx] = value
	}
}

func (c *CMOS) timeRegisterLocked(idx byte) byte {
	t := c.now().UTC()
	statusB := c.cmos[cmosRegStatusB]

	var v byte
	switch idx {
	case cmosRegSeconds:
		v = byte(t.Second())
	case cmosRegMinutes:
		v = byte(t.Minute())
	case cmosRegHours:
		v = byte(t.Hour())
		if statusB&statusB24HourMode == 0 {
			pm := v >= 12
			v %= 12
			if v == 0 {
				v = 12
			}
			if statusB&statusBBinaryMode == 0 {
				v = toBCD(v)
			}
			if pm {
				v |= 0x80
			}
			return v
		}
	case cmosRegWeekday:
		v = byte(t.Weekday()) + 1
	case cmosRegDayOfMonth:
		v = byte(t.Day())
	case cmosRegMonth:
		v = byte(t.Month())
	case cmosRegYear:
		v = byte(t.Year() % 100)
	case cmosRegCentury:
		v = byte(t.Year() / 100)
	}
	if statusB&statusBBinaryMode == 0 {
		v = toBCD(v)
	}
	return v
}

func toBCD(v byte) byte {
	return ((v / 10) << 4) | (v % 10)
}

func (c *CMOS) setWordLocked(idx byte, v uint16) {
	c.cmos[idx] = byte(v)
	c.cmos[idx+1] = byte(v >> 8)
}

// receiveDiscovery records the RAM size the way a PC BIOS expects it.
func (c *CMOS) receiveDiscovery(m *msg.Discovery) bool {
	if m.Type != msg.DiscoveryStart {
		return false
	}
	region := msg.NewMemRegion(0)
	if !c.mb.MemRegion.Send(region) {
		return false
	}
	size := (region.StartPage + region.Count) << 12

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setWordLocked(cmosRegBaseMemory, uint16(min(size, 640<<10)>>10))
	var ext uint64
	if size > 1<<20 {
		ext = min((size-1<<20)>>10, 0xffff)
	}
	c.setWordLocked(cmosRegExtMemory, uint16(ext))
	c.setWordLocked(cmosRegExtMemoryAlt, uint16(ext))
	var high uint64
	if size > 16<<20 {
		high = min((size-16<<20)>>16, 0xffff)
	}
	c.setWordLocked(cmosRegHighMemory, uint16(high))
	return false
}

var _ chipset.Device = (*CMOS)(nil)

// RegisterCMOS adds the "cmos" model.
func RegisterCMOS(reg *params.Registry) {
	reg.MustRegister("cmos", func(mb *motherboard.Motherboard, _ []uint64, _ string) error {
		return NewCMOS(mb, nil).Attach()
	}, "cmos - MC146818 clock and NVRAM with the memory size registers.")
}
