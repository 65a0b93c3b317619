package nova

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	UtcbSize   = 4096
	headerSize = 32

	// HeaderWords is the size of the UTCB header in message words.
	HeaderWords = headerSize / 4
	// MaxDataWords is the number of 32-bit message words after the header.
	MaxDataWords = (UtcbSize - headerSize) / 4
	// StackStart is the index of the word that stores a frame pointer to
	// the top of the UTCB frame stack. It is never part of a message.
	StackStart = 512
	// MaxFrameWords bounds the size of a message that is allowed to cross
	// a portal.
	MaxFrameWords = MaxDataWords - StackStart - 1
	// DefaultMaxItems is the default bound on typed items per message.
	DefaultMaxItems = MaxDataWords / 2
)

const (
	offUntyped      = 0
	offTyped        = 2
	offMtr          = 0
	offCrdTranslate = 8
	offCrd          = 16
	offCPUNr        = 24
)

var (
	ErrMisaligned   = errors.New("nova: mapping is not aligned to the minimum page size")
	ErrAddressRange = errors.New("nova: mapping address does not fit a message word")
)

// Utcb is the per-thread transfer buffer shared with the kernel. The byte
// layout is a fixed ABI: a 32-byte header followed by 32-bit message
// words. Untyped words grow from the start of the message area, typed
// items (word pairs) grow down from its end. The register snapshot
// overlays the start of the message area.
//
// A Utcb is owned by exactly one thread and is not safe for concurrent use.
type Utcb struct {
	buf [UtcbSize]byte
}

// NewUtcb returns an empty transfer buffer.
func NewUtcb() *Utcb {
	return &Utcb{}
}

// Bytes returns the raw ABI view of the buffer.
func (u *Utcb) Bytes() []byte { return u.buf[:] }

// Regs returns a register snapshot view aliasing the message area.
func (u *Utcb) Regs() *CpuState { return CpuStateFromBytes(u.buf[headerSize:]) }

func (u *Utcb) Untyped() uint { return uint(binary.LittleEndian.Uint16(u.buf[offUntyped:])) }
func (u *Utcb) Typed() uint { return uint(binary.LittleEndian.Uint16(u.buf[offTyped:])) }
func (u *Utcb) SetUntyped(n uint) { binary.LittleEndian.PutUint16(u.buf[offUntyped:], uint16(n)) }
func (u *Utcb) setTyped(n uint) { binary.LittleEndian.PutUint16(u.buf[offTyped:], uint16(n)) }

func (u *Utcb) CrdTranslate() Crd { return Crd(binary.LittleEndian.Uint64(u.buf[offCrdTranslate:])) }
func (u *Utcb) SetCrdTranslate(c Crd) { binary.LittleEndian.PutUint64(u.buf[offCrdTranslate:], uint64(c)) }
func (u *Utcb) Crd() Crd { return Crd(binary.LittleEndian.Uint64(u.buf[offCrd:])) }
func (u *Utcb) SetCrd(c Crd) { binary.LittleEndian.PutUint64(u.buf[offCrd:], uint64(c)) }
func (u *Utcb) CPUNr() uint64 { return binary.LittleEndian.Uint64(u.buf[offCPUNr:]) }
func (u *Utcb) SetCPUNr(n uint64) { binary.LittleEndian.PutUint64(u.buf[offCPUNr:], n) }

// Word returns message word i.
func (u *Utcb) Word(i int) uint32 {
	return binary.LittleEndian.Uint32(u.buf[headerSize+4*i:])
}

// SetWord stores message word i.
func (u *Utcb) SetWord(i int, v uint32) {
	binary.LittleEndian.PutUint32(u.buf[headerSize+4*i:], v)
}

// AppendUntyped adds an untyped word. It fails when the word would reach
// the reserved stack slot or the typed item area.
func (u *Utcb) AppendUntyped(w uint32) bool {
	n := u.Untyped()
	if n >= StackStart || int(n) >= u.itemStart() {
		return false
	}
	u.SetWord(int(n), w)
	u.SetUntyped(n + 1)
	return true
}

// FrameWords returns the number of words needed to store the current
// message as a UTCB frame.
func (u *Utcb) FrameWords() uint {
	return HeaderWords + u.Untyped() + 2*u.Typed() + 1
}

// itemStart is the message index of the most recently added typed item.
func (u *Utcb) itemStart() int {
	return MaxDataWords - 2*int(u.Typed())
}

// ValidateSendBounds reports whether the receiver will accept the message.
// It is optional before sending and avoids a rejection on the other side.
func (u *Utcb) ValidateSendBounds() bool {
	return u.Untyped() <= StackStart &&
		u.Typed()*2 <= MaxFrameWords &&
		u.FrameWords() <= MaxFrameWords
}

// ValidateRecvBounds must be checked right after receiving and before any
// item or address in the buffer is interpreted. Besides the size limits it
// requires the stack slot to be clear, which catches buffers that were not
// reset after a previous message.
func (u *Utcb) ValidateRecvBounds() bool {
	return u.Word(StackStart) == 0 && u.ValidateSendBounds()
}

// Reset empties the buffer for the next message.
func (u *Utcb) Reset() {
	binary.LittleEndian.PutUint64(u.buf[offMtr:], 0)
	u.SetWord(StackStart, 0)
}

// MapItem is one decoded typed item.
type MapItem struct {
	Crd     Crd
	Hotspot uint32
}

// Item returns typed item i in insertion order.
func (u *Utcb) Item(i int) MapItem {
	idx := MaxDataWords - 2*(i+1)
	return MapItem{
		Crd:     Crd(u.Word(idx)),
		Hotspot: u.Word(idx + 1),
	}
}

// Items returns all typed items in insertion order.
func (u *Utcb) Items() []MapItem {
	items := make([]MapItem, u.Typed())
	for i := range items {
		items[i] = u.Item(i)
	}
	return items
}

type mappingConfig struct {
	maxItems uint
	frame    bool
}

// MappingOption customises AddMappings.
type MappingOption func(*mappingConfig)

// WithMaxItems bounds the total number of typed items in the buffer.
func WithMaxItems(n uint) MappingOption {
	return func(c *mappingConfig) { c.maxItems = n }
}

// WithFrameValidation keeps the message within the bounds a receiver that
// uses UTCB frames checks for.
func WithFrameValidation() MappingOption {
	return func(c *mappingConfig) { c.frame = true }
}

// AddMappings describes [addr, addr+size) as a sequence of naturally
// aligned power-of-two typed items, largest block first. hotspot is zero
// for a translation, or hotspot|flags|MapMap for a delegation; rights holds
// the permission mask and type bits.
//
// The returned size is the part of the region that did not fit into the
// buffer. A non-zero remainder is not an error: the caller must map the
// rest with another message. An error means the arguments violate the
// page alignment or address width of the item format; nothing further is
// added in that case.
func (u *Utcb) AddMappings(addr, size, hotspot uint64, rights uint, opts ...MappingOption) (uint64, error) {
	cfg := mappingConfig{maxItems: DefaultMaxItems}
	for _, opt := range opts {
		opt(&cfg)
	}

	for size > 0 {
		shift := MinShift(addr|(hotspot&^pageMask), size)
		if shift < MinShiftPage {
			return size, fmt.Errorf("%w: addr 0x%x size 0x%x hotspot 0x%x", ErrMisaligned, addr, size, hotspot)
		}
		if addr > math.MaxUint32 || hotspot > math.MaxUint32 {
			return size, fmt.Errorf("%w: addr 0x%x hotspot 0x%x", ErrAddressRange, addr, hotspot)
		}

		typed := u.Typed() + 1
		u.setTyped(typed)
		item := u.itemStart()
		if item < int(u.Untyped()) || typed > cfg.maxItems || (cfg.frame && !u.ValidateSendBounds()) {
			u.setTyped(typed - 1)
			return size, nil
		}

		u.SetWord(item+1, uint32(hotspot))
		u.SetWord(item, uint32(addr|uint64(shift-MinShiftPage)<<crdOrderShift|uint64(rights)))

		mapSize := uint64(1) << shift
		size -= mapSize
		addr += mapSize
		hotspot += mapSize
	}
	return 0, nil
}
