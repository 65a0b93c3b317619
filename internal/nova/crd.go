package nova

// Descriptor type and rights bits. The low two bits select the kind of
// range, bits 2-6 carry the permission mask for that kind.
const (
	DescTypeMem = 1
	DescTypeIO  = 2
	DescTypeCap = 3

	DescRightR        = 0x4
	DescRightECRecall = 0x4
	DescRightPD       = 0x4
	DescRightEC       = 0x8
	DescRightSC       = 0x10
	DescRightPT       = 0x20
	DescRightSM       = 0x40
	DescRightsAll     = 0x7c

	DescMemAll = DescTypeMem | DescRightsAll
	DescIOAll  = DescTypeIO | DescRightsAll
	DescCapAll = DescTypeCap | DescRightsAll
)

// Hotspot flags for typed items. MapMap marks an item as a delegation
// rather than a translation.
const (
	MapHBit = 0x801
	MapEPT  = 0x401
	MapDPT  = 0x201
	MapMap  = 1
)

const (
	crdOrderShift = 7
	crdOrderMask  = 0x1f
	crdAttrMask   = 0x1f
	crdTypeMask   = 0x3
	pageMask      = 0xfff
)

// Desc is a raw descriptor word as exchanged with the kernel.
type Desc uint64

func (d Desc) Value() uint64 { return uint64(d) }

// Crd is a capability range descriptor: a naturally aligned range of
// 2^order pages (or capabilities, or I/O ports) plus type and rights.
type Crd Desc

// NewCrd builds a descriptor from a page or capability number.
func NewCrd(offset uint64, order uint, attr uint) Crd {
	return Crd(offset<<12 | uint64(order)<<crdOrderShift | uint64(attr))
}

// CrdFromBase builds a descriptor from a page-aligned byte address.
// The caller guarantees alignment and order < 32; nothing is checked.
func CrdFromBase(base uint64, order uint, attr uint) Crd {
	return Crd(base | uint64(order)<<crdOrderShift | uint64(attr))
}

func (c Crd) Value() uint64 { return uint64(c) }
func (c Crd) Order() uint { return uint(c>>crdOrderShift) & crdOrderMask }
func (c Crd) Size() uint64 { return 1 << (c.Order() + MinShiftPage) }
func (c Crd) Base() uint64 { return uint64(c) &^ pageMask }
func (c Crd) Attr() uint { return uint(c) & crdAttrMask }
func (c Crd) Cap() uint64 { return uint64(c) >> 12 }

// Type returns the descriptor kind (DescTypeMem, DescTypeIO or DescTypeCap).
func (c Crd) Type() uint { return uint(c) & crdTypeMask }

// Rights returns the full permission mask including the PT and SM bits,
// which Attr does not cover.
func (c Crd) Rights() uint { return uint(c) & DescRightsAll }

// Qpd is a quantum/priority descriptor used when creating scheduling
// contexts.
type Qpd Desc

func NewQpd(prio, quantum uint64) Qpd {
	return Qpd(quantum<<12 | prio)
}

func (q Qpd) Value() uint64 { return uint64(q) }
func (q Qpd) Prio() uint64 { return uint64(q) & pageMask }
func (q Qpd) Quantum() uint64 { return uint64(q) >> 12 }
