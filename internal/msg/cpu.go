package msg

import (
	"github.com/tinyrange/vcore/internal/bus"
	"github.com/tinyrange/vcore/internal/nova"
)

// CpuType enumerates the traps delivered on a VCPU executor bus.
type CpuType uint8

const (
	CpuCPUIDWrite CpuType = iota
	CpuCPUID
	CpuRDTSC
	CpuRDMSR
	CpuWRMSR
	CpuIOIn
	CpuIOOut
	CpuTriple
	CpuInit
	CpuHLT
	CpuINVD
	CpuWBINVD
	CpuCheckIRQ
	CpuCalcIRQWindow
	CpuSingleStep
	CpuAddTSCOff
)

var cpuTypeNames = [...]string{
	"cpuid-write", "cpuid", "rdtsc", "rdmsr", "wrmsr", "ioin", "ioout",
	"triple", "init", "hlt", "invd", "wbinvd", "check-irq",
	"calc-irqwindow", "single-step", "add-tsc-off",
}

func (t CpuType) String() string {
	if int(t) < len(cpuTypeNames) {
		return cpuTypeNames[t]
	}
	return "unknown"
}

// Cpu is a trap or request on the executor bus. CPU points at the
// register snapshot of the trapping VCPU. MtrIn lists the registers that
// are valid in the snapshot, subscribers add the registers they modified
// to MtrOut and set Consumed when they handled the trap.
type Cpu struct {
	Type CpuType
	CPU  *nova.CpuState

	CPUIDIndex uint32

	IOOrder uint32
	Port    uint16
	Dst     []byte

	// CPUID write request.
	Nr    uint32
	Reg   uint32
	Mask  uint32
	Value uint32

	MtrIn    uint64
	MtrOut   uint64
	Consumed bool

	// Absolute TSC offset, valid when MtrOut has MtdTSC set.
	CurrentTSCOff int64
}

// NewCpu builds a trap message for cpu. CPUID traps latch EAX as the leaf.
func NewCpu(t CpuType, cpu *nova.CpuState, mtrIn uint64) *Cpu {
	m := &Cpu{Type: t, CPU: cpu, MtrIn: mtrIn}
	if t == CpuCPUID {
		m.CPUIDIndex = cpu.EAX()
	}
	return m
}

// NewCPUIDWrite builds a request to change one CPUID register. Bits set in
// mask are kept, value supplies the rest.
func NewCPUIDWrite(nr, reg, mask, value uint32) *Cpu {
	return &Cpu{Type: CpuCPUIDWrite, Nr: nr, Reg: reg, Mask: mask, Value: value}
}

// NewCpuIO builds a port I/O trap.
func NewCpuIO(in bool, cpu *nova.CpuState, order uint32, port uint16, dst []byte, mtrIn uint64) *Cpu {
	t := CpuIOOut
	if in {
		t = CpuIOIn
	}
	return &Cpu{Type: t, CPU: cpu, IOOrder: order, Port: port, Dst: dst, MtrIn: mtrIn}
}

func (Cpu) Kind() bus.Kind { return bus.KindCpu }

// CpuEvent delivers event bits (see vcpu.Event*) to a VCPU.
type CpuEvent struct {
	Value uint32
}

func (CpuEvent) Kind() bus.Kind { return bus.KindCpuEvent }

type LapicEventType uint8

const (
	LapicINTA LapicEventType = iota
	LapicReset
	LapicInit
	LapicCheckIntr
)

// LapicEvent is sent from the VCPU to its local APIC.
type LapicEvent struct {
	Type  LapicEventType
	Value uint32
}

// NewLapicEvent builds an event. An INTA starts with no vector.
func NewLapicEvent(t LapicEventType) *LapicEvent {
	e := &LapicEvent{Type: t}
	if t == LapicINTA {
		e.Value = ^uint32(0)
	}
	return e
}

func (LapicEvent) Kind() bus.Kind { return bus.KindLapicEvent }
