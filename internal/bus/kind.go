package bus

// Kind tags the payload carried by a bus. Every message type reports its
// kind so that dispatch diagnostics can name it without reflection.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindIOIn
	KindIOOut
	KindMem
	KindMemRegion
	KindCpu
	KindCpuEvent
	KindLapicEvent
	KindDiscovery
	KindBios
	KindIrq
	KindLegacy
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindIOIn:       "io-in",
	KindIOOut:      "io-out",
	KindMem:        "mem",
	KindMemRegion:  "memregion",
	KindCpu:        "executor",
	KindCpuEvent:   "cpu-event",
	KindLapicEvent: "lapic",
	KindDiscovery:  "discovery",
	KindBios:       "bios",
	KindIrq:        "irq",
	KindLegacy:     "legacy",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Message is implemented by every payload type dispatched on a bus.
type Message interface {
	Kind() Kind
}
