package bus

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Handler is a subscriber callback. It returns true to claim the message,
// which stops dispatch.
type Handler[M any] func(m *M) bool

type subscriber[M any] struct {
	owner   any
	handler Handler[M]
}

// Bus dispatches one message type to an ordered list of subscribers.
//
// Subscribers are added while the machine is being built. The list is
// read-only afterwards; Add must not be called concurrently with Send.
// Send itself may run on several VCPU threads at once.
type Bus[M any] struct {
	name       string
	bestEffort bool
	subs       []subscriber[M]
	fallback   Handler[M]

	sent      atomic.Uint64
	claimed   atomic.Uint64
	unclaimed atomic.Uint64
}

// Option configures a Bus.
type Option func(*options)

type options struct {
	bestEffort bool
}

// WithBestEffort marks the bus as advisory: a message nobody claims is
// neither logged nor counted as unclaimed.
func WithBestEffort() Option {
	return func(o *options) { o.bestEffort = true }
}

// New returns an empty bus.
func New[M any](name string, opts ...Option) *Bus[M] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[M]{name: name, bestEffort: o.bestEffort}
}

// Add appends a subscriber. owner identifies the subscribing device in
// debug dumps and may be nil. The same owner may subscribe more than once.
func (b *Bus[M]) Add(owner any, fn Handler[M]) {
	if fn == nil {
		panic(fmt.Sprintf("bus %s: nil handler", b.name))
	}
	b.subs = append(b.subs, subscriber[M]{owner: owner, handler: fn})
}

// AddFunc appends an anonymous subscriber.
func (b *Bus[M]) AddFunc(fn Handler[M]) { b.Add(nil, fn) }

// SetFallback installs a handler that runs after every subscriber has
// declined, regardless of when the subscribers were added. It is used to
// forward messages from a per-VCPU bus to the machine-wide one.
func (b *Bus[M]) SetFallback(fn Handler[M]) { b.fallback = fn }

// Send walks the subscribers in registration order and stops at the
// first one that claims m. It reports whether m was claimed.
func (b *Bus[M]) Send(m *M) bool {
	b.sent.Add(1)
	for i := range b.subs {
		if b.subs[i].handler(m) {
			b.claimed.Add(1)
			return true
		}
	}
	if b.fallback != nil && b.fallback(m) {
		b.claimed.Add(1)
		return true
	}
	if !b.bestEffort {
		b.unclaimed.Add(1)
		slog.Debug("bus: unclaimed message", "bus", b.name, "kind", kindOf(m), "subscribers", len(b.subs))
	}
	return false
}

// Count returns the number of subscribers.
func (b *Bus[M]) Count() int { return len(b.subs) }

func (b *Bus[M]) Name() string { return b.name }

// BestEffort reports whether unclaimed messages are expected on this bus.
func (b *Bus[M]) BestEffort() bool { return b.bestEffort }

// Stats is a snapshot of the dispatch counters of a bus.
type Stats struct {
	Sent      uint64
	Claimed   uint64
	Unclaimed uint64
}

func (b *Bus[M]) Stats() Stats {
	return Stats{
		Sent:      b.sent.Load(),
		Claimed:   b.claimed.Load(),
		Unclaimed: b.unclaimed.Load(),
	}
}

// Subscribers lists the subscriber owners in dispatch order by type name.
func (b *Bus[M]) Subscribers() []string {
	names := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		if s.owner == nil {
			names = append(names, "func")
			continue
		}
		names = append(names, fmt.Sprintf("%T", s.owner))
	}
	return names
}

func kindOf(m any) Kind {
	if msg, ok := m.(Message); ok {
		return msg.Kind()
	}
	return KindUnknown
}

// Info is the type-independent view of a bus used for diagnostics.
type Info interface {
	Name() string
	Count() int
	Stats() Stats
	Subscribers() []string
}

var _ Info = (*Bus[struct{}])(nil)
