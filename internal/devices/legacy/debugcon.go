package legacy

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/vcore/internal/chipset"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/params"
)

const (
	DefaultDebugconPort = 0xe9
	// Lines are flushed when they reach this length even without a newline.
	maxLineLength = 256
)

// Debugcon collects the bytes written to the debug console port into
// lines and logs them with terminal escapes removed. Reads return the
// port number so guests can detect the console.
type Debugcon struct {
	port uint16
	log  *slog.Logger

	mu    sync.Mutex
	line  bytes.Buffer
	lines int
	sink  func(line string)
}

func NewDebugcon(port uint16, log *slog.Logger) *Debugcon {
	if log == nil {
		log = slog.Default()
	}
	return &Debugcon{port: port, log: log}
}

// SetSink additionally passes every completed line to fn.
func (d *Debugcon) SetSink(fn func(line string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = fn
}

func (d *Debugcon) SupportsPortIO() *chipset.PortIOIntercept {
	return &chipset.PortIOIntercept{Ports: []uint16{d.port}, Handler: d}
}

// Reset drops a partial line.
func (d *Debugcon) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.line.Reset()
	return nil
}

func (d *Debugcon) ReadIOPort(port uint16, data []byte) error {
	for i := range data {
		data[i] = byte(d.port)
	}
	return nil
}

func (d *Debugcon) WriteIOPort(port uint16, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(data) == 0 {
		return nil
	}
	// Only the low byte of a wider access is a character.
	switch c := data[0]; c {
	case '\n':
		d.flushLocked()
	case '\r', 0:
	default:
		d.line.WriteByte(c)
		if d.line.Len() >= maxLineLength {
			d.flushLocked()
		}
	}
	return nil
}

// Flush logs a pending partial line.
func (d *Debugcon) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line.Len() > 0 {
		d.flushLocked()
	}
}

// Lines returns the number of lines logged so far.
func (d *Debugcon) Lines() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines
}

func (d *Debugcon) flushLocked() {
	line := ansi.Strip(d.line.String())
	d.line.Reset()
	d.lines++
	d.log.Info("debugcon: line", "port", d.port, "text", line)
	if d.sink != nil {
		d.sink(line)
	}
}

var _ chipset.Device = (*Debugcon)(nil)

// RegisterDebugcon adds the "debugcon" model.
func RegisterDebugcon(reg *params.Registry) {
	reg.MustRegister("debugcon", func(mb *motherboard.Motherboard, argv []uint64, _ string) error {
		port := uint64(DefaultDebugconPort)
		if argv[0] != params.Unset && argv[0] <= 0xffff {
			port = argv[0]
		}
		d := NewDebugcon(uint16(port), mb.Logger("debugcon"))
		mb.AddCloser(closerFunc(func() error { d.Flush(); return nil }))
		return attach(mb, "debugcon", d)
	}, "debugcon:port=0xe9 - log the lines a guest writes to the debug console port.")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
