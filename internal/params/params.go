// Package params builds a machine from a command line of model names.
//
// Each token of the command line has the form name or name:arg,arg,...
// and instantiates the model registered under name. Models are registered
// explicitly on a Registry before the command line is run.
package params

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tinyrange/vcore/internal/motherboard"
)

// MaxArgs is the number of numeric arguments passed to every handler.
const MaxArgs = 16

// Unset marks a numeric argument that was missing or not a number.
const Unset = ^uint64(0)

var (
	ErrUnknownParam   = errors.New("params: unknown parameter")
	ErrDuplicateParam = errors.New("params: duplicate parameter")
)

// Handler instantiates a model. argv always has MaxArgs entries, args is
// the raw text after the colon.
type Handler func(mb *motherboard.Motherboard, argv []uint64, args string) error

type entry struct {
	name    string
	help    []string
	handler Handler
}

type Registry struct {
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a model under name. help is shown by Help, one line per
// element.
func (r *Registry) Register(name string, fn Handler, help ...string) error {
	if name == "" || strings.ContainsAny(name, ": \t\n") {
		return fmt.Errorf("params: invalid parameter name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("params: %s: nil handler", name)
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateParam, name)
	}
	r.entries[name] = &entry{name: name, help: help, handler: fn}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn Handler, help ...string) {
	if err := r.Register(name, fn, help...); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Token is one parsed command-line element.
type Token struct {
	Name string
	Args string
	Argv []uint64
}

// Parse splits a command line into tokens. Numeric arguments accept the
// usual base prefixes; anything else is passed as Unset.
func Parse(cmdline string) []Token {
	var tokens []Token
	for _, field := range strings.Fields(cmdline) {
		name, args, _ := strings.Cut(field, ":")
		tokens = append(tokens, Token{Name: name, Args: args, Argv: parseArgs(args)})
	}
	return tokens
}

func parseArgs(args string) []uint64 {
	argv := make([]uint64, MaxArgs)
	for i := range argv {
		argv[i] = Unset
	}
	if args == "" {
		return argv
	}
	for i, s := range strings.SplitN(args, ",", MaxArgs) {
		if v, err := strconv.ParseUint(s, 0, 64); err == nil {
			argv[i] = v
		}
	}
	return argv
}

// Run instantiates the models named by cmdline in order. It stops at the
// first unknown name or failing handler.
func (r *Registry) Run(mb *motherboard.Motherboard, cmdline string) error {
	for _, tok := range Parse(cmdline) {
		e, ok := r.entries[tok.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParam, tok.Name)
		}
		if err := e.handler(mb, tok.Argv, tok.Args); err != nil {
			return fmt.Errorf("params: %s: %w", tok.Name, err)
		}
	}
	return nil
}

// Help returns the help text of all models sorted by name.
func (r *Registry) Help() string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		e := r.entries[name]
		if len(e.help) == 0 {
			fmt.Fprintf(&b, "%s\n", name)
			continue
		}
		for _, line := range e.help {
			fmt.Fprintf(&b, "\t%s\n", line)
		}
	}
	return b.String()
}
