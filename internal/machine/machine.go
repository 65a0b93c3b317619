// Package machine assembles a motherboard from a configuration.
package machine

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/tinyrange/vcore/internal/config"
	"github.com/tinyrange/vcore/internal/devices/biosmem"
	"github.com/tinyrange/vcore/internal/devices/legacy"
	"github.com/tinyrange/vcore/internal/devices/ram"
	"github.com/tinyrange/vcore/internal/devices/vbios"
	"github.com/tinyrange/vcore/internal/motherboard"
	"github.com/tinyrange/vcore/internal/msg"
	"github.com/tinyrange/vcore/internal/params"
)

// NewRegistry returns a registry holding every model of the machine.
func NewRegistry(trampoline []byte, defaultMB uint64) *params.Registry {
	reg := params.NewRegistry()
	reg.MustRegister("vcpu", func(mb *motherboard.Motherboard, _ []uint64, _ string) error {
		mb.NewVCPU()
		return nil
	}, "vcpu - create a virtual CPU. Per-CPU models that follow attach to it.")
	ram.Register(reg, defaultMB)
	vbios.Register(reg, trampoline)
	biosmem.Register(reg)
	legacy.RegisterResetPort(reg)
	legacy.RegisterPort92(reg)
	legacy.RegisterCMOS(reg)
	legacy.RegisterDebugcon(reg)
	return reg
}

// Build creates the models named by the configuration and broadcasts
// discovery. The caller closes the returned motherboard.
func Build(cfg config.Config, log *slog.Logger) (*motherboard.Motherboard, error) {
	trampoline, err := cfg.LoadTrampoline()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	mb := motherboard.New(motherboard.WithLogger(log))
	reg := NewRegistry(trampoline, cfg.MemoryMB)

	cmdline := cfg.MachineCmdline()
	log.Debug("machine: building", "cmdline", cmdline)
	if err := reg.Run(mb, cmdline); err != nil {
		mb.Close()
		return nil, err
	}
	if len(mb.VCPUs()) == 0 {
		mb.Close()
		return nil, fmt.Errorf("machine: cmdline %q creates no vcpu", cmdline)
	}
	mb.Discover()
	return mb, nil
}

// MemorySize returns the size of the RAM that starts at address 0.
func MemorySize(mb *motherboard.Motherboard) uint64 {
	region := msg.NewMemRegion(0)
	if !mb.MemRegion.Send(region) {
		return 0
	}
	return (region.StartPage + region.Count) << 12
}

// Resources returns the named memory regions the RAM model registered.
func Resources(mb *motherboard.Motherboard) []msg.Resource {
	query := &msg.Discovery{Type: msg.DiscoveryLayout}
	mb.Discovery.Send(query)
	return query.Resources
}

// Report writes the machine summary and the bus counters.
func Report(w io.Writer, mb *motherboard.Motherboard) error {
	size := MemorySize(mb)
	if _, err := fmt.Fprintf(w, "vcpus: %d\nmemory: %d KiB\n", len(mb.VCPUs()), size>>10); err != nil {
		return err
	}
	for _, r := range Resources(mb) {
		fmt.Fprintf(w, "  %-12s 0x%05x-0x%05x\n", r.Name, r.Base, r.Base+r.Size-1)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUS\tSUBSCRIBERS\tSENT\tCLAIMED\tUNCLAIMED")
	for _, b := range mb.Buses() {
		s := b.Stats()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", b.Name(), b.Count(), s.Sent, s.Claimed, s.Unclaimed)
	}
	return tw.Flush()
}
