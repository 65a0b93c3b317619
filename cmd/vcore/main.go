package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/term"

	"github.com/tinyrange/vcore/internal/config"
	"github.com/tinyrange/vcore/internal/machine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vcore: %v\n", err)
		os.Exit(1)
	}
}

type intFlag struct {
	v   int
	set bool
}

func (f *intFlag) String() string { return strconv.Itoa(f.v) }

func (f *intFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	f.v = v
	f.set = true
	return nil
}

type uint64Flag struct {
	v   uint64
	set bool
}

func (f *uint64Flag) String() string { return strconv.FormatUint(f.v, 10) }

func (f *uint64Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	f.v = v
	f.set = true
	return nil
}

func run() error {
	configPath := flag.String("config", "", "VM configuration file (YAML)")
	writeConfig := flag.String("write-config", "", "Write the effective configuration to this path, then exit")
	var cpusFlag intFlag
	cpusFlag.v = config.DefaultCPUs
	flag.Var(&cpusFlag, "cpus", "Number of vCPUs")
	var memoryFlag uint64Flag
	memoryFlag.v = config.DefaultMemoryMB
	flag.Var(&memoryFlag, "memory", "Memory in MB")
	cmdline := flag.String("cmdline", "", "Model command line, overrides the configuration")
	dbg := flag.Bool("debug", false, "Enable debug logging")
	listModels := flag.Bool("list-models", false, "Print the available models, then exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if cpusFlag.set {
		cfg.CPUs = cpusFlag.v
	}
	if memoryFlag.set {
		cfg.MemoryMB = memoryFlag.v
	}
	if *cmdline != "" {
		cfg.Cmdline = *cmdline
	}
	if *dbg {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	}

	if *writeConfig != "" {
		if err := config.Write(*writeConfig, cfg); err != nil {
			return err
		}
		slog.Info("configuration written", "path", *writeConfig)
		return nil
	}

	if *listModels {
		trampoline, err := cfg.LoadTrampoline()
		if err != nil {
			return err
		}
		fmt.Print(machine.NewRegistry(trampoline, cfg.MemoryMB).Help())
		return nil
	}

	mb, err := machine.Build(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer mb.Close()

	slog.Debug("machine ready", "vcpus", len(mb.VCPUs()), "memoryMB", cfg.MemoryMB)
	return machine.Report(os.Stdout, mb)
}
