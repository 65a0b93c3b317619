// Package config loads the YAML description of a virtual machine.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	// SchemaVersion is the newest configuration schema this build reads.
	SchemaVersion = "v1.1.0"

	DefaultCPUs     = 1
	DefaultMemoryMB = 64
	MaxCPUs         = 64
)

// DefaultTrampoline is a single iret. It returns from every BIOS call
// without copying parameters.
var DefaultTrampoline = []byte{0xcf}

var ErrUnsupportedVersion = errors.New("config: unsupported schema version")

// Config describes one machine.
type Config struct {
	Version string `yaml:"version"`

	CPUs     int    `yaml:"cpus,omitempty"`
	MemoryMB uint64 `yaml:"memoryMB,omitempty"`

	// Cmdline lists the models to instantiate. When empty it is derived
	// from CPUs and MemoryMB.
	Cmdline string `yaml:"cmdline,omitempty"`

	// Trampoline is the path of the real-mode parameter copy loop,
	// relative to the configuration file.
	Trampoline string `yaml:"trampoline,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`

	dir string
}

func (c *Config) normalize() {
	if c.Version == "" {
		c.Version = SchemaVersion
	}
	if !strings.HasPrefix(c.Version, "v") {
		c.Version = "v" + c.Version
	}
	if c.CPUs == 0 {
		c.CPUs = DefaultCPUs
	}
	if c.MemoryMB == 0 {
		c.MemoryMB = DefaultMemoryMB
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Default returns the configuration used without a file.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

// Validate checks the schema version and the machine limits.
func (c Config) Validate() error {
	if !semver.IsValid(c.Version) {
		return fmt.Errorf("%w: %q is not a version", ErrUnsupportedVersion, c.Version)
	}
	if semver.Major(c.Version) != semver.Major(SchemaVersion) || semver.Compare(c.Version, SchemaVersion) > 0 {
		return fmt.Errorf("%w: %s, this build reads up to %s", ErrUnsupportedVersion, c.Version, SchemaVersion)
	}
	if c.CPUs < 1 || c.CPUs > MaxCPUs {
		return fmt.Errorf("config: cpus %d out of range 1-%d", c.CPUs, MaxCPUs)
	}
	if c.MemoryMB < 2 {
		return fmt.Errorf("config: memoryMB %d below 2", c.MemoryMB)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: logLevel: %w", err)
	}
	return level, nil
}

// MachineCmdline returns Cmdline or the default machine: RAM, one VCPU
// with its BIOS bridge per CPU and the legacy glue ports.
func (c Config) MachineCmdline() string {
	if c.Cmdline != "" {
		return c.Cmdline
	}
	parts := []string{fmt.Sprintf("ram:%d", c.MemoryMB)}
	for i := 0; i < c.CPUs; i++ {
		parts = append(parts, "vcpu", "vbios")
	}
	parts = append(parts, "biosmem", "resetport", "port92", "cmos", "debugcon")
	return strings.Join(parts, " ")
}

// LoadTrampoline reads the trampoline image or returns DefaultTrampoline.
func (c Config) LoadTrampoline() ([]byte, error) {
	if c.Trampoline == "" {
		return DefaultTrampoline, nil
	}
	path := c.Trampoline
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read trampoline: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] != 0xcf {
		return nil, fmt.Errorf("config: trampoline %s does not end with iret", path)
	}
	return data, nil
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	c.normalize()
	c.dir = filepath.Dir(path)
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Write stores c as YAML at path.
func Write(path string, c Config) error {
	c.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
