package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/target-tester/internal/probe"
)

// Backends
const (
	BackendOpenOCD = "openocd"
	BackendSim     = "sim"
)

// Download methods
const (
	DownloadAuto  = "auto"
	DownloadRAM   = "ram"
	DownloadFlash = "flash"
	DownloadGDB   = "gdb"
)

// RunConfig is the complete configuration of one test session.
type RunConfig struct {
	Backend         string         `yaml:"backend"`
	Board           string         `yaml:"board,omitempty"`
	VectorTable     *HexUint32     `yaml:"vector_table,omitempty"`
	Interface       string         `yaml:"interface,omitempty"`
	Speed           string         `yaml:"speed,omitempty"`
	OpenOCD         OpenOCDConfig  `yaml:"openocd"`
	GDB             GDBConfig      `yaml:"gdb"`
	Download        DownloadConfig `yaml:"download"`
	Timeouts        TimeoutConfig  `yaml:"timeouts"`
	ContinueOnError bool           `yaml:"continue_on_error"`
	JUnit           string         `yaml:"junit,omitempty"`
	Sim             SimConfig      `yaml:"sim,omitempty"`
}

// OpenOCDConfig locates a running OpenOCD instance.
type OpenOCDConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`     // Tcl RPC port
	GDBPort     int      `yaml:"gdb_port"` // GDB remote port
	DialTimeout Duration `yaml:"dial_timeout"`
}

// Address returns host:port of the Tcl RPC server.
func (o OpenOCDConfig) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// GDBConfig configures the gdb download method.
type GDBConfig struct {
	Path    string   `yaml:"path"`
	Timeout Duration `yaml:"timeout"`
}

// DownloadConfig selects how the image reaches the target.
type DownloadConfig struct {
	Method        string `yaml:"method"`
	SkipUnchanged bool   `yaml:"skip_unchanged"`
	// Flash marks the image as linked for flash. Selecting a flash board
	// sets it.
	Flash bool `yaml:"flash"`
}

// TimeoutConfig holds the runner's polling budget.
type TimeoutConfig struct {
	Startup      Duration `yaml:"startup"`
	Test         Duration `yaml:"test"`
	Halt         Duration `yaml:"halt"`
	PollInterval Duration `yaml:"poll_interval"`
}

// SimConfig tunes the simulated backend.
type SimConfig struct {
	StartupReads int `yaml:"startup_reads,omitempty"`
	RunReads     int `yaml:"run_reads,omitempty"`
	// Failures maps "suite.test" to the failure the simulated runtime reports.
	Failures map[string]SimFailure `yaml:"failures,omitempty"`
	// Hang lists "suite.test" names that never finish.
	Hang []string `yaml:"hang,omitempty"`
}

// SimFailure is one scripted assertion failure.
type SimFailure struct {
	File   string `yaml:"file"`
	Line   uint32 `yaml:"line"`
	Reason uint32 `yaml:"reason,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *RunConfig {
	return &RunConfig{
		Backend: BackendOpenOCD,
		OpenOCD: OpenOCDConfig{
			Host:        "localhost",
			Port:        6666,
			GDBPort:     3333,
			DialTimeout: Duration(5 * time.Second),
		},
		GDB: GDBConfig{
			Path:    "arm-none-eabi-gdb",
			Timeout: Duration(2 * time.Minute),
		},
		Download: DownloadConfig{
			Method:        DownloadAuto,
			SkipUnchanged: true,
		},
		Timeouts: TimeoutConfig{
			Startup:      Duration(500 * time.Millisecond),
			Test:         Duration(500 * time.Millisecond),
			Halt:         Duration(100 * time.Millisecond),
			PollInterval: Duration(10 * time.Millisecond),
		},
	}
}

// ApplyBoard fills the target-specific settings the user left empty from b.
func (c *RunConfig) ApplyBoard(b Board) {
	c.Board = b.Name
	if c.VectorTable == nil {
		vt := b.VectorTable
		c.VectorTable = &vt
	}
	if c.Interface == "" {
		c.Interface = b.Interface
	}
	if c.Speed == "" && b.SpeedKHz != 0 {
		c.Speed = fmt.Sprintf("%d", b.SpeedKHz)
	}
	if b.Flash {
		c.Download.Flash = true
	}
	if c.Download.Method == "" || c.Download.Method == DownloadAuto {
		if b.Flash {
			c.Download.Method = DownloadFlash
		} else {
			c.Download.Method = DownloadRAM
		}
	}
}

// ResolveBoard applies the catalog entry named by Board, if any.
func (c *RunConfig) ResolveBoard() error {
	if c.Board == "" {
		return nil
	}
	b, err := GetBoard(c.Board)
	if err != nil {
		return err
	}
	c.ApplyBoard(*b)
	return nil
}

// Validate checks the configuration for values the session cannot use.
func (c *RunConfig) Validate() error {
	switch c.Backend {
	case BackendOpenOCD, BackendSim:
	default:
		return fmt.Errorf("unknown backend %q (expected %s or %s)", c.Backend, BackendOpenOCD, BackendSim)
	}
	if c.VectorTable == nil {
		return fmt.Errorf("vector_table is not set (set it or select a board)")
	}
	if c.Interface != "" {
		if _, err := probe.ParseInterface(c.Interface); err != nil {
			return err
		}
	}
	if _, err := probe.ParseSpeed(c.Speed); err != nil {
		return err
	}
	if c.Backend == BackendOpenOCD {
		if c.OpenOCD.Host == "" {
			return fmt.Errorf("openocd.host is empty")
		}
		if err := validPort("openocd.port", c.OpenOCD.Port); err != nil {
			return err
		}
		if err := validPort("openocd.gdb_port", c.OpenOCD.GDBPort); err != nil {
			return err
		}
	}
	switch c.Download.Method {
	case DownloadAuto, DownloadRAM, DownloadFlash, DownloadGDB:
	default:
		return fmt.Errorf("unknown download method %q (expected auto, ram, flash or gdb)", c.Download.Method)
	}

	for name, d := range map[string]Duration{
		"timeouts.startup":       c.Timeouts.Startup,
		"timeouts.test":          c.Timeouts.Test,
		"timeouts.halt":          c.Timeouts.Halt,
		"timeouts.poll_interval": c.Timeouts.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Timeouts.PollInterval > c.Timeouts.Startup || c.Timeouts.PollInterval > c.Timeouts.Test {
		return fmt.Errorf("timeouts.poll_interval (%s) exceeds a poll timeout", c.Timeouts.PollInterval)
	}

	for name := range c.Sim.Failures {
		if !strings.Contains(name, ".") {
			return fmt.Errorf("sim.failures: %q is not a suite.test name", name)
		}
	}
	return nil
}

// ProbeInterface returns the parsed debug interface, defaulting to SWD.
func (c *RunConfig) ProbeInterface() probe.Interface {
	iface, err := probe.ParseInterface(c.Interface)
	if err != nil {
		return probe.InterfaceSWD
	}
	return iface
}

// ProbeSpeed returns the parsed adapter speed, defaulting to auto.
func (c *RunConfig) ProbeSpeed() probe.Speed {
	speed, err := probe.ParseSpeed(c.Speed)
	if err != nil {
		return probe.Speed{Mode: probe.SpeedAuto}
	}
	return speed
}

// DownloadMethod resolves "auto" to a concrete method. Without a board the
// image is assumed to be linked for RAM.
func (c *RunConfig) DownloadMethod() string {
	if c.Download.Method == "" || c.Download.Method == DownloadAuto {
		return DownloadRAM
	}
	return c.Download.Method
}

// ImageInFlash reports whether the image is written to flash, either by the
// flash method or because the board links images for flash.
func (c *RunConfig) ImageInFlash() bool {
	return c.Download.Flash || c.DownloadMethod() == DownloadFlash
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}
