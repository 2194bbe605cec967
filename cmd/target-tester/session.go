package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/config"
	"github.com/muurk/target-tester/internal/gdb"
	"github.com/muurk/target-tester/internal/image"
	"github.com/muurk/target-tester/internal/logging"
	"github.com/muurk/target-tester/internal/probe"
	"github.com/muurk/target-tester/internal/probe/openocd"
	"github.com/muurk/target-tester/internal/probe/sim"
	"github.com/muurk/target-tester/internal/runner"
)

// Global flags. Values left at their zero value do not override the
// configuration file.
var flags struct {
	configPath  string
	backend     string
	board       string
	vectorTable string
	iface       string
	speed       string
	openocdHost string
	openocdPort int
	gdbPort     int
	gdbPath     string
	download    string
	logLevel    string
	verbose     bool
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file (default: <config dir>/target-tester/config.yaml)")
	pf.StringVar(&flags.backend, "backend", "", "Probe backend: openocd or sim")
	pf.StringVarP(&flags.board, "board", "b", "", "Board from the catalog (see 'target-tester boards')")
	pf.StringVar(&flags.vectorTable, "vector-table", "", "Vector table address (e.g. 0x10028)")
	pf.StringVar(&flags.iface, "interface", "", "Debug interface: swd or jtag")
	pf.StringVar(&flags.speed, "speed", "", "Adapter speed: auto, adaptive or kHz")
	pf.StringVar(&flags.openocdHost, "openocd-host", "", "OpenOCD hostname")
	pf.IntVar(&flags.openocdPort, "openocd-port", 0, "OpenOCD Tcl RPC port")
	pf.IntVar(&flags.gdbPort, "gdb-port", 0, "OpenOCD GDB remote port")
	pf.StringVar(&flags.gdbPath, "gdb-path", "", "Path to arm-none-eabi-gdb binary")
	pf.StringVar(&flags.download, "download", "", "Download method: auto, ram, flash or gdb")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error (default: $TARGET_TESTER_LOG_LEVEL)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Show detailed tool output")
}

// loadConfig reads the configuration file, applies command-line overrides
// and the selected board, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.ResolveBoard(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.RunConfig) error {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("backend") {
		cfg.Backend = strings.ToLower(flags.backend)
	}
	if changed("board") {
		cfg.Board = flags.board
	}
	if changed("vector-table") {
		vt, err := config.ParseHexUint32(flags.vectorTable)
		if err != nil {
			return fmt.Errorf("--vector-table: %w", err)
		}
		cfg.VectorTable = &vt
	}
	if changed("interface") {
		cfg.Interface = flags.iface
	}
	if changed("speed") {
		cfg.Speed = flags.speed
	}
	if changed("openocd-host") {
		cfg.OpenOCD.Host = flags.openocdHost
	}
	if changed("openocd-port") {
		cfg.OpenOCD.Port = flags.openocdPort
	}
	if changed("gdb-port") {
		cfg.OpenOCD.GDBPort = flags.gdbPort
	}
	if changed("gdb-path") {
		cfg.GDB.Path = flags.gdbPath
	}
	if changed("download") {
		cfg.Download.Method = strings.ToLower(flags.download)
	}
	return nil
}

// session is an opened image, its symbols and a connected runner.
type session struct {
	cfg     *config.RunConfig
	file    *image.File
	symbols image.SymbolTable
	runner  *runner.Runner
}

// openImage parses the ELF and checks for the runtime symbols before any
// hardware is touched.
func openImage(path string) (*image.File, image.SymbolTable, error) {
	file, err := image.Open(path)
	if err != nil {
		return nil, nil, err
	}
	symbols, err := image.Symbols(file)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range []string{runner.SymbolFunToRun, runner.SymbolTestData} {
		if _, ok := symbols.Lookup(name); !ok {
			return nil, nil, &runner.MissingSymbolError{Symbol: name}
		}
	}
	return file, symbols, nil
}

// openSession connects to the configured backend and prepares a runner.
func openSession(ctx context.Context, cfg *config.RunConfig, path string, opts ...runner.Option) (*session, error) {
	file, symbols, err := openImage(path)
	if err != nil {
		return nil, err
	}

	conn, err := connect(ctx, cfg, symbols)
	if err != nil {
		return nil, err
	}

	opts = append([]runner.Option{
		runner.WithLogger(logging.Named("runner")),
		runner.WithStartupPoll(runner.PollPolicy{
			Interval: cfg.Timeouts.PollInterval.Std(),
			Timeout:  cfg.Timeouts.Startup.Std(),
		}),
		runner.WithFinishPoll(runner.PollPolicy{
			Interval: cfg.Timeouts.PollInterval.Std(),
			Timeout:  cfg.Timeouts.Test.Std(),
		}),
		runner.WithHaltTimeout(cfg.Timeouts.Halt.Std()),
		runner.WithContinueOnError(cfg.ContinueOnError),
	}, opts...)

	r, err := runner.New(file, uint32(*cfg.VectorTable), conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &session{cfg: cfg, file: file, symbols: symbols, runner: r}, nil
}

func (s *session) Close() error {
	return s.runner.Close()
}

// connect opens the backend named by cfg.Backend.
func connect(ctx context.Context, cfg *config.RunConfig, symbols image.SymbolTable) (probe.Connection, error) {
	switch cfg.Backend {
	case config.BackendSim:
		simCfg, err := simConfig(cfg.Sim, symbols)
		if err != nil {
			return nil, err
		}
		return sim.New(simCfg, logging.Named("sim")), nil

	case config.BackendOpenOCD:
		opts := openocd.Options{
			Address:       cfg.OpenOCD.Address(),
			DialTimeout:   cfg.OpenOCD.DialTimeout.Std(),
			Interface:     cfg.ProbeInterface(),
			Speed:         cfg.ProbeSpeed(),
			Method:        cfg.DownloadMethod(),
			SkipUnchanged: cfg.Download.SkipUnchanged,
		}
		if opts.Method == config.DownloadGDB {
			opts.Flasher = gdb.NewFlasher(newGDBExecutor(cfg), true, cfg.ImageInFlash())
		}
		target, err := openocd.Connect(ctx, opts, logging.Named("openocd"))
		if err != nil {
			return nil, err
		}
		return target, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func newGDBExecutor(cfg *config.RunConfig) *gdb.Executor {
	return gdb.NewExecutor(gdb.Config{
		GDBPath: cfg.GDB.Path,
		Host:    cfg.OpenOCD.Host,
		Port:    cfg.OpenOCD.GDBPort,
		Timeout: cfg.GDB.Timeout.Std(),
	}, logging.Named("gdb"))
}

// simConfig maps the suite.test names of the sim section to the addresses
// the image exports.
func simConfig(sc config.SimConfig, symbols image.SymbolTable) (sim.Config, error) {
	cfg, err := sim.ConfigFromSymbols(symbols)
	if err != nil {
		return sim.Config{}, err
	}
	if sc.StartupReads > 0 {
		cfg.StartupReads = sc.StartupReads
	}
	if sc.RunReads > 0 {
		cfg.RunReads = sc.RunReads
	}

	byName := make(map[string]uint32)
	for _, tc := range runner.DiscoverTests(symbols) {
		byName[tc.FullName()] = tc.Addr
	}
	lookup := func(name string) (uint32, error) {
		addr, ok := byName[name]
		if !ok {
			return 0, fmt.Errorf("sim: test %q not found in image", name)
		}
		return addr, nil
	}

	if len(sc.Failures) > 0 {
		cfg.Failures = make(map[uint32]sim.Failure, len(sc.Failures))
		for name, f := range sc.Failures {
			addr, err := lookup(name)
			if err != nil {
				return sim.Config{}, err
			}
			cfg.Failures[addr] = sim.Failure{File: f.File, Line: f.Line, Reason: f.Reason}
		}
	}
	if len(sc.Hang) > 0 {
		cfg.Faults.Hang = make(map[uint32]bool, len(sc.Hang))
		for _, name := range sc.Hang {
			addr, err := lookup(name)
			if err != nil {
				return sim.Config{}, err
			}
			cfg.Faults.Hang[addr] = true
		}
	}
	return cfg, nil
}

// sessionFields describes the target for log lines.
func sessionFields(cfg *config.RunConfig) []zap.Field {
	return []zap.Field{
		zap.String("backend", cfg.Backend),
		zap.String("board", cfg.Board),
		zap.String("download", cfg.DownloadMethod()),
	}
}
