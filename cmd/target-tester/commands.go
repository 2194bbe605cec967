package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/config"
	"github.com/muurk/target-tester/internal/gdb"
	"github.com/muurk/target-tester/internal/logging"
	"github.com/muurk/target-tester/internal/probe"
	"github.com/muurk/target-tester/internal/protocol"
	"github.com/muurk/target-tester/internal/report"
	"github.com/muurk/target-tester/internal/runner"
	"github.com/muurk/target-tester/internal/ui"
)

// errTestsFailed is returned by run when every test ran but some failed.
var errTestsFailed = errors.New("one or more tests failed")

// Command flags
var (
	junitPath       string
	assumeYes       bool
	continueOnError bool
	skipDownload    bool
	rawOutput       string
	forceWrite      bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(dumpRecordCmd)
	rootCmd.AddCommand(verifySetupCmd)
	rootCmd.AddCommand(boardsCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
}

// signalContext cancels on Ctrl-C so a hung poll stops promptly.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

// troubleshooting returns tips for a fatal error.
func troubleshooting(err error) []string {
	if errors.Is(err, context.Canceled) {
		return []string{"The run was interrupted"}
	}
	switch runner.Classify(err) {
	case runner.ClassImage:
		return []string{
			"Check the image was linked against the target test runtime",
			"Check --vector-table or --board matches the image's link address",
			"List the tests the image exports: target-tester list <elf>",
		}
	case runner.ClassTransport:
		return []string{
			"Ensure OpenOCD is running: openocd -f <board.cfg>",
			"Check the probe is connected and the target is powered",
			"Try: target-tester verify-setup",
		}
	case runner.ClassProtocol:
		return []string{
			"The target may have reset or faulted while running the test",
			"Check the runtime linked into the image matches this tool",
			"Run with --log-level debug to see raw status record dumps",
		}
	case runner.ClassTimeout:
		return []string{
			"A test may hang or the target may be stuck in a fault handler",
			"Increase timeouts.startup or timeouts.test in the configuration",
			"Use continue_on_error to run the remaining tests anyway",
		}
	}
	return []string{"Run with --log-level debug for details"}
}

func configTips() []string {
	return []string{
		"Select a board: --board <name> (see 'target-tester boards')",
		"Or set the vector table address: --vector-table 0x...",
		"Create a configuration file: target-tester config init",
	}
}

// runCmd implements the 'run' command
var runCmd = &cobra.Command{
	Use:   "run <elf>",
	Short: "Download an image and run all of its tests",
	Long: `Download a firmware image to the target and run every test it contains.

This command will:
  1. Parse the image and discover tests from its symbol table
  2. Connect to the target through the selected backend
  3. Download the image (unless --skip-download is set)
  4. Run each test: reset, wait for the runtime, inject the test, wait for the result
  5. Print a per-suite summary and optionally write a JUnit XML report

By default the run stops at the first test that cannot be completed
(timeout, probe error, corrupt status record). With --continue-on-error such
tests are reported as errors and the run continues.`,
	Example: `  # Run on a catalog board
  target-tester run --board s32k148 build/tests.elf

  # CI: no prompt, JUnit report, keep going after errors
  target-tester run -b s32k148 --yes --junit out/report.xml --continue-on-error build/tests.elf`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&junitPath, "junit", "", "Write a JUnit XML report to this file")
	runCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before erasing flash")
	runCmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Record failed infrastructure steps and continue with the next test")
	runCmd.Flags().BoolVar(&skipDownload, "skip-download", false, "Run the tests without downloading the image first")
}

func runRun(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	p := ui.NewPrinter(out)

	cfg, err := loadConfig(cmd)
	if err != nil {
		p.PrintFailure("Invalid configuration", err, configTips())
		return err
	}
	if cmd.Flags().Changed("junit") {
		cfg.JUnit = junitPath
	}
	if cmd.Flags().Changed("continue-on-error") {
		cfg.ContinueOnError = continueOnError
	}

	p.PrintHeader("Test Run", "target-tester run "+args[0], targetParams(cfg)...)
	logging.Info("Starting test run", append(sessionFields(cfg), zap.String("image", args[0]))...)

	ctx, stop := signalContext(cmd)
	defer stop()

	obs := newConsoleObserver(out, p.Width())
	s, err := openSession(ctx, cfg, args[0], runner.WithObserver(obs))
	if err != nil {
		p.PrintFailure("Test run failed", err, troubleshooting(err))
		return err
	}
	defer s.Close()

	tests := s.runner.Tests()
	obs.setTests(tests)
	if len(tests) == 0 {
		p.PrintWarning("No tests found", ui.Param{Key: "Image", Value: args[0]})
		return nil
	}

	if !skipDownload {
		img := s.runner.Addresses().Image
		if cfg.DownloadMethod() == config.DownloadFlash && !assumeYes {
			if !ui.FlashEraseConfirmation(cmd.InOrStdin(), out, img.Addr, len(img.Data)) {
				return nil // User cancelled
			}
		}
		p.Println(ui.StepRunningStyle.Render(fmt.Sprintf("  Downloading %s (%d bytes at 0x%08x)", args[0], len(img.Data), img.Addr)))
		if err := s.runner.Download(ctx); err != nil {
			p.PrintFailure("Download failed", err, troubleshooting(err))
			return err
		}
		p.Newline()
	}

	results, runErr := s.runner.RunAllTests(ctx)
	notRun := len(tests) - len(results)

	p.Newline()
	p.Println(obs.bar())
	p.Newline()

	// Partial results are still reported after an abort.
	if cfg.JUnit != "" {
		if err := report.WriteJUnitFile(cfg.JUnit, results); err != nil {
			p.PrintFailure("Could not write JUnit report", err, []string{"Check the directory is writable"})
			if runErr == nil {
				return err
			}
		} else {
			logging.Info("JUnit report written", zap.String("path", cfg.JUnit))
		}
	}

	render(out, report.Summary(results, notRun, p.Width()))

	if runErr != nil {
		p.Newline()
		p.PrintFailure("Test run aborted", runErr, troubleshooting(runErr))
		return runErr
	}
	if !report.Count(results).OK() {
		return errTestsFailed
	}
	return nil
}

func targetParams(cfg *config.RunConfig) []ui.Param {
	params := []ui.Param{{Key: "Backend", Value: cfg.Backend}}
	if cfg.Backend == config.BackendOpenOCD {
		params = append(params, ui.Param{Key: "OpenOCD", Value: cfg.OpenOCD.Address()})
	}
	if cfg.Board != "" {
		params = append(params, ui.Param{Key: "Board", Value: cfg.Board})
	}
	params = append(params,
		ui.Param{Key: "Vector table", Value: cfg.VectorTable.String()},
		ui.Param{Key: "Interface", Value: string(cfg.ProbeInterface())},
		ui.Param{Key: "Speed", Value: cfg.ProbeSpeed().String()},
		ui.Param{Key: "Download", Value: cfg.DownloadMethod()},
	)
	return params
}

// listCmd implements the 'list' command
var listCmd = &cobra.Command{
	Use:   "list <elf>",
	Short: "List the tests contained in an image",
	Long: `Parse a firmware image and list the tests it exports, grouped by suite,
in the order they would run. No hardware is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	p := ui.NewPrinter(out)

	file, symbols, err := openImage(args[0])
	if err != nil {
		p.PrintFailure("Could not read image", err, troubleshooting(err))
		return err
	}
	seg, err := file.Image()
	if err != nil {
		p.PrintFailure("Could not read image", err, troubleshooting(err))
		return err
	}

	tests := runner.DiscoverTests(symbols)
	p.PrintHeader("Test List", "target-tester list "+args[0],
		ui.Param{Key: "Image", Value: seg.String()},
		ui.Param{Key: "Tests", Value: fmt.Sprintf("%d", len(tests))},
	)

	addr := lipgloss.NewStyle().Foreground(ui.MutedColor)
	suite := ""
	for _, tc := range tests {
		if tc.SuiteName != suite {
			suite = tc.SuiteName
			p.Println(ui.HeaderTitleStyle.Render(suite))
		}
		p.Println(fmt.Sprintf("    %-40s %s", tc.TestName, addr.Render(fmt.Sprintf("0x%08x", tc.Addr))))
	}
	if len(tests) == 0 {
		p.PrintWarning("No tests found", ui.Param{Key: "Hint", Value: "test functions must be declared with the TEST macro"})
	}
	return nil
}

// downloadCmd implements the 'download' command
var downloadCmd = &cobra.Command{
	Use:   "download <elf>",
	Short: "Download an image without running tests",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before erasing flash")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	p := ui.NewPrinter(out)

	cfg, err := loadConfig(cmd)
	if err != nil {
		p.PrintFailure("Invalid configuration", err, configTips())
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	var s *session
	defer func() {
		if s != nil {
			s.Close()
		}
	}()

	op := ui.NewOperation(ui.OperationConfig{
		Title:     "Image Download",
		Command:   "target-tester download " + args[0],
		Params:    targetParams(cfg),
		StepNames: []string{"Connect to target", "Download image"},
		Troubleshooting: []string{
			"Ensure OpenOCD is running and attached to the target",
			"Try: target-tester verify-setup",
		},
		Verbose: flags.verbose,
		Output:  out,
	})
	return op.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Param, error) {
		onStep(1, "", ui.StepRunning, cfg.Backend)
		s, err = openSession(ctx, cfg, args[0])
		if err != nil {
			onStep(1, "", ui.StepFailed, runner.Classify(err).String()+" error")
			return nil, err
		}
		onStep(1, "", ui.StepComplete, cfg.Backend)

		img := s.runner.Addresses().Image
		if cfg.DownloadMethod() == config.DownloadFlash && !assumeYes {
			if !ui.FlashEraseConfirmation(cmd.InOrStdin(), out, img.Addr, len(img.Data)) {
				onStep(2, "", ui.StepSkipped, "cancelled")
				return nil, errors.New("download cancelled")
			}
		}

		onStep(2, "", ui.StepRunning, fmt.Sprintf("%d bytes", len(img.Data)))
		if err := s.runner.Download(ctx); err != nil {
			onStep(2, "", ui.StepFailed, err.Error())
			return nil, err
		}
		onStep(2, "", ui.StepComplete, fmt.Sprintf("%d bytes", len(img.Data)))

		return []ui.Param{
			{Key: "Address", Value: fmt.Sprintf("0x%08x", img.Addr)},
			{Key: "Size", Value: fmt.Sprintf("%d bytes", len(img.Data))},
			{Key: "Method", Value: cfg.DownloadMethod()},
		}, nil
	})
}

// dumpRecordCmd implements the 'dump-record' command
var dumpRecordCmd = &cobra.Command{
	Use:   "dump-record <elf>",
	Short: "Read and decode the target's test status record",
	Long: `Read the status record the test runtime keeps in target RAM and print it.

The record address is taken from the image's symbol table. The target is not
reset or halted. Use --raw-out to also save the raw record bytes; with the
openocd backend this is done through arm-none-eabi-gdb.`,
	Args: cobra.ExactArgs(1),
	RunE: runDumpRecord,
}

func init() {
	dumpRecordCmd.Flags().StringVar(&rawOutput, "raw-out", "", "Also write the raw record bytes to this file")
}

func runDumpRecord(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	p := ui.NewPrinter(out)

	cfg, err := loadConfig(cmd)
	if err != nil {
		p.PrintFailure("Invalid configuration", err, configTips())
		return err
	}

	_, symbols, err := openImage(args[0])
	if err != nil {
		p.PrintFailure("Could not read image", err, troubleshooting(err))
		return err
	}
	addr, _ := symbols.Lookup(runner.SymbolTestData)

	p.PrintHeader("Status Record", "target-tester dump-record "+args[0],
		append(targetParams(cfg), ui.Param{Key: "Record", Value: fmt.Sprintf("0x%08x (%d bytes)", addr, protocol.RecordSize)})...)

	ctx, stop := signalContext(cmd)
	defer stop()

	conn, err := connect(ctx, cfg, symbols)
	if err != nil {
		p.PrintFailure("Could not connect", err, troubleshooting(err))
		return err
	}
	defer conn.Close()

	if rawOutput != "" {
		if err := dumpRaw(ctx, cfg, conn, addr); err != nil {
			p.PrintFailure("Raw dump failed", err, []string{
				"The gdb dump needs arm-none-eabi-gdb and OpenOCD's GDB port",
				"Try: target-tester verify-setup",
			})
			return err
		}
	}

	snap, err := protocol.Fetch(ctx, conn, addr)
	switch {
	case errors.Is(err, protocol.ErrNotPopulated):
		p.PrintWarning("Record not populated",
			ui.Param{Key: "Address", Value: fmt.Sprintf("0x%08x", addr)},
			ui.Param{Key: "Hint", Value: "the runtime has not started since the last reset"})
		return nil
	case err != nil:
		p.PrintFailure("Could not decode record", err, troubleshooting(err))
		return err
	}

	details := snapshotParams(snap)
	if rawOutput != "" {
		details = append(details, ui.Param{Key: "Raw output", Value: rawOutput})
	}
	p.PrintSuccess("Record decoded", details...)
	return nil
}

func snapshotParams(s protocol.Snapshot) []ui.Param {
	opt := func(ok bool, v func() string) string {
		if !ok {
			return "-"
		}
		return v()
	}
	return []ui.Param{
		{Key: "State", Value: opt(s.State != nil, func() string { return s.State.String() })},
		{Key: "Executed", Value: opt(s.ExecutedFunction != nil, func() string { return fmt.Sprintf("0x%08x", *s.ExecutedFunction) })},
		{Key: "Fail reason", Value: opt(s.FailReason != nil, func() string { return s.FailReason.String() })},
		{Key: "File", Value: opt(s.FilePath != nil, func() string { return *s.FilePath })},
		{Key: "Line", Value: opt(s.Lineno != nil, func() string { return fmt.Sprintf("%d", *s.Lineno) })},
	}
}

// dumpRaw saves the record bytes. OpenOCD targets are dumped through gdb so
// the file matches what a debugger session sees.
func dumpRaw(ctx context.Context, cfg *config.RunConfig, conn probe.MemoryReader, addr uint32) error {
	if cfg.Backend == config.BackendOpenOCD {
		return gdb.NewFlasher(newGDBExecutor(cfg), false, false).Dump(ctx, addr, protocol.RecordSize, rawOutput)
	}
	raw, err := conn.ReadRAM(ctx, addr, protocol.RecordSize)
	if err != nil {
		return err
	}
	return os.WriteFile(rawOutput, raw, 0o644)
}

// verifySetupCmd implements the 'verify-setup' command
var verifySetupCmd = &cobra.Command{
	Use:   "verify-setup",
	Short: "Check OpenOCD and GDB prerequisites",
	Long: `Check that the tools the configured backend needs are reachable:

  - OpenOCD's Tcl RPC port (openocd backend)
  - arm-none-eabi-gdb and OpenOCD's GDB port (gdb download method)

Checks that the current configuration does not need are reported but do not
fail the command.`,
	RunE: runVerifySetup,
}

func runVerifySetup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	p := ui.NewPrinter(out)

	// The vector table is irrelevant here, so the config is not validated.
	cfg, err := config.Load(flags.configPath)
	if err == nil {
		err = applyFlags(cmd, cfg)
	}
	if err == nil {
		err = cfg.ResolveBoard()
	}
	if err != nil {
		p.PrintFailure("Invalid configuration", err, configTips())
		return err
	}

	p.PrintHeader("Setup Verification", "target-tester verify-setup",
		ui.Param{Key: "Backend", Value: cfg.Backend},
		ui.Param{Key: "GDB Path", Value: cfg.GDB.Path},
		ui.Param{Key: "OpenOCD", Value: fmt.Sprintf("%s (tcl %d, gdb %d)", cfg.OpenOCD.Host, cfg.OpenOCD.Port, cfg.OpenOCD.GDBPort)},
	)

	ctx, stop := signalContext(cmd)
	defer stop()

	result := gdb.ValidatePrerequisites(ctx, gdb.PrerequisiteOptions{
		GDBPath:        cfg.GDB.Path,
		Host:           cfg.OpenOCD.Host,
		TclPort:        cfg.OpenOCD.Port,
		GDBPort:        cfg.OpenOCD.GDBPort,
		RequireGDB:     cfg.DownloadMethod() == config.DownloadGDB,
		RequireOpenOCD: cfg.Backend == config.BackendOpenOCD,
	})

	prog := ui.NewProgress("", len(result.Checks))
	prog.SetWidth(p.Width())
	for i, check := range result.Checks {
		prog.Steps[i].Name = check.Name
		status := ui.StepComplete
		switch {
		case check.Available:
		case check.Required:
			status = ui.StepFailed
		default:
			status = ui.StepSkipped
		}
		prog.UpdateStep(i+1, status, check.Message)
		p.Println(prog.RenderStep(prog.Steps[i]))
	}
	p.Newline()

	if !result.AllAvailable {
		var failed []string
		var tips []string
		for _, check := range result.Checks {
			if check.Available || !check.Required {
				continue
			}
			failed = append(failed, check.Name)
			if strings.Contains(strings.ToLower(check.Name), "gdb binary") {
				tips = append(tips,
					"Install ARM toolchain: brew install arm-none-eabi-gcc (macOS)",
					"Or: apt install gdb-multiarch (Linux) and pass --gdb-path",
				)
			} else {
				tips = append(tips,
					"Ensure OpenOCD is running: openocd -f <board.cfg>",
					"Check OpenOCD is listening on the configured host and ports",
				)
			}
		}
		err := fmt.Errorf("unavailable: %s", strings.Join(failed, ", "))
		p.PrintFailure("Setup verification failed", err, tips)
		return fmt.Errorf("setup verification failed")
	}

	p.PrintSuccess("Setup verification complete",
		ui.Param{Key: "Backend", Value: cfg.Backend},
		ui.Param{Key: "Download", Value: cfg.DownloadMethod()},
		ui.Param{Key: "Status", Value: "Ready to run tests"},
	)
	return nil
}

// boardsCmd implements the 'boards' command
var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List the built-in board catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		p := ui.NewPrinter(cmd.OutOrStdout())

		p.PrintHeader("Board Catalog", "target-tester boards")
		muted := lipgloss.NewStyle().Foreground(ui.MutedColor)
		for _, name := range config.BoardNames() {
			b, err := config.GetBoard(name)
			if err != nil {
				return err
			}
			speed := "auto"
			if b.SpeedKHz != 0 {
				speed = fmt.Sprintf("%d kHz", b.SpeedKHz)
			}
			mem := "ram"
			if b.Flash {
				mem = "flash"
			}
			p.Println(ui.HeaderTitleStyle.Render(b.Name) + "  " + muted.Render(b.Description))
			p.Println(muted.Render(fmt.Sprintf("    vector table %s, %s, %s, %s", b.VectorTable, b.Interface, speed, mem)))
		}
		return nil
	},
}

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		p := ui.NewPrinter(cmd.OutOrStdout())

		path := flags.configPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		if _, err := os.Stat(path); err == nil && !forceWrite {
			p.PrintWarning("Configuration exists",
				ui.Param{Key: "File", Value: path},
				ui.Param{Key: "Action", Value: "pass --force to overwrite"})
			return fmt.Errorf("%s already exists", path)
		}

		cfg := config.DefaultConfig()
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := config.Save(cfg, path); err != nil {
			p.PrintFailure("Could not write configuration", err, nil)
			return err
		}
		p.PrintSuccess("Configuration written", ui.Param{Key: "File", Value: path})
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceWrite, "force", false, "Overwrite an existing file")
}
