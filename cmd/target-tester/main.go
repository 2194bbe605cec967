// Target-tester runs the unit tests embedded in a firmware image on a real
// microcontroller.
//
// The image is downloaded through a debug probe, then every test the image
// exports is started one at a time by writing its address into the target's
// test runtime and polling a CRC-protected status record until it reports
// the outcome.
//
// Prerequisites:
//
//   - A firmware ELF linked against the target test runtime
//   - OpenOCD running and attached to the target (Tcl port 6666)
//   - Optionally arm-none-eabi-gdb for the gdb download method
//
// See 'target-tester --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/target-tester/internal/logging"
	"github.com/muurk/target-tester/internal/version"
)

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "target-tester",
	Short: "On-target unit test runner",
	Long: `Download a firmware image through a debug probe and run the unit tests
it contains, one at a time, directly on the microcontroller.

Each test reports its result through a status record in target RAM:
  - Passed or failed, with file and line of the failing assertion
  - Results are printed per suite and can be written as JUnit XML

Backends:
  - openocd  OpenOCD Tcl RPC (default, localhost:6666)
  - sim      In-process simulated target for dry runs

Use 'target-tester verify-setup' to check prerequisites.`,
	Version: version.Version,
	Example: `  # Run all tests on an S32K148 board
  target-tester run --board s32k148 build/tests.elf

  # Write a JUnit report for CI
  target-tester run --board s32k148 --junit report.xml --yes build/tests.elf

  # List the tests in an image without touching hardware
  target-tester list build/tests.elf

  # Dry run against the simulated target
  target-tester run --backend sim --vector-table 0x0 build/tests.elf`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "target-tester %s (%s)\n", version.Full(), version.Platform())
	},
}

// initLogging honours --log-level first, then TARGET_TESTER_LOG_LEVEL.
// Logging stays silent otherwise.
func initLogging() error {
	if flags.logLevel != "" {
		return logging.Initialize(flags.logLevel)
	}
	// GetLogger falls back to a no-op logger on error
	_ = logging.InitializeFromEnv()
	return nil
}
