package gdb

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"
)

// probeTimeout bounds each individual prerequisite check.
const probeTimeout = 2 * time.Second

// PrerequisiteCheck represents the result of checking a single prerequisite.
type PrerequisiteCheck struct {
	// Name is the human-readable name of the prerequisite
	Name string
	// Required marks checks whose failure makes the setup unusable
	Required bool
	// Available indicates whether the prerequisite is available
	Available bool
	// Path is the resolved path (for binary checks)
	Path string
	// Version is the detected version (if applicable)
	Version string
	// Message provides additional context (error message or success info)
	Message string
	// Error contains the underlying error if check failed
	Error error
}

// PrerequisiteResult contains the results of all prerequisite checks.
type PrerequisiteResult struct {
	Checks []PrerequisiteCheck
	// AllAvailable is true if every required prerequisite is available
	AllAvailable bool
}

// PrerequisiteOptions selects what ValidatePrerequisites checks.
type PrerequisiteOptions struct {
	GDBPath string
	Host    string
	// TclPort is OpenOCD's Tcl RPC port, used by the openocd backend
	TclPort int
	// GDBPort is OpenOCD's GDB remote port, used by the gdb download method
	GDBPort int
	// RequireGDB makes the GDB binary and GDB port mandatory
	RequireGDB bool
	// RequireOpenOCD makes the Tcl port mandatory
	RequireOpenOCD bool
}

// ValidatePrerequisites checks the toolchain and OpenOCD and returns a
// detailed report. Optional checks are reported but do not clear
// AllAvailable.
func ValidatePrerequisites(ctx context.Context, opts PrerequisiteOptions) *PrerequisiteResult {
	result := &PrerequisiteResult{
		Checks:       make([]PrerequisiteCheck, 0, 3),
		AllAvailable: true,
	}

	add := func(check PrerequisiteCheck) {
		result.Checks = append(result.Checks, check)
		if check.Required && !check.Available {
			result.AllAvailable = false
		}
	}

	gdbCheck := checkGDBBinary(ctx, opts.GDBPath)
	gdbCheck.Required = opts.RequireGDB
	add(gdbCheck)

	tclCheck := checkPort(ctx, "OpenOCD Tcl RPC", opts.Host, opts.TclPort)
	tclCheck.Required = opts.RequireOpenOCD
	add(tclCheck)

	gdbPortCheck := checkPort(ctx, "OpenOCD GDB server", opts.Host, opts.GDBPort)
	gdbPortCheck.Required = opts.RequireGDB
	add(gdbPortCheck)

	return result
}

// checkGDBBinary verifies that the GDB binary is available and executable.
func checkGDBBinary(ctx context.Context, gdbPath string) PrerequisiteCheck {
	if gdbPath == "" {
		gdbPath = "arm-none-eabi-gdb"
	}
	check := PrerequisiteCheck{
		Name: gdbPath,
	}

	path, err := exec.LookPath(gdbPath)
	if err != nil {
		check.Error = err
		check.Message = gdbPath + " not found in PATH\n" +
			"Install on macOS: brew install --cask gcc-arm-embedded\n" +
			"Install on Linux: sudo apt-get install gdb-multiarch (and set gdb.path)"
		return check
	}
	check.Path = path

	versionCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(versionCtx, path, "--version").Output()
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s found at %s but failed to execute: %v", gdbPath, path, err)
		return check
	}

	if first, _, _ := strings.Cut(string(output), "\n"); first != "" {
		check.Version = strings.TrimSpace(first)
	}
	check.Available = true
	check.Message = fmt.Sprintf("Found at %s", path)
	return check
}

// checkPort attempts a TCP connection to host:port.
func checkPort(ctx context.Context, name, host string, port int) PrerequisiteCheck {
	check := PrerequisiteCheck{
		Name: name,
	}

	if err := ValidateOpenOCDConnection(ctx, host, port); err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("Cannot connect to %s:%d\n"+
			"Ensure OpenOCD is running: openocd -f interface/<probe>.cfg -f target/<chip>.cfg", host, port)
		return check
	}

	check.Available = true
	check.Message = fmt.Sprintf("Connected successfully to %s:%d", host, port)
	return check
}

// ValidateGDBPath checks if a specific GDB binary path is valid and executable.
func ValidateGDBPath(ctx context.Context, gdbPath string) error {
	if gdbPath == "" {
		return &PrerequisiteError{
			Prerequisite: "arm-none-eabi-gdb",
			Details:      "GDB path is empty",
		}
	}

	versionCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(versionCtx, gdbPath, "--version").Output()
	if err != nil {
		return &PrerequisiteError{
			Prerequisite: gdbPath,
			Details:      fmt.Sprintf("Failed to execute %s --version", gdbPath),
			Err:          err,
		}
	}

	if !strings.Contains(string(output), "GNU gdb") {
		return &PrerequisiteError{
			Prerequisite: gdbPath,
			Details:      fmt.Sprintf("%s does not appear to be GNU GDB", gdbPath),
		}
	}

	return nil
}

// ValidateOpenOCDConnection checks if OpenOCD is accepting connections at
// the given host and port.
func ValidateOpenOCDConnection(ctx context.Context, host string, port int) error {
	dialer := net.Dialer{
		Timeout: probeTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return &RemoteError{
			Host: host,
			Port: port,
			Err:  err,
		}
	}
	defer conn.Close()

	return nil
}
