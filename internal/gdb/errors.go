package gdb

import (
	"fmt"
	"strings"
	"time"
)

// ExecError is returned when arm-none-eabi-gdb exits unsuccessfully while
// running a load or dump script.
type ExecError struct {
	Script   string
	ExitCode int
	Stderr   string
	Stdout   string
	Err      error
}

func (e *ExecError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gdb %s script exited with code %d", e.Script, e.ExitCode)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString("\nstderr: ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// RemoteError means gdb could not reach the OpenOCD gdb server. Host is
// empty when the failure was only seen in gdb's own output.
type RemoteError struct {
	Host string
	Port int
	Err  error
}

func (e *RemoteError) Error() string {
	where := "gdb server"
	if e.Host != "" {
		where = fmt.Sprintf("gdb server at %s:%d", e.Host, e.Port)
	}
	return fmt.Sprintf("%s unreachable: %v\n"+
		"Hint: start OpenOCD for your board first, e.g. openocd -f interface/<probe>.cfg -f target/<chip>.cfg",
		where, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ParseError is returned when a script ran but its output did not carry the
// expected result markers.
type ParseError struct {
	Script string
	Output string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected output from gdb %s script: %v", e.Script, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PrerequisiteError reports a gdb binary that is missing or unusable.
type PrerequisiteError struct {
	Prerequisite string
	Details      string
	Err          error
}

func (e *PrerequisiteError) Error() string {
	msg := "gdb prerequisite not met: " + e.Prerequisite
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// TemplateError wraps a failure to render a script template.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("render gdb script %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a script outlives the configured gdb timeout.
type TimeoutError struct {
	Script  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gdb %s script did not finish within %s\n"+
		"Hint: raise gdb.timeout for large images or slow adapter speeds",
		e.Script, e.Timeout)
}
