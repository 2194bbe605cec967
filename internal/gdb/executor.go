package gdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/gdb/scripts"
)

// Config holds the configuration for GDB execution.
type Config struct {
	// GDBPath is the path to the arm-none-eabi-gdb binary.
	// Default: "arm-none-eabi-gdb" (searches PATH)
	GDBPath string

	// Host is the hostname/IP where OpenOCD is running.
	// Default: "localhost"
	Host string

	// Port is OpenOCD's GDB remote port.
	// Default: 3333
	Port int

	// Timeout is the maximum time to wait for GDB to complete.
	// Default: 2 minutes
	Timeout time.Duration

	// WorkDir is the working directory for temporary files.
	// Default: os.TempDir()
	WorkDir string

	// Output, when set, receives a copy of GDB's stdout as it is produced.
	Output io.Writer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GDBPath: "arm-none-eabi-gdb",
		Host:    "localhost",
		Port:    3333,
		Timeout: 2 * time.Minute,
		WorkDir: os.TempDir(),
	}
}

// Executor executes GDB scripts via os/exec.
type Executor struct {
	config Config
	logger *zap.Logger
	parser *Parser
}

// NewExecutor creates a new GDB executor with the given configuration.
func NewExecutor(config Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config: config,
		logger: logger,
		parser: NewParser(),
	}
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs a GDB script and returns the parsed result.
//
// Steps:
//  1. Render script template with parameters
//  2. Write rendered script to temporary file
//  3. Execute GDB with script file
//  4. Parse output using script.Parse()
//  5. Clean up temporary file
func (e *Executor) Execute(ctx context.Context, script scripts.Script) (*scripts.Result, error) {
	startTime := time.Now()

	e.logger.Info("executing GDB script",
		zap.String("script", script.Name()),
		zap.String("gdb_path", e.config.GDBPath),
		zap.String("remote", fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)),
		zap.Duration("timeout", e.config.Timeout),
	)

	rendered, err := e.renderTemplate(script)
	if err != nil {
		return nil, &TemplateError{
			Template: script.Name(),
			Err:      err,
		}
	}

	e.logger.Debug("rendered GDB script template",
		zap.String("script", script.Name()),
		zap.String("content", rendered),
	)

	scriptFile, err := e.writeScriptFile(script.Name(), rendered)
	if err != nil {
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}
	defer os.Remove(scriptFile)

	stdout, stderr, exitCode, err := e.executeGDB(ctx, scriptFile)
	duration := time.Since(startTime)

	e.logger.Debug("GDB execution complete",
		zap.String("script", script.Name()),
		zap.Duration("duration", duration),
		zap.Int("exit_code", exitCode),
		zap.String("stdout", stdout),
		zap.String("stderr", stderr),
	)

	if err != nil {
		if _, ok := err.(*TimeoutError); ok {
			return nil, err
		}
		return nil, &ExecError{
			Script:   script.Name(),
			ExitCode: exitCode,
			Stderr:   stderr,
			Stdout:   stdout,
			Err:      err,
		}
	}

	result, err := script.Parse(stdout)
	if err != nil {
		return nil, &ParseError{
			Script: script.Name(),
			Output: stdout,
			Err:    err,
		}
	}

	if len(result.Steps) == 0 {
		result.Steps = e.parser.ParseSteps(stdout)
	}
	if result.BytesWritten == 0 {
		if n, err := e.parser.ParseResult(stdout, "bytes_written"); err == nil {
			result.BytesWritten = int(n)
		}
	}
	if !result.Success && result.Error == nil {
		result.Error = e.parser.DetectErrors(stdout + "\n" + stderr)
	}

	result.Duration = duration
	result.RawOutput = stdout
	result.RawStderr = stderr

	e.logger.Info("GDB script executed",
		zap.String("script", script.Name()),
		zap.Duration("duration", duration),
		zap.Bool("success", result.Success),
		zap.Int("steps", result.TotalSteps()),
		zap.Int("bytes_written", result.BytesWritten),
		zap.Int("bytes_read", result.BytesRead),
	)

	return result, nil
}

// renderTemplate renders the script template with parameters.
func (e *Executor) renderTemplate(script scripts.Script) (string, error) {
	tmpl, err := template.New(script.Name()).Parse(script.Template())
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, script.Params()); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// writeScriptFile writes the rendered script to a temporary file.
func (e *Executor) writeScriptFile(name, content string) (string, error) {
	pattern := fmt.Sprintf("target-tester-gdb-%s-*.gdb", name)
	file, err := os.CreateTemp(e.config.WorkDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write script content: %w", err)
	}

	return file.Name(), nil
}

// executeGDB runs GDB in batch mode on scriptFile.
func (e *Executor) executeGDB(ctx context.Context, scriptFile string) (stdout, stderr string, exitCode int, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// -batch: exit after processing script
	// -nx: don't execute .gdbinit
	// -x: execute commands from file
	cmd := exec.CommandContext(timeoutCtx, e.config.GDBPath,
		"-batch",
		"-nx",
		"-x", scriptFile,
	)

	var stdoutBuf, stderrBuf bytes.Buffer
	if e.config.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, e.config.Output)
	} else {
		cmd.Stdout = &stdoutBuf
	}
	cmd.Stderr = &stderrBuf
	err = cmd.Run()

	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = &TimeoutError{
			Script:  filepath.Base(scriptFile),
			Timeout: e.config.Timeout,
		}
	}

	return stdout, stderr, exitCode, err
}

// ValidateConfig checks that the configured GDB binary runs. An unreachable
// GDB port is logged, not returned.
func (e *Executor) ValidateConfig(ctx context.Context) error {
	if err := ValidateGDBPath(ctx, e.config.GDBPath); err != nil {
		return err
	}

	if err := ValidateOpenOCDConnection(ctx, e.config.Host, e.config.Port); err != nil {
		e.logger.Warn("OpenOCD GDB port check failed",
			zap.String("host", e.config.Host),
			zap.Int("port", e.config.Port),
			zap.Error(err),
		)
	}

	return nil
}
