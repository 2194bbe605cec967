package gdb

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/gdb/scripts"
)

// mockScript implements scripts.Script for testing
type mockScript struct {
	name         string
	template     string
	params       map[string]interface{}
	parseFunc    func(output string) (*scripts.Result, error)
	parseError   error
	parseSuccess bool
}

func (m *mockScript) Name() string {
	return m.name
}

func (m *mockScript) Template() string {
	return m.template
}

func (m *mockScript) Params() map[string]interface{} {
	return m.params
}

func (m *mockScript) Parse(output string) (*scripts.Result, error) {
	if m.parseFunc != nil {
		return m.parseFunc(output)
	}
	result := scripts.NewResult()
	result.Success = m.parseSuccess
	return result, m.parseError
}

// writeMockGDB installs a shell script standing in for arm-none-eabi-gdb.
func writeMockGDB(t *testing.T, body string) Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("mock gdb is a shell script")
	}
	tempDir := t.TempDir()
	mockGDB := filepath.Join(tempDir, "mock-gdb")
	if err := os.WriteFile(mockGDB, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to create mock GDB: %v", err)
	}

	config := DefaultConfig()
	config.GDBPath = mockGDB
	config.WorkDir = tempDir
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.GDBPath != "arm-none-eabi-gdb" {
		t.Errorf("expected GDBPath to be 'arm-none-eabi-gdb', got %s", config.GDBPath)
	}
	if config.Host != "localhost" || config.Port != 3333 {
		t.Errorf("expected localhost:3333, got %s:%d", config.Host, config.Port)
	}
	if config.Timeout != 2*time.Minute {
		t.Errorf("expected Timeout to be 2 minutes, got %s", config.Timeout)
	}
	if config.WorkDir != os.TempDir() {
		t.Errorf("expected WorkDir to be temp dir, got %s", config.WorkDir)
	}
}

func TestNewExecutor_NilLogger(t *testing.T) {
	executor := NewExecutor(DefaultConfig(), nil)
	if executor.logger == nil {
		t.Fatal("expected a nop logger")
	}
	if executor.Config().Port != 3333 {
		t.Errorf("Config() not returned")
	}
}

func TestExecutor_RenderTemplate(t *testing.T) {
	tests := []struct {
		name        string
		template    string
		params      map[string]interface{}
		expected    string
		expectError bool
	}{
		{
			name:     "simple template",
			template: "target extended-remote {{.Host}}:{{.Port}}",
			params: map[string]interface{}{
				"Host": "localhost",
				"Port": 3333,
			},
			expected: "target extended-remote localhost:3333",
		},
		{
			name:     "conditional",
			template: "{{if .Verify}}verify{{else}}skip{{end}}",
			params:   map[string]interface{}{"Verify": true},
			expected: "verify",
		},
		{
			name:        "invalid template syntax",
			template:    "Hello {{.Name",
			params:      map[string]interface{}{},
			expectError: true,
		},
		{
			name:     "missing parameter",
			template: "Value: {{.Missing}}",
			params:   map[string]interface{}{},
			expected: "Value: <no value>",
		},
	}

	executor := NewExecutor(DefaultConfig(), zap.NewNop())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := &mockScript{
				name:     "test",
				template: tt.template,
				params:   tt.params,
			}

			result, err := executor.renderTemplate(script)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExecutor_WriteScriptFile(t *testing.T) {
	config := DefaultConfig()
	config.WorkDir = t.TempDir()
	executor := NewExecutor(config, zap.NewNop())

	content := "# GDB test script\nquit"
	filename, err := executor.writeScriptFile("test", content)
	if err != nil {
		t.Fatalf("writeScriptFile failed: %v", err)
	}

	if !strings.Contains(filepath.Base(filename), "target-tester-gdb-test") {
		t.Errorf("unexpected filename: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read script file: %v", err)
	}
	if string(data) != content {
		t.Errorf("expected content %q, got %q", content, string(data))
	}
}

func TestExecutor_WriteScriptFile_InvalidWorkDir(t *testing.T) {
	config := DefaultConfig()
	config.WorkDir = "/nonexistent/directory/that/does/not/exist"
	executor := NewExecutor(config, zap.NewNop())

	if _, err := executor.writeScriptFile("test", "content"); err == nil {
		t.Error("expected error for invalid work directory, got nil")
	}
}

func TestExecutor_Execute_TemplateError(t *testing.T) {
	executor := NewExecutor(DefaultConfig(), zap.NewNop())

	script := &mockScript{
		name:     "test",
		template: "Invalid {{.Template",
		params:   map[string]interface{}{},
	}

	_, err := executor.Execute(context.Background(), script)

	var templateErr *TemplateError
	if !errors.As(err, &templateErr) {
		t.Errorf("expected TemplateError, got %T: %v", err, err)
	}
}

func TestExecutor_Execute_ParseError(t *testing.T) {
	config := writeMockGDB(t, "echo \"GDB output\"\nexit 0\n")
	executor := NewExecutor(config, zap.NewNop())

	parseError := errors.New("parse failed")
	script := &mockScript{
		name:       "test",
		template:   "quit",
		params:     map[string]interface{}{},
		parseError: parseError,
	}

	_, err := executor.Execute(context.Background(), script)
	if !errors.Is(err, parseError) {
		t.Errorf("expected parse error, got %v", err)
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected ParseError, got %T", err)
	}
}

func TestExecutor_Execute_Success(t *testing.T) {
	config := writeMockGDB(t, `echo "GDB mock output"
echo "[1/2] Connecting..."
echo "[2/2] Writing..."
echo "bytes_written: 512"
echo "[SUCCESS]"
exit 0
`)
	var mirror bytes.Buffer
	config.Output = &mirror
	executor := NewExecutor(config, zap.NewNop())

	script := &mockScript{
		name:         "test",
		template:     "quit",
		params:       map[string]interface{}{},
		parseSuccess: true,
	}

	result, err := executor.Execute(context.Background(), script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Error("expected success=true")
	}
	if result.Duration == 0 {
		t.Error("expected duration to be set")
	}
	if !strings.Contains(result.RawOutput, "GDB mock output") {
		t.Errorf("expected output to contain 'GDB mock output', got: %s", result.RawOutput)
	}
	if result.TotalSteps() != 2 {
		t.Errorf("expected steps parsed from output, got %+v", result.Steps)
	}
	if result.BytesWritten != 512 {
		t.Errorf("expected BytesWritten 512, got %d", result.BytesWritten)
	}
	if mirror.String() != result.RawOutput {
		t.Error("Output writer did not receive stdout")
	}
}

func TestExecutor_Execute_FailureDetected(t *testing.T) {
	config := writeMockGDB(t, "echo \"Cannot access memory at address 0x20000000\"\nexit 0\n")
	executor := NewExecutor(config, zap.NewNop())

	result, err := executor.Execute(context.Background(), &mockScript{name: "test", template: "quit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.Error == nil {
		t.Fatalf("expected failed result with error, got %+v", result)
	}
	if !strings.Contains(result.Error.Error(), "memory access") {
		t.Errorf("unexpected error: %v", result.Error)
	}
}

func TestExecutor_Execute_NonZeroExitCode(t *testing.T) {
	config := writeMockGDB(t, "echo \"Error occurred\" >&2\nexit 1\n")
	executor := NewExecutor(config, zap.NewNop())

	_, err := executor.Execute(context.Background(), &mockScript{name: "test", template: "quit"})

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %T: %v", err, err)
	}
	if execErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "Error occurred") {
		t.Errorf("expected stderr to contain 'Error occurred', got: %s", execErr.Stderr)
	}
}

func TestExecutor_Execute_CommandNotFound(t *testing.T) {
	config := DefaultConfig()
	config.GDBPath = "/nonexistent/gdb/binary"
	executor := NewExecutor(config, zap.NewNop())

	_, err := executor.Execute(context.Background(), &mockScript{name: "test", template: "quit"})

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Errorf("expected ExecError, got %T: %v", err, err)
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	config := writeMockGDB(t, "sleep 10\nexit 0\n")
	config.Timeout = 100 * time.Millisecond
	executor := NewExecutor(config, zap.NewNop())

	_, err := executor.Execute(context.Background(), &mockScript{name: "test", template: "quit"})

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Errorf("expected TimeoutError, got %T: %v", err, err)
	}
}

func TestExecutor_Execute_ContextCancellation(t *testing.T) {
	config := writeMockGDB(t, "sleep 10\nexit 0\n")
	executor := NewExecutor(config, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := executor.Execute(ctx, &mockScript{name: "test", template: "quit"}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestExecutor_Execute_WithParameters(t *testing.T) {
	// Arguments: gdb -batch -nx -x <file>, so the script file is $4
	config := writeMockGDB(t, "cat \"$4\"\nexit 0\n")
	executor := NewExecutor(config, zap.NewNop())

	script := &mockScript{
		name:     "test",
		template: "target extended-remote {{.Host}}:{{.Port}}",
		params: map[string]interface{}{
			"Host": "localhost",
			"Port": 3333,
		},
		parseSuccess: true,
	}

	result, err := executor.Execute(context.Background(), script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "target extended-remote localhost:3333"
	if !strings.Contains(result.RawOutput, expected) {
		t.Errorf("expected output to contain %q, got: %s", expected, result.RawOutput)
	}
}

func TestExecutor_ValidateConfig_InvalidGDBPath(t *testing.T) {
	config := DefaultConfig()
	config.GDBPath = "/nonexistent/gdb"
	executor := NewExecutor(config, zap.NewNop())

	err := executor.ValidateConfig(context.Background())

	var prereqErr *PrerequisiteError
	if !errors.As(err, &prereqErr) {
		t.Errorf("expected PrerequisiteError, got %T: %v", err, err)
	}
}

func TestExecutor_ValidateConfig_NotGDB(t *testing.T) {
	config := writeMockGDB(t, "echo \"some other tool 1.0\"\n")
	executor := NewExecutor(config, zap.NewNop())

	err := executor.ValidateConfig(context.Background())
	var prereqErr *PrerequisiteError
	if !errors.As(err, &prereqErr) || !strings.Contains(prereqErr.Details, "does not appear to be GNU GDB") {
		t.Errorf("expected not-GDB PrerequisiteError, got %v", err)
	}
}
