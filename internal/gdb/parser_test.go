package gdb

import (
	"errors"
	"testing"

	"github.com/muurk/target-tester/internal/gdb/scripts"
)

func TestParser_ParseSteps(t *testing.T) {
	output := `GNU gdb (Arm GNU Toolchain) 13.2
[1/3] Connecting to localhost:3333...
0x00000100 in ?? ()
[2/3] Writing 16 bytes to 0x20000000...
Cannot access memory at address 0x20000000
[3/3] Done
[SUCCESS]
`
	steps := NewParser().ParseSteps(output)

	want := []scripts.Step{
		{Name: "[1/3] Connecting to localhost:3333", Status: scripts.StatusSuccess},
		{Name: "[2/3] Writing 16 bytes to 0x20000000", Status: scripts.StatusFailed, Message: "Cannot access memory at address 0x20000000"},
		{Name: "[3/3] Done", Status: scripts.StatusSuccess},
	}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d: %+v", len(want), len(steps), steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %+v, want %+v", i, steps[i], want[i])
		}
	}
}

func TestParser_ParseSteps_None(t *testing.T) {
	if steps := NewParser().ParseSteps("no markers here\n"); len(steps) != 0 {
		t.Errorf("expected no steps, got %+v", steps)
	}
}

func TestParser_ParseResult(t *testing.T) {
	p := NewParser()
	tests := []struct {
		output  string
		name    string
		want    int64
		wantErr bool
	}{
		{output: "bytes_written: 1024", name: "bytes_written", want: 1024},
		{output: "$1 = 0x20000000", name: "$1", want: 0x20000000},
		{output: "result = -5", name: "result", want: -5},
		{output: "nothing", name: "bytes_written", wantErr: true},
	}

	for _, tt := range tests {
		got, err := p.ParseResult(tt.output, tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseResult(%q) expected error", tt.output)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseResult(%q, %q) = %d, %v; want %d", tt.output, tt.name, got, err, tt.want)
		}
	}
}

func TestParser_DetectErrors(t *testing.T) {
	p := NewParser()

	if err := p.DetectErrors("[SUCCESS]\n"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := p.DetectErrors("localhost:3333: Connection refused.\n")
	var connErr *RemoteError
	if !errors.As(err, &connErr) {
		t.Errorf("expected RemoteError, got %T: %v", err, err)
	}

	for _, out := range []string{
		"Cannot access memory at address 0x0",
		"/tmp/x.bin: No such file or directory.",
		"Remote communication error.  Target disconnected.",
	} {
		if p.DetectErrors(out) == nil {
			t.Errorf("expected error for %q", out)
		}
	}
}
