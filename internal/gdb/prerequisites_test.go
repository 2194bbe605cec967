package gdb

import (
	"context"
	"errors"
	"net"
	"testing"
)

func listen(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestValidateOpenOCDConnection(t *testing.T) {
	host, port := listen(t)
	if err := ValidateOpenOCDConnection(context.Background(), host, port); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := ValidateOpenOCDConnection(context.Background(), "127.0.0.1", closedPort(t))
	var connErr *RemoteError
	if !errors.As(err, &connErr) {
		t.Errorf("expected RemoteError, got %T: %v", err, err)
	}
}

func TestValidatePrerequisites(t *testing.T) {
	host, tclPort := listen(t)
	gdbPort := closedPort(t)

	opts := PrerequisiteOptions{
		GDBPath:        "/nonexistent/arm-none-eabi-gdb",
		Host:           host,
		TclPort:        tclPort,
		GDBPort:        gdbPort,
		RequireOpenOCD: true,
	}

	result := ValidatePrerequisites(context.Background(), opts)
	if len(result.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(result.Checks))
	}
	if result.Checks[0].Available {
		t.Error("gdb check should fail for a missing binary")
	}
	if !result.Checks[1].Available || !result.Checks[1].Required {
		t.Errorf("tcl check = %+v", result.Checks[1])
	}
	if result.Checks[2].Available {
		t.Error("gdb port check should fail on a closed port")
	}
	if !result.AllAvailable {
		t.Error("optional failures must not clear AllAvailable")
	}

	opts.RequireGDB = true
	if ValidatePrerequisites(context.Background(), opts).AllAvailable {
		t.Error("required gdb failure should clear AllAvailable")
	}
}

func TestValidateGDBPath_Empty(t *testing.T) {
	var prereqErr *PrerequisiteError
	if err := ValidateGDBPath(context.Background(), ""); !errors.As(err, &prereqErr) {
		t.Errorf("expected PrerequisiteError, got %v", err)
	}
}

func TestCheckGDBBinary_Mock(t *testing.T) {
	config := writeMockGDB(t, "echo \"GNU gdb (Arm GNU Toolchain 13.2) 13.2.90\"\n")

	check := checkGDBBinary(context.Background(), config.GDBPath)
	if !check.Available {
		t.Fatalf("expected mock gdb to be available: %+v", check)
	}
	if check.Version != "GNU gdb (Arm GNU Toolchain 13.2) 13.2.90" {
		t.Errorf("Version = %q", check.Version)
	}
	if err := ValidateGDBPath(context.Background(), config.GDBPath); err != nil {
		t.Errorf("ValidateGDBPath: %v", err)
	}
}
