package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize_SilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be silent without a level")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer func() { logger = nil }()

	core := GetLogger().Core()
	if core.Enabled(zapcore.InfoLevel) || !core.Enabled(zapcore.WarnLevel) {
		t.Error("expected warn level from environment")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"chatty":  zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRawBytes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zap.New(core).Debug("record", RawBytes([]byte{0x41, 0x00, 0x42})...)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["hex"] != "410042" || fields["ascii"] != "A.B" || fields["length"] != int64(3) {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestHexDumpTruncates(t *testing.T) {
	data := make([]byte, maxDump+10)
	if got := hexDump(data); !strings.HasSuffix(got, "...") || len(got) != maxDump*2+3 {
		t.Errorf("hexDump length %d", len(got))
	}
	if got := asciiDump(data); len(got) != maxDump {
		t.Errorf("asciiDump length %d", len(got))
	}
	if hexDump(nil) != "" || asciiDump(nil) != "" {
		t.Error("empty input should give empty dumps")
	}
}

func TestAddr(t *testing.T) {
	f := Addr("addr", 0x10028)
	if f.String != "0x00010028" {
		t.Errorf("Addr() = %q", f.String)
	}
}
