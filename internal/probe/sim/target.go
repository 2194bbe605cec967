package sim

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/image"
	"github.com/muurk/target-tester/internal/probe"
	"github.com/muurk/target-tester/internal/protocol"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("simulated target is closed")

// DefaultStringBase is where failure file names are placed in memory.
const DefaultStringBase = 0x30000000

// Failure describes how a test function fails.
type Failure struct {
	File   string
	Line   uint32
	Reason uint32 // assertion code, 0 for a plain fail
}

// Faults injects misbehaviour into the emulated runtime.
type Faults struct {
	// TornReads corrupts the next N record reads after the runtime is ready.
	TornReads int
	// NeverReady keeps the runtime in Idle forever.
	NeverReady bool
	// Hang lists functions that never finish.
	Hang map[uint32]bool
	// ExecuteInstead makes the dispatcher report this function instead of
	// the requested one when non-zero.
	ExecuteInstead uint32
}

// Config describes the emulated firmware.
type Config struct {
	// FunToRun is the address of the test pointer slot.
	FunToRun uint32
	// TestData is the address of the status record.
	TestData uint32
	// StartupReads is the number of record reads before the runtime reports
	// Ready. The first read of a multi-read boot sees blank memory.
	StartupReads int
	// RunReads is the number of record reads a test stays in Started.
	RunReads int
	// Failures maps test function addresses to their failure.
	Failures map[uint32]Failure
	// StringBase is where failure file names are written.
	StringBase uint32
	// Faults injects misbehaviour.
	Faults Faults
}

// ConfigFromSymbols builds a Config from a firmware symbol table.
func ConfigFromSymbols(syms image.SymbolTable) (Config, error) {
	funToRun, ok := syms.Lookup("target_test_fun_to_run")
	if !ok {
		return Config{}, fmt.Errorf("symbol target_test_fun_to_run missing")
	}
	testData, ok := syms.Lookup("target_test_data")
	if !ok {
		return Config{}, fmt.Errorf("symbol target_test_data missing")
	}
	return Config{
		FunToRun:     funToRun,
		TestData:     testData,
		StartupReads: 2,
		RunReads:     1,
		StringBase:   DefaultStringBase,
	}, nil
}

type phase int

const (
	phaseOff phase = iota
	phaseBooting
	phaseReady
	phaseRunning
	phaseDone
)

// Stats counts what the host did to the target.
type Stats struct {
	Resets        int
	Halts         int
	Runs          int
	RecordReads   int
	Downloads     int
	SkippedWrites int
}

// Target is a simulated target implementing probe.Connection.
type Target struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	mem       map[uint32]byte
	halted    bool
	closed    bool
	phase     phase
	ticks     int
	torn      int
	executing uint32
	sp, pc    uint32
	stats     Stats
}

var _ probe.Connection = (*Target)(nil)

// New creates a simulated target. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Target {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StringBase == 0 {
		cfg.StringBase = DefaultStringBase
	}
	return &Target{
		cfg:    cfg,
		logger: logger,
		mem:    make(map[uint32]byte),
		halted: true,
		torn:   cfg.Faults.TornReads,
	}
}

// Stats returns a copy of the interaction counters.
func (t *Target) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Registers returns the SP and PC set by the last ResetRun.
func (t *Target) Registers() (sp, pc uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sp, t.pc
}

// Peek reads memory without advancing the runtime.
func (t *Target) Peek(addr uint32, length int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(addr, length)
}

// ReadRAM implements probe.Connection. Reads overlapping the status record
// advance the emulated runtime by one step first.
func (t *Target) ReadRAM(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, probe.Wrap("read_ram", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, probe.Wrap("read_ram", ErrClosed)
	}

	touchesRecord := overlaps(addr, length, t.cfg.TestData, protocol.RecordSize)
	if touchesRecord {
		t.stats.RecordReads++
		t.tick()
	}

	data := t.load(addr, length)
	if touchesRecord && t.torn > 0 && t.phase >= phaseReady {
		t.torn--
		// Flip a byte inside the record as if the firmware updated it
		// mid-transfer.
		off := int(t.cfg.TestData) - int(addr)
		if off >= 0 && off < len(data) {
			data[off] ^= 0x5A
		}
	}
	return data, nil
}

// WriteRAM implements probe.Connection.
func (t *Target) WriteRAM(ctx context.Context, addr uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return probe.Wrap("write_ram", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return probe.Wrap("write_ram", ErrClosed)
	}
	t.store(addr, data)
	return nil
}

// Halt implements probe.Connection.
func (t *Target) Halt(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return probe.Wrap("halt", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return probe.Wrap("halt", ErrClosed)
	}
	t.halted = true
	t.stats.Halts++
	return nil
}

// Run implements probe.Connection.
func (t *Target) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return probe.Wrap("run", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return probe.Wrap("run", ErrClosed)
	}
	t.halted = false
	t.stats.Runs++
	return nil
}

// ResetRun implements probe.Connection. RAM used by the runtime is cleared the
// way startup code zeroes .bss.
func (t *Target) ResetRun(ctx context.Context, stackPointer, entryPoint uint32) error {
	if err := ctx.Err(); err != nil {
		return probe.Wrap("reset_run", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return probe.Wrap("reset_run", ErrClosed)
	}

	t.sp, t.pc = stackPointer, entryPoint
	t.store(t.cfg.TestData, make([]byte, protocol.RecordSize))
	t.store(t.cfg.FunToRun, make([]byte, 4))
	t.phase = phaseBooting
	t.ticks = 0
	t.executing = 0
	t.halted = false
	t.stats.Resets++
	t.logger.Debug("Simulated reset",
		zap.String("sp", fmt.Sprintf("0x%08x", stackPointer)),
		zap.String("pc", fmt.Sprintf("0x%08x", entryPoint)))
	return nil
}

// Download implements probe.Connection. Unchanged images are not rewritten.
func (t *Target) Download(ctx context.Context, addr uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return probe.Wrap("download", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return probe.Wrap("download", ErrClosed)
	}
	t.stats.Downloads++
	if bytes.Equal(t.load(addr, len(data)), data) {
		t.stats.SkippedWrites++
		return nil
	}
	t.store(addr, data)
	return nil
}

// Close implements probe.Connection.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// tick advances the emulated runtime by one step. The caller holds mu.
func (t *Target) tick() {
	if t.halted {
		return
	}
	switch t.phase {
	case phaseBooting:
		t.ticks++
		if t.ticks == 1 && t.cfg.StartupReads > 1 {
			return
		}
		if t.cfg.Faults.NeverReady || t.ticks < t.cfg.StartupReads {
			t.writeRecord(protocol.Record{State: uint32(protocol.StateIdle)})
			return
		}
		t.writeRecord(protocol.Record{State: uint32(protocol.StateReady)})
		t.phase = phaseReady
		t.logger.Debug("Simulated runtime ready")

	case phaseReady:
		fn := binary.LittleEndian.Uint32(t.load(t.cfg.FunToRun, 4))
		if fn == 0 {
			return
		}
		t.executing = fn
		reported := fn
		if t.cfg.Faults.ExecuteInstead != 0 {
			reported = t.cfg.Faults.ExecuteInstead
		}
		t.writeRecord(protocol.Record{
			State:            uint32(protocol.StateStarted),
			ExecutedFunction: reported,
		})
		t.phase = phaseRunning
		t.ticks = 0
		t.logger.Debug("Simulated test started", zap.String("function", fmt.Sprintf("0x%08x", fn)))

	case phaseRunning:
		t.ticks++
		if t.cfg.Faults.Hang[t.executing] || t.ticks <= t.cfg.RunReads {
			return
		}
		rec := protocol.Record{
			State:            uint32(protocol.StatePassed),
			ExecutedFunction: binary.LittleEndian.Uint32(t.load(t.cfg.TestData+4, 4)),
		}
		if f, ok := t.cfg.Failures[t.executing]; ok {
			rec.State = uint32(protocol.StateFailed)
			rec.FailReason = f.Reason
			rec.Lineno = f.Line
			if f.File != "" {
				t.store(t.cfg.StringBase, append([]byte(f.File), 0))
				rec.FilePathPtr = t.cfg.StringBase
			}
		}
		t.writeRecord(rec)
		t.phase = phaseDone
		t.logger.Debug("Simulated test finished",
			zap.String("function", fmt.Sprintf("0x%08x", t.executing)),
			zap.Stringer("state", protocol.TargetState(rec.State)))
	}
}

func (t *Target) writeRecord(rec protocol.Record) {
	t.store(t.cfg.TestData, rec.Encode())
}

// load reads memory; unwritten bytes read as erased flash.
func (t *Target) load(addr uint32, length int) []byte {
	out := make([]byte, length)
	for i := range out {
		b, ok := t.mem[addr+uint32(i)]
		if !ok {
			b = image.ErasedByte
		}
		out[i] = b
	}
	return out
}

func (t *Target) store(addr uint32, data []byte) {
	for i, b := range data {
		t.mem[addr+uint32(i)] = b
	}
}

func overlaps(addr uint32, length int, start uint32, size int) bool {
	a0, a1 := uint64(addr), uint64(addr)+uint64(length)
	b0, b1 := uint64(start), uint64(start)+uint64(size)
	return a0 < b1 && b0 < a1
}
