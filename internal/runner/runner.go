package runner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/target-tester/internal/image"
	"github.com/muurk/target-tester/internal/logging"
	"github.com/muurk/target-tester/internal/probe"
	"github.com/muurk/target-tester/internal/protocol"
)

// Runner executes the tests of one firmware image on one target.
type Runner struct {
	image        image.LoadSegment
	stackPointer uint32
	entryPoint   uint32
	runTestAddr  uint32
	testDataAddr uint32
	tests        []TestCase
	conn         probe.Connection
	opts         options
}

// New prepares a Runner for img. The vector table at vectorTable provides
// the cold-start stack pointer and entry point. The Runner takes ownership
// of conn.
func New(img *image.File, vectorTable uint32, conn probe.Connection, opts ...Option) (*Runner, error) {
	if conn == nil {
		return nil, errors.New("runner requires a connection")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	seg, err := img.Image()
	if err != nil {
		return nil, err
	}
	vt, err := image.ResolveVectorTable(seg, vectorTable)
	if err != nil {
		return nil, err
	}

	symbols, err := image.Symbols(img)
	if err != nil {
		return nil, err
	}
	runTestAddr, ok := symbols.Lookup(SymbolFunToRun)
	if !ok {
		return nil, &MissingSymbolError{Symbol: SymbolFunToRun}
	}
	testDataAddr, ok := symbols.Lookup(SymbolTestData)
	if !ok {
		return nil, &MissingSymbolError{Symbol: SymbolTestData}
	}

	r := &Runner{
		image:        seg,
		stackPointer: vt.StackPointer,
		entryPoint:   vt.EntryPoint,
		runTestAddr:  runTestAddr,
		testDataAddr: testDataAddr,
		tests:        DiscoverTests(symbols),
		conn:         conn,
		opts:         o,
	}

	o.logger.Debug("Runner prepared",
		zap.Stringer("image", seg),
		zap.String("stack_pointer", hex32(r.stackPointer)),
		zap.String("entry_point", hex32(r.entryPoint)),
		zap.String("fun_to_run", hex32(r.runTestAddr)),
		zap.String("test_data", hex32(r.testDataAddr)),
		zap.Int("tests", len(r.tests)))

	return r, nil
}

// Tests returns the discovered tests in execution order.
func (r *Runner) Tests() []TestCase {
	out := make([]TestCase, len(r.tests))
	copy(out, r.tests)
	return out
}

// Addresses describes where the runner found the runtime.
type Addresses struct {
	Image        image.LoadSegment
	StackPointer uint32
	EntryPoint   uint32
	FunToRun     uint32
	TestData     uint32
}

// Addresses returns the resolved image and runtime addresses.
func (r *Runner) Addresses() Addresses {
	return Addresses{
		Image:        r.image,
		StackPointer: r.stackPointer,
		EntryPoint:   r.entryPoint,
		FunToRun:     r.runTestAddr,
		TestData:     r.testDataAddr,
	}
}

// Close closes the owned connection.
func (r *Runner) Close() error {
	return r.conn.Close()
}

// Download places the merged image at its load address.
func (r *Runner) Download(ctx context.Context) error {
	r.opts.logger.Info("Downloading test binary",
		zap.String("addr", hex32(r.image.Addr)),
		zap.Int("size", len(r.image.Data)))
	if err := r.conn.Download(ctx, r.image.Addr, r.image.Data); err != nil {
		return probe.Wrap("download", err)
	}
	return nil
}

// RunTest executes a single test. A non-nil error means the test could not
// be run to completion; a failing test is reported through
// TestResult.Error.
func (r *Runner) RunTest(ctx context.Context, tc TestCase) (TestResult, error) {
	log := r.opts.logger.With(zap.String("test", tc.FullName()), zap.String("addr", hex32(tc.Addr)))
	start := time.Now()

	log.Debug("Resetting target")
	if err := r.conn.ResetRun(ctx, r.stackPointer, r.entryPoint); err != nil {
		return TestResult{}, probe.Wrap("reset_run", err)
	}

	log.Debug("Waiting for device to boot and enter test framework")
	if _, err := r.poll(ctx, PhaseStartup, r.opts.startup, func(s protocol.TargetState) bool {
		return s == protocol.StateReady
	}); err != nil {
		return TestResult{}, err
	}

	log.Debug("Halting device to write test function pointer")
	if err := r.conn.Halt(ctx, r.opts.haltTimeout); err != nil {
		return TestResult{}, probe.Wrap("halt", err)
	}
	var ptr [4]byte
	binary.LittleEndian.PutUint32(ptr[:], tc.Addr)
	if err := r.conn.WriteRAM(ctx, r.runTestAddr, ptr[:]); err != nil {
		return TestResult{}, probe.Wrap("write_ram", err)
	}
	if err := r.conn.Run(ctx); err != nil {
		return TestResult{}, probe.Wrap("run", err)
	}

	log.Debug("Waiting for test to finish")
	snap, err := r.poll(ctx, PhaseFinish, r.opts.finish, protocol.TargetState.Done)
	if err != nil {
		return TestResult{}, err
	}

	if snap.ExecutedFunction == nil || *snap.ExecutedFunction != tc.Addr {
		return TestResult{}, &DesyncError{Expected: tc.Addr, Executed: snap.ExecutedFunction}
	}

	result := TestResult{
		Case:      tc,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if *snap.State != protocol.StatePassed {
		result.Error = &FailedAssert{
			Lineno:    snap.Lineno,
			FileName:  snap.FilePath,
			Assertion: snap.FailReason,
		}
	}
	log.Debug("Test finished", zap.Stringer("state", snap.State), zap.Duration("duration", result.Duration))
	return result, nil
}

// RunAllTests executes every discovered test in order. Unless
// WithContinueOnError is set, the first infrastructure failure stops the
// batch; the results collected so far are returned together with the error.
func (r *Runner) RunAllTests(ctx context.Context) ([]TestResult, error) {
	results := make([]TestResult, 0, len(r.tests))
	total := len(r.tests)

	for i, tc := range r.tests {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if r.opts.observer != nil {
			r.opts.observer.TestStarted(tc, i, total)
		}
		r.opts.logger.Info("Running test", zap.String("suite", tc.SuiteName), zap.String("test", tc.TestName))

		result, err := r.RunTest(ctx, tc)
		if err != nil {
			if !r.opts.continueOnError || ctx.Err() != nil {
				return results, fmt.Errorf("test %s: %w", tc.FullName(), err)
			}
			r.opts.logger.Warn("Test could not be completed",
				zap.String("test", tc.FullName()),
				zap.Stringer("class", Classify(err)),
				zap.Error(err))
			result = TestResult{Case: tc, Timestamp: time.Now(), Err: err}
		} else if result.Error != nil {
			r.opts.logger.Info("Test failed", zap.String("test", tc.FullName()), zap.String("at", result.Error.Location()))
		}

		results = append(results, result)
		if r.opts.observer != nil {
			r.opts.observer.TestFinished(result, i, total)
		}
	}
	return results, nil
}

// poll sleeps then reads the status record until done accepts the decoded
// state or the policy deadline passes. A record the runtime has not
// populated yet is tolerated only while waiting for startup.
func (r *Runner) poll(ctx context.Context, phase string, p PollPolicy, done func(protocol.TargetState) bool) (protocol.Snapshot, error) {
	start := time.Now()
	var last *protocol.TargetState

	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	for time.Since(start) < p.Timeout {
		select {
		case <-ctx.Done():
			return protocol.Snapshot{}, ctx.Err()
		case <-timer.C:
		}

		snap, err := protocol.Fetch(ctx, recordDumper{r.conn, r.testDataAddr, r.opts.logger}, r.testDataAddr)
		switch {
		case err == nil:
		case phase == PhaseStartup && errors.Is(err, protocol.ErrNotPopulated):
			timer.Reset(p.Interval)
			continue
		default:
			return protocol.Snapshot{}, err
		}

		if snap.State != nil {
			last = snap.State
			if done(*snap.State) {
				return snap, nil
			}
		}
		timer.Reset(p.Interval)
	}
	return protocol.Snapshot{}, &TimeoutError{Phase: phase, Timeout: p.Timeout, Last: last}
}

// recordDumper logs every status record read through it at debug level.
type recordDumper struct {
	probe.MemoryReader
	addr   uint32
	logger *zap.Logger
}

func (d recordDumper) ReadRAM(ctx context.Context, addr uint32, length int) ([]byte, error) {
	data, err := d.MemoryReader.ReadRAM(ctx, addr, length)
	if err == nil && addr == d.addr && length == protocol.RecordSize {
		d.logger.Debug("Status record", append([]zap.Field{logging.Addr("addr", addr)}, logging.RawBytes(data)...)...)
	}
	return data, err
}

func hex32(v uint32) string {
	return fmt.Sprintf("0x%08x", v)
}
