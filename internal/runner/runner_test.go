package runner

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/target-tester/internal/image"
	"github.com/muurk/target-tester/internal/image/elftest"
	"github.com/muurk/target-tester/internal/probe"
	"github.com/muurk/target-tester/internal/probe/sim"
	"github.com/muurk/target-tester/internal/protocol"
)

var fastPoll = PollPolicy{Interval: time.Millisecond, Timeout: 500 * time.Millisecond}

// scriptedConn replays a fixed sequence of status records and records every
// call made by the runner.
type scriptedConn struct {
	testData uint32
	records  [][]byte
	strings  map[uint32]string
	calls    []string
	writes   map[uint32][]byte
	failOp   string
	closed   bool
}

func newScriptedConn(testData uint32, records ...[]byte) *scriptedConn {
	return &scriptedConn{
		testData: testData,
		records:  records,
		strings:  map[uint32]string{},
		writes:   map[uint32][]byte{},
	}
}

func (c *scriptedConn) fail(op string) error {
	if c.failOp == op {
		return errors.New(op + " exploded")
	}
	return nil
}

func (c *scriptedConn) ReadRAM(_ context.Context, addr uint32, length int) ([]byte, error) {
	if err := c.fail("read_ram"); err != nil {
		return nil, err
	}
	if addr == c.testData {
		rec := c.records[0]
		if len(c.records) > 1 {
			c.records = c.records[1:]
		}
		return rec, nil
	}
	out := make([]byte, length)
	copy(out, append([]byte(c.strings[addr]), 0))
	return out, nil
}

func (c *scriptedConn) WriteRAM(_ context.Context, addr uint32, data []byte) error {
	c.calls = append(c.calls, fmt.Sprintf("write_ram 0x%x", addr))
	c.writes[addr] = append([]byte(nil), data...)
	return c.fail("write_ram")
}

func (c *scriptedConn) Halt(_ context.Context, timeout time.Duration) error {
	c.calls = append(c.calls, fmt.Sprintf("halt %s", timeout))
	return c.fail("halt")
}

func (c *scriptedConn) Run(context.Context) error {
	c.calls = append(c.calls, "run")
	return c.fail("run")
}

func (c *scriptedConn) ResetRun(_ context.Context, sp, pc uint32) error {
	c.calls = append(c.calls, fmt.Sprintf("reset_run 0x%x 0x%x", sp, pc))
	return c.fail("reset_run")
}

func (c *scriptedConn) Download(_ context.Context, addr uint32, data []byte) error {
	c.calls = append(c.calls, fmt.Sprintf("download 0x%x %d", addr, len(data)))
	return c.fail("download")
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func rec(state protocol.TargetState, fn uint32) []byte {
	return protocol.Record{State: uint32(state), ExecutedFunction: fn}.Encode()
}

func demoFirmware() elftest.Firmware {
	fw := elftest.DefaultFirmware()
	fw.Tests = []elftest.TestFunc{{Suite: "demo", Test: "ok", Addr: 0x2000}}
	return fw
}

func parse(t *testing.T, fw elftest.Firmware) *image.File {
	t.Helper()
	f, err := image.Parse(fw.Build())
	require.NoError(t, err)
	return f
}

func newRunner(t *testing.T, fw elftest.Firmware, conn probe.Connection, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithStartupPoll(fastPoll), WithFinishPoll(fastPoll)}, opts...)
	r, err := New(parse(t, fw), fw.FlashBase, conn, opts...)
	require.NoError(t, err)
	return r
}

func TestRunTest_Pass(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData,
		make([]byte, protocol.RecordSize), // not yet populated
		rec(protocol.StateReady, 0),
		rec(protocol.StatePassed, 0x2000),
	)
	r := newRunner(t, fw, conn)

	tests := r.Tests()
	require.Len(t, tests, 1)
	assert.Equal(t, TestCase{SuiteName: "demo", TestName: "ok", Addr: 0x2000}, tests[0])

	result, err := r.RunTest(context.Background(), tests[0])
	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.Passed())
	assert.Equal(t, tests[0], result.Case)
	assert.False(t, result.Timestamp.IsZero())

	assert.Equal(t, []string{
		"reset_run 0x20008000 0x101",
		"halt 100ms",
		"write_ram 0x20000000",
		"run",
	}, conn.calls)
	assert.Equal(t, []byte{0x00, 0x20, 0x00, 0x00}, conn.writes[fw.FunToRun])
}

func TestRunTest_Fail(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData,
		make([]byte, protocol.RecordSize),
		rec(protocol.StateReady, 0),
		protocol.Record{
			State:            uint32(protocol.StateFailed),
			ExecutedFunction: 0x2000,
			FailReason:       1,
			FilePathPtr:      0x30000000,
			Lineno:           42,
		}.Encode(),
	)
	conn.strings[0x30000000] = "test.c"
	r := newRunner(t, fw, conn)

	result, err := r.RunTest(context.Background(), r.Tests()[0])
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.False(t, result.Passed())
	assert.Equal(t, uint32(42), *result.Error.Lineno)
	assert.Equal(t, "test.c", *result.Error.FileName)
	assert.Equal(t, protocol.AssertEqual, result.Error.Assertion.Kind)
	assert.Equal(t, "test.c:42", result.Error.Location())
}

func TestRunTest_DumpsStatusRecords(t *testing.T) {
	fw := demoFirmware()
	passed := rec(protocol.StatePassed, 0x2000)
	conn := newScriptedConn(fw.TestData, rec(protocol.StateReady, 0), passed)
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRunner(t, fw, conn, WithLogger(zap.New(core)))

	_, err := r.RunTest(context.Background(), r.Tests()[0])
	require.NoError(t, err)

	dumps := logs.FilterMessage("Status record").All()
	require.Len(t, dumps, 2)
	fields := dumps[1].ContextMap()
	assert.Equal(t, hex.EncodeToString(passed), fields["hex"])
	assert.Equal(t, int64(protocol.RecordSize), fields["length"])
	assert.Equal(t, "0x20000004", fields["addr"])
}

func TestRunTest_IgnoresNonTerminalStates(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData,
		rec(protocol.StateIdle, 0),
		rec(protocol.StateReady, 0),
		rec(protocol.StateReady, 0),
		rec(protocol.StateStarted, 0x2000),
		rec(protocol.StatePassed, 0x2000),
	)
	r := newRunner(t, fw, conn)

	result, err := r.RunTest(context.Background(), r.Tests()[0])
	require.NoError(t, err)
	assert.True(t, result.Passed())
}

func TestRunTest_StartupTimeout(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData, rec(protocol.StateIdle, 0))
	r := newRunner(t, fw, conn, WithStartupPoll(PollPolicy{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}))

	result, err := r.RunTest(context.Background(), r.Tests()[0])
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, PhaseStartup, te.Phase)
	assert.Contains(t, err.Error(), "timeout waiting for target to start up")
	assert.Equal(t, TestResult{}, result)
	assert.Equal(t, ClassTimeout, Classify(err))
	assert.NotContains(t, conn.calls, "run")
}

func TestRunTest_StartupTimeoutOnBlankMemory(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData, make([]byte, protocol.RecordSize))
	r := newRunner(t, fw, conn, WithStartupPoll(PollPolicy{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}))

	_, err := r.RunTest(context.Background(), r.Tests()[0])
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Nil(t, te.Last)
}

func TestRunTest_FinishTimeout(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData,
		rec(protocol.StateReady, 0),
		rec(protocol.StateStarted, 0x2000),
	)
	r := newRunner(t, fw, conn, WithFinishPoll(PollPolicy{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}))

	_, err := r.RunTest(context.Background(), r.Tests()[0])
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, PhaseFinish, te.Phase)
	require.NotNil(t, te.Last)
	assert.Equal(t, protocol.StateStarted, *te.Last)
}

func TestRunTest_NotPopulatedWhileRunningIsFatal(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData,
		rec(protocol.StateReady, 0),
		make([]byte, protocol.RecordSize),
	)
	r := newRunner(t, fw, conn)

	_, err := r.RunTest(context.Background(), r.Tests()[0])
	assert.ErrorIs(t, err, protocol.ErrNotPopulated)
	assert.Equal(t, ClassProtocol, Classify(err))
}

func TestRunTest_Desync(t *testing.T) {
	tests := []struct {
		name     string
		executed uint32
	}{
		{name: "wrong function", executed: 0x3000},
		{name: "no function", executed: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := demoFirmware()
			conn := newScriptedConn(fw.TestData,
				rec(protocol.StateReady, 0),
				rec(protocol.StatePassed, tt.executed),
			)
			r := newRunner(t, fw, conn)

			_, err := r.RunTest(context.Background(), r.Tests()[0])
			var de *DesyncError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, uint32(0x2000), de.Expected)
			if tt.executed == 0 {
				assert.Nil(t, de.Executed)
			} else {
				assert.Equal(t, tt.executed, *de.Executed)
			}
			assert.Equal(t, ClassProtocol, Classify(err))
		})
	}
}

func TestRunTest_InvalidState(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData, rec(protocol.TargetState(4), 0))
	r := newRunner(t, fw, conn)

	_, err := r.RunTest(context.Background(), r.Tests()[0])
	var se *protocol.StateError
	assert.ErrorAs(t, err, &se)
}

func TestRunTest_TransportFailures(t *testing.T) {
	for _, op := range []string{"reset_run", "halt", "write_ram", "run", "read_ram"} {
		t.Run(op, func(t *testing.T) {
			fw := demoFirmware()
			conn := newScriptedConn(fw.TestData, rec(protocol.StateReady, 0), rec(protocol.StatePassed, 0x2000))
			conn.failOp = op
			r := newRunner(t, fw, conn)

			_, err := r.RunTest(context.Background(), r.Tests()[0])
			var te *probe.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, op, te.Op)
			assert.Equal(t, ClassTransport, Classify(err))
		})
	}
}

func TestRunTest_ContextCancelled(t *testing.T) {
	fw := demoFirmware()
	conn := newScriptedConn(fw.TestData, rec(protocol.StateIdle, 0))
	r := newRunner(t, fw, conn, WithStartupPoll(PollPolicy{Interval: 5 * time.Millisecond, Timeout: time.Minute}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.RunTest(ctx, r.Tests()[0])
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_Errors(t *testing.T) {
	t.Run("missing fun_to_run", func(t *testing.T) {
		fw := demoFirmware()
		fw.OmitRuntime = true
		fw.Extra = []elftest.Symbol{{Name: SymbolTestData, Value: fw.TestData}}
		_, err := New(parse(t, fw), 0, newScriptedConn(0))
		var me *MissingSymbolError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, SymbolFunToRun, me.Symbol)
		assert.Contains(t, err.Error(), "did you link the test runtime?")
		assert.Equal(t, ClassImage, Classify(err))
	})

	t.Run("missing test_data", func(t *testing.T) {
		fw := demoFirmware()
		fw.OmitRuntime = true
		fw.Extra = []elftest.Symbol{{Name: SymbolFunToRun, Value: fw.FunToRun}}
		_, err := New(parse(t, fw), 0, newScriptedConn(0))
		var me *MissingSymbolError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, SymbolTestData, me.Symbol)
	})

	t.Run("vector table out of range", func(t *testing.T) {
		_, err := New(parse(t, demoFirmware()), 0x10028, newScriptedConn(0))
		var oor *image.OutOfRangeError
		require.ErrorAs(t, err, &oor)
		assert.Equal(t, ClassImage, Classify(err))
	})

	t.Run("truncated load segment", func(t *testing.T) {
		data := demoFirmware().Build()
		// p_filesz of the only program header
		binary.LittleEndian.PutUint32(data[52+16:], uint32(len(data)+1))
		img, err := image.Parse(data)
		require.NoError(t, err)

		_, err = New(img, 0, newScriptedConn(0))
		var te *image.TruncatedSegmentError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ClassImage, Classify(err))
	})

	t.Run("nil connection", func(t *testing.T) {
		_, err := New(parse(t, demoFirmware()), 0, nil)
		assert.Error(t, err)
	})
}

func TestDiscoverTests(t *testing.T) {
	got := DiscoverTests(image.SymbolTable{
		"target_test_test_math__target_test__add_overflow": 0x3001,
		"target_test_test_io__target_test__read":           0x2001,
		"target_test_test_b__target_test__same":            0x4001,
		"target_test_test_a__target_test__same":            0x4001,
		"target_test_fun_to_run":                           0x20000000,
		"main":                                             0x101,
		"target_test_test_incomplete":                      0x5001,
	})

	assert.Equal(t, []TestCase{
		{SuiteName: "io", TestName: "read", Addr: 0x2001},
		{SuiteName: "math", TestName: "add_overflow", Addr: 0x3001},
		{SuiteName: "a", TestName: "same", Addr: 0x4001},
		{SuiteName: "b", TestName: "same", Addr: 0x4001},
	}, got)
	assert.Equal(t, "target_test_test_math__target_test__add_overflow", got[1].SymbolName())
	assert.Equal(t, "math.add_overflow", got[1].FullName())
}

func TestDiscoverTests_LazySuiteMatch(t *testing.T) {
	got := DiscoverTests(image.SymbolTable{
		"target_test_test_a__target_test__b__target_test__c": 0x10,
	})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SuiteName)
	assert.Equal(t, "b__target_test__c", got[0].TestName)
}

// recordingObserver captures progress callbacks.
type recordingObserver struct {
	started  []string
	finished []bool
}

func (o *recordingObserver) TestStarted(tc TestCase, index, total int) {
	o.started = append(o.started, fmt.Sprintf("%d/%d %s", index+1, total, tc.FullName()))
}

func (o *recordingObserver) TestFinished(result TestResult, _, _ int) {
	o.finished = append(o.finished, result.Passed())
}

func simFirmware() elftest.Firmware {
	fw := elftest.DefaultFirmware()
	fw.Tests = []elftest.TestFunc{
		{Suite: "math", Test: "add", Addr: 0x201},
		{Suite: "math", Test: "sub", Addr: 0x211},
		{Suite: "io", Test: "read", Addr: 0x221},
	}
	return fw
}

func newSim(fw elftest.Firmware, cfg sim.Config) *sim.Target {
	cfg.FunToRun = fw.FunToRun
	cfg.TestData = fw.TestData
	if cfg.StartupReads == 0 {
		cfg.StartupReads = 2
	}
	return sim.New(cfg, nil)
}

func TestRunAllTests_Simulated(t *testing.T) {
	fw := simFirmware()
	tgt := newSim(fw, sim.Config{
		RunReads: 2,
		Failures: map[uint32]sim.Failure{0x211: {File: "math_test.c", Line: 17, Reason: 2}},
	})
	obs := &recordingObserver{}
	r := newRunner(t, fw, tgt, WithObserver(obs))

	require.NoError(t, r.Download(context.Background()))
	results, err := r.RunAllTests(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Passed())
	assert.Equal(t, "math.add", results[0].Case.FullName())
	require.NotNil(t, results[1].Error)
	assert.Equal(t, "math_test.c:17", results[1].Error.Location())
	assert.Equal(t, protocol.AssertTrue, results[1].Error.Assertion.Kind)
	assert.True(t, results[2].Passed())

	assert.Equal(t, []string{"1/3 math.add", "2/3 math.sub", "3/3 io.read"}, obs.started)
	assert.Equal(t, []bool{true, false, true}, obs.finished)

	stats := tgt.Stats()
	assert.Equal(t, 3, stats.Resets)
	assert.Equal(t, 1, stats.Downloads)

	seg, err := parse(t, fw).Image()
	require.NoError(t, err)
	assert.Equal(t, seg.Data, tgt.Peek(seg.Addr, len(seg.Data)))

	require.NoError(t, r.Close())
	_, err = tgt.ReadRAM(context.Background(), 0, 1)
	assert.ErrorIs(t, err, sim.ErrClosed)
}

func TestRunAllTests_AbortsOnFatalError(t *testing.T) {
	fw := simFirmware()
	tgt := newSim(fw, sim.Config{Faults: sim.Faults{Hang: map[uint32]bool{0x211: true}}})
	r := newRunner(t, fw, tgt, WithFinishPoll(PollPolicy{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}))

	results, err := r.RunAllTests(context.Background())
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "math.sub")
	require.Len(t, results, 1, "results collected before the abort are returned")
	assert.True(t, results[0].Passed())
}

func TestRunAllTests_ContinueOnError(t *testing.T) {
	fw := simFirmware()
	tgt := newSim(fw, sim.Config{Faults: sim.Faults{Hang: map[uint32]bool{0x211: true}}})
	r := newRunner(t, fw, tgt,
		WithFinishPoll(PollPolicy{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}),
		WithContinueOnError(true))

	results, err := r.RunAllTests(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Passed())
	assert.False(t, results[1].Passed())
	assert.Nil(t, results[1].Error)
	assert.Equal(t, ClassTimeout, Classify(results[1].Err))
	assert.True(t, results[2].Passed())
}

func TestRunAllTests_TornReadIsFatal(t *testing.T) {
	fw := simFirmware()
	tgt := newSim(fw, sim.Config{Faults: sim.Faults{TornReads: 1}})
	r := newRunner(t, fw, tgt)

	results, err := r.RunAllTests(context.Background())
	assert.ErrorIs(t, err, protocol.ErrInvalidCRC)
	assert.Empty(t, results)
}

func TestAddresses(t *testing.T) {
	fw := demoFirmware()
	r := newRunner(t, fw, newScriptedConn(fw.TestData))

	addrs := r.Addresses()
	assert.Equal(t, fw.StackPointer, addrs.StackPointer)
	assert.Equal(t, fw.EntryPoint, addrs.EntryPoint)
	assert.Equal(t, fw.FunToRun, addrs.FunToRun)
	assert.Equal(t, fw.TestData, addrs.TestData)
	assert.Equal(t, fw.FlashBase, addrs.Image.Addr)
	assert.Equal(t, binary.LittleEndian.Uint32(addrs.Image.Data[0:4]), fw.StackPointer)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassUnknown, Classify(nil))
	assert.Equal(t, ClassUnknown, Classify(errors.New("other")))
	assert.Equal(t, ClassImage, Classify(fmt.Errorf("wrap: %w", image.ErrNoLoadableSegment)))
	assert.Equal(t, ClassProtocol, Classify(protocol.ErrInvalidCRC))
	assert.Equal(t, ClassTransport, Classify(&probe.TransportError{Op: "halt", Err: errors.New("x")}))
	assert.Equal(t, "timeout", ClassTimeout.String())
}
