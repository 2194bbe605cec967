package runner

import (
	"time"

	"go.uber.org/zap"
)

// PollPolicy bounds a wait on the status record.
type PollPolicy struct {
	// Interval is the pause before each read.
	Interval time.Duration
	// Timeout is the wall-clock deadline for the whole wait.
	Timeout time.Duration
}

var (
	// DefaultStartupPoll waits for the runtime to report Ready.
	DefaultStartupPoll = PollPolicy{Interval: 10 * time.Millisecond, Timeout: 500 * time.Millisecond}
	// DefaultFinishPoll waits for a test to report Passed or Failed.
	DefaultFinishPoll = PollPolicy{Interval: 10 * time.Millisecond, Timeout: 500 * time.Millisecond}
)

// DefaultHaltTimeout bounds the halt before the test pointer is written.
const DefaultHaltTimeout = 100 * time.Millisecond

// Observer receives progress notifications from RunAllTests.
type Observer interface {
	TestStarted(tc TestCase, index, total int)
	TestFinished(result TestResult, index, total int)
}

type options struct {
	logger          *zap.Logger
	startup         PollPolicy
	finish          PollPolicy
	haltTimeout     time.Duration
	continueOnError bool
	observer        Observer
}

func defaultOptions() options {
	return options{
		logger:      zap.NewNop(),
		startup:     DefaultStartupPoll,
		finish:      DefaultFinishPoll,
		haltTimeout: DefaultHaltTimeout,
	}
}

// Option configures a Runner.
type Option func(*options)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStartupPoll sets the policy for waiting on Ready.
func WithStartupPoll(p PollPolicy) Option {
	return func(o *options) { o.startup = p }
}

// WithFinishPoll sets the policy for waiting on Passed or Failed.
func WithFinishPoll(p PollPolicy) Option {
	return func(o *options) { o.finish = p }
}

// WithHaltTimeout sets the timeout passed to Connection.Halt.
func WithHaltTimeout(d time.Duration) Option {
	return func(o *options) { o.haltTimeout = d }
}

// WithContinueOnError makes RunAllTests record infrastructure failures on
// the affected TestResult instead of aborting the batch.
func WithContinueOnError(enabled bool) Option {
	return func(o *options) { o.continueOnError = enabled }
}

// WithObserver registers a progress observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}
