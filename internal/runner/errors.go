package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/muurk/target-tester/internal/image"
	"github.com/muurk/target-tester/internal/probe"
	"github.com/muurk/target-tester/internal/protocol"
)

// Wait phases reported by TimeoutError.
const (
	PhaseStartup = "startup"
	PhaseFinish  = "finish"
)

// TimeoutError reports a poll that hit its deadline.
type TimeoutError struct {
	// Phase is PhaseStartup or PhaseFinish
	Phase string
	// Timeout is the deadline that was exceeded
	Timeout time.Duration
	// Last is the last state observed, if any
	Last *protocol.TargetState
}

func (e *TimeoutError) Error() string {
	var msg string
	switch e.Phase {
	case PhaseStartup:
		msg = "timeout waiting for target to start up"
	case PhaseFinish:
		msg = "timeout waiting for test to finish"
	default:
		msg = "timeout waiting for target"
	}
	msg += fmt.Sprintf(" after %s", e.Timeout)
	if e.Last != nil {
		msg += fmt.Sprintf(" (last state %s)", e.Last)
	}
	return msg
}

// MissingSymbolError reports a mandatory runtime symbol absent from the image.
type MissingSymbolError struct {
	Symbol string
}

func (e *MissingSymbolError) Error() string {
	return fmt.Sprintf("did not find test runner in binary (symbol %q missing); did you link the test runtime?", e.Symbol)
}

// DesyncError reports that the runtime executed a different function than
// the one the host injected.
type DesyncError struct {
	// Expected is the injected test address
	Expected uint32
	// Executed is the address the runtime reported, nil if none
	Executed *uint32
}

func (e *DesyncError) Error() string {
	if e.Executed == nil {
		return fmt.Sprintf("test framework did not execute a test function; expected function @0x%08x", e.Expected)
	}
	return fmt.Sprintf("test framework executed wrong test function; expected function @0x%08x but executed @0x%08x",
		e.Expected, *e.Executed)
}

// ErrorClass is the coarse category of a fatal error.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassImage
	ClassTransport
	ClassProtocol
	ClassTimeout
)

func (c ErrorClass) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassTransport:
		return "transport"
	case ClassProtocol:
		return "protocol"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify returns the category of err.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var (
		timeoutErr *TimeoutError
		transport  *probe.TransportError
		stateErr   *protocol.StateError
		desync     *DesyncError
		missing    *MissingSymbolError
		outOfRange *image.OutOfRangeError
		overlap    *image.OverlapError
		truncated  *image.TruncatedSegmentError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return ClassTimeout
	case errors.As(err, &stateErr), errors.As(err, &desync),
		errors.Is(err, protocol.ErrInvalidCRC), errors.Is(err, protocol.ErrNotPopulated),
		errors.Is(err, protocol.ErrRecordSize), errors.Is(err, probe.ErrInvalidString):
		return ClassProtocol
	case errors.As(err, &transport):
		return ClassTransport
	case errors.As(err, &missing), errors.As(err, &outOfRange), errors.As(err, &overlap),
		errors.As(err, &truncated), errors.Is(err, image.ErrNoLoadableSegment), errors.Is(err, image.ErrUnsupportedImage):
		return ClassImage
	}
	return ClassUnknown
}
