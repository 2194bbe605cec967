package protocol

import "fmt"

// TargetState is the lifecycle state published by the runtime. The values are
// the magic constants written to the state word.
type TargetState uint32

const (
	StateIdle    TargetState = 0x8C3F82FA // runtime constructor ran
	StateReady   TargetState = 0xD79A2E5F // dispatcher waiting for a test pointer
	StateStarted TargetState = 0xCD833CB7 // test function entered
	StatePassed  TargetState = 0xBAF2C481
	StateFailed  TargetState = 0xCA83D14E
)

// ParseState maps a state word to a TargetState. Zero means the runtime has
// not set a state yet and yields nil. Any other unknown value is a
// *StateError.
func ParseState(word uint32) (*TargetState, error) {
	if word == 0 {
		return nil, nil
	}
	s := TargetState(word)
	switch s {
	case StateIdle, StateReady, StateStarted, StatePassed, StateFailed:
		return &s, nil
	}
	return nil, &StateError{Value: word}
}

// Done reports whether the state ends a test run.
func (s TargetState) Done() bool {
	return s == StatePassed || s == StateFailed
}

func (s TargetState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateReady:
		return "Ready"
	case StateStarted:
		return "Started"
	case StatePassed:
		return "Passed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("TargetState(0x%08x)", uint32(s))
	}
}

// AssertionKind classifies a failed assertion.
type AssertionKind int

const (
	AssertOther AssertionKind = iota
	AssertEqual
	AssertTrue
	AssertFalse
)

// Assertion codes written by the runtime's assert macros.
const (
	codeNone  = 0
	codeEqual = 1
	codeTrue  = 2
	codeFalse = 3
)

// TargetAssertion is the kind of assertion that failed. Code holds the raw
// value; it is the only information for AssertOther.
type TargetAssertion struct {
	Kind AssertionKind
	Code uint32
}

// ParseAssertion maps a fail_reason word. Zero means no assertion and yields
// nil; codes the host does not know become AssertOther.
func ParseAssertion(code uint32) *TargetAssertion {
	switch code {
	case codeNone:
		return nil
	case codeEqual:
		return &TargetAssertion{Kind: AssertEqual, Code: code}
	case codeTrue:
		return &TargetAssertion{Kind: AssertTrue, Code: code}
	case codeFalse:
		return &TargetAssertion{Kind: AssertFalse, Code: code}
	default:
		return &TargetAssertion{Kind: AssertOther, Code: code}
	}
}

func (a TargetAssertion) String() string {
	switch a.Kind {
	case AssertEqual:
		return "Equal"
	case AssertTrue:
		return "True"
	case AssertFalse:
		return "False"
	default:
		return fmt.Sprintf("Other(%d)", a.Code)
	}
}
