package runner

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/muurk/target-tester/internal/image"
	"github.com/muurk/target-tester/internal/protocol"
)

// Mandatory runtime symbols.
const (
	SymbolFunToRun = "target_test_fun_to_run"
	SymbolTestData = "target_test_data"
)

var testSymbolRe = regexp.MustCompile(`^target_test_test_(?P<suite>.*?)__target_test__(?P<test>.*?)$`)

// TestCase identifies one test by the address of its entry point.
type TestCase struct {
	SuiteName string
	TestName  string
	Addr      uint32
}

// SymbolName returns the symbol the TEST macro emits for this case.
func (tc TestCase) SymbolName() string {
	return fmt.Sprintf("target_test_test_%s__target_test__%s", tc.SuiteName, tc.TestName)
}

// FullName returns "suite.test".
func (tc TestCase) FullName() string {
	return tc.SuiteName + "." + tc.TestName
}

// String implements fmt.Stringer
func (tc TestCase) String() string {
	return fmt.Sprintf("%s -- %s @ 0x%08x", tc.SuiteName, tc.TestName, tc.Addr)
}

// DiscoverTests returns every test declared in symbols, ordered by address
// and then by name. Symbols that do not match the naming pattern are ignored.
func DiscoverTests(symbols image.SymbolTable) []TestCase {
	var tests []TestCase
	suiteIdx := testSymbolRe.SubexpIndex("suite")
	testIdx := testSymbolRe.SubexpIndex("test")
	for name, addr := range symbols {
		m := testSymbolRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		tests = append(tests, TestCase{
			SuiteName: m[suiteIdx],
			TestName:  m[testIdx],
			Addr:      addr,
		})
	}
	sort.Slice(tests, func(i, j int) bool {
		if tests[i].Addr != tests[j].Addr {
			return tests[i].Addr < tests[j].Addr
		}
		return tests[i].SymbolName() < tests[j].SymbolName()
	})
	return tests
}

// FailedAssert describes where and how a test failed.
type FailedAssert struct {
	Lineno    *uint32
	FileName  *string
	Assertion *protocol.TargetAssertion
}

// Location returns "file:line" with empty parts for unknown values.
func (f FailedAssert) Location() string {
	file, line := "", uint32(0)
	if f.FileName != nil {
		file = *f.FileName
	}
	if f.Lineno != nil {
		line = *f.Lineno
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// TestResult is the outcome of one executed test.
type TestResult struct {
	Case      TestCase
	Timestamp time.Time
	Duration  time.Duration
	// Error is set when the test reported a failure.
	Error *FailedAssert
	// Err is set when the test could not be run to completion and the
	// runner was told to continue with the next test.
	Err error
}

// Passed reports whether the test ran and passed.
func (r TestResult) Passed() bool {
	return r.Error == nil && r.Err == nil
}
