package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/muurk/target-tester/internal/runner"
)

// JUnit error types.
const (
	ErrorTypeAssert         = "Assert Failed"
	ErrorTypeInfrastructure = "Infrastructure"
)

// TestSuites is the <testsuites> document root.
type TestSuites struct {
	XMLName  xml.Name    `xml:"testsuites"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Time     string      `xml:"time,attr"`
	Suites   []TestSuite `xml:"testsuite"`
}

// TestSuite is one <testsuite>.
type TestSuite struct {
	Name      string     `xml:"name,attr"`
	ID        int        `xml:"id,attr"`
	Tests     int        `xml:"tests,attr"`
	Failures  int        `xml:"failures,attr"`
	Errors    int        `xml:"errors,attr"`
	Skipped   int        `xml:"skipped,attr"`
	Time      string     `xml:"time,attr"`
	Timestamp string     `xml:"timestamp,attr,omitempty"`
	Cases     []TestCase `xml:"testcase"`
}

// TestCase is one <testcase>.
type TestCase struct {
	Name      string `xml:"name,attr"`
	Classname string `xml:"classname,attr"`
	Time      string `xml:"time,attr"`
	Error     *Error `xml:"error,omitempty"`
}

// Error is the <error> child of a failing test case.
type Error struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// Build converts results into a JUnit document.
func Build(results []runner.TestResult) TestSuites {
	bySuite := make(map[string][]runner.TestResult)
	for _, r := range results {
		bySuite[r.Case.SuiteName] = append(bySuite[r.Case.SuiteName], r)
	}
	names := make([]string, 0, len(bySuite))
	for name := range bySuite {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := TestSuites{}
	var total time.Duration
	for i, name := range names {
		suite := TestSuite{Name: name, ID: i}
		var elapsed time.Duration
		for _, r := range bySuite[name] {
			tc := TestCase{
				Name:      r.Case.TestName,
				Classname: name,
				Time:      seconds(r.Duration),
			}
			switch {
			case r.Err != nil:
				tc.Error = &Error{
					Type:    ErrorTypeInfrastructure,
					Message: r.Err.Error(),
					Text:    fmt.Sprintf("%s: %v", runner.Classify(r.Err), r.Err),
				}
				suite.Errors++
			case r.Error != nil:
				tc.Error = &Error{
					Type:    ErrorTypeAssert,
					Message: "Assert failed at " + r.Error.Location(),
				}
				if r.Error.Assertion != nil {
					tc.Error.Text = "assertion: " + r.Error.Assertion.String()
				}
				suite.Errors++
			}
			if suite.Timestamp == "" && !r.Timestamp.IsZero() {
				suite.Timestamp = r.Timestamp.UTC().Format("2006-01-02T15:04:05")
			}
			elapsed += r.Duration
			suite.Tests++
			suite.Cases = append(suite.Cases, tc)
		}
		suite.Time = seconds(elapsed)
		total += elapsed

		doc.Tests += suite.Tests
		doc.Errors += suite.Errors
		doc.Suites = append(doc.Suites, suite)
	}
	doc.Time = seconds(total)
	return doc
}

// WriteJUnit writes results as an indented JUnit XML document.
func WriteJUnit(w io.Writer, results []runner.TestResult) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(Build(results)); err != nil {
		return fmt.Errorf("failed to encode junit report: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return nil
}

// WriteJUnitFile writes the report to path, creating parent directories.
func WriteJUnitFile(path string, results []runner.TestResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteJUnit(f, results); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
