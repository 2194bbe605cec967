package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/target-tester/internal/runner"
	"github.com/muurk/target-tester/internal/ui"
)

// Totals counts results by outcome.
type Totals struct {
	Passed   int
	Failed   int
	Errored  int
	Duration time.Duration
}

// Total returns the number of results counted.
func (t Totals) Total() int {
	return t.Passed + t.Failed + t.Errored
}

// OK reports whether every test passed.
func (t Totals) OK() bool {
	return t.Failed == 0 && t.Errored == 0
}

// Count tallies results.
func Count(results []runner.TestResult) Totals {
	var t Totals
	for _, r := range results {
		switch {
		case r.Err != nil:
			t.Errored++
		case r.Error != nil:
			t.Failed++
		default:
			t.Passed++
		}
		t.Duration += r.Duration
	}
	return t
}

// Summary renders results grouped by suite followed by a result box.
// notRun is the number of discovered tests that never ran because the batch
// was aborted.
func Summary(results []runner.TestResult, notRun int, width int) string {
	bySuite := make(map[string][]runner.TestResult)
	for _, r := range results {
		bySuite[r.Case.SuiteName] = append(bySuite[r.Case.SuiteName], r)
	}
	names := make([]string, 0, len(bySuite))
	for name := range bySuite {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(ui.SuiteNameStyle.Render(name))
		b.WriteString("\n")
		for _, r := range bySuite[name] {
			b.WriteString(resultLine(r))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	totals := Count(results)
	details := []ui.Param{
		{Key: "Passed", Value: fmt.Sprintf("%d", totals.Passed)},
		{Key: "Failed", Value: fmt.Sprintf("%d", totals.Failed)},
	}
	if totals.Errored > 0 {
		details = append(details, ui.Param{Key: "Errors", Value: fmt.Sprintf("%d", totals.Errored)})
	}
	if notRun > 0 {
		details = append(details, ui.Param{Key: "Not run", Value: fmt.Sprintf("%d", notRun)})
	}
	details = append(details, ui.Param{Key: "Target time", Value: totals.Duration.Round(time.Millisecond).String()})

	title := fmt.Sprintf("%d of %d tests passed", totals.Passed, totals.Total()+notRun)
	var box *ui.Result
	switch {
	case totals.OK() && notRun == 0:
		box = ui.NewSuccessResult(title, details...)
	case totals.Failed > 0:
		box = &ui.Result{Type: ui.ResultFailure, Title: title, Details: details}
	default:
		box = ui.NewWarningResult(title, details...)
	}
	b.WriteString(box.SetWidth(width).Render())
	return b.String()
}

func resultLine(r runner.TestResult) string {
	var marker, note string
	var style lipgloss.Style
	switch {
	case r.Err != nil:
		marker, style = ui.WarningMarker, ui.WarningTitleStyle
		note = fmt.Sprintf("%s error: %v", runner.Classify(r.Err), r.Err)
	case r.Error != nil:
		marker, style = ui.FailureMarker, ui.ErrorTitleStyle
		note = "failed at " + r.Error.Location()
		if r.Error.Assertion != nil {
			note += " (" + r.Error.Assertion.String() + ")"
		}
	default:
		marker, style = ui.SuccessMarker, ui.StepCompleteStyle
		note = r.Duration.Round(time.Millisecond).String()
	}
	return fmt.Sprintf("    %s %s  %s", style.Render(marker), r.Case.TestName, ui.StepNoteStyle.Render(note))
}
