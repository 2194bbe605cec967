package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/muurk/target-tester/internal/runner"
	"github.com/muurk/target-tester/internal/ui"
)

// consoleObserver prints one block per test while a batch runs.
type consoleObserver struct {
	out      io.Writer
	width    int
	progress *ui.Progress
}

var _ runner.Observer = (*consoleObserver)(nil)

func newConsoleObserver(out io.Writer, width int) *consoleObserver {
	return &consoleObserver{out: out, width: width, progress: ui.NewProgress("", 0)}
}

// setTests sizes the progress list. It must be called before the batch
// starts.
func (o *consoleObserver) setTests(tests []runner.TestCase) {
	names := make([]string, len(tests))
	for i, tc := range tests {
		names[i] = tc.FullName()
	}
	o.progress = ui.NewProgress("", len(tests))
	o.progress.SetWidth(o.width)
	o.progress.SetStepNames(names)
}

func (o *consoleObserver) TestStarted(tc runner.TestCase, index, total int) {
	o.progress.StartStep(index+1, "")
	_, _ = fmt.Fprintln(o.out, ui.StepRunningStyle.Render(
		fmt.Sprintf("  Running test: %s -- %s", tc.SuiteName, tc.TestName)))
}

func (o *consoleObserver) TestFinished(result runner.TestResult, index, total int) {
	switch {
	case result.Err != nil:
		o.progress.UpdateStep(index+1, ui.StepErrored, runner.Classify(result.Err).String()+" error")
	case result.Error != nil:
		o.progress.FailStep(index+1, result.Error.Location())
	default:
		o.progress.CompleteStep(index+1, result.Duration.Round(time.Millisecond).String())
	}
	if index < len(o.progress.Steps) {
		_, _ = fmt.Fprintln(o.out, o.progress.RenderStep(o.progress.Steps[index]))
	}

	if result.Error != nil {
		_, _ = fmt.Fprintln(o.out, ui.ErrorTitleStyle.Render("  Test failed at: "+result.Error.Location()))
	}
	if result.Err != nil {
		_, _ = fmt.Fprintln(o.out, ui.WarningTitleStyle.Render("  "+result.Err.Error()))
	}
}

// bar renders the overall progress bar.
func (o *consoleObserver) bar() string {
	return o.progress.RenderBar()
}

// render prints content through Bubble Tea when out is the terminal.
func render(out io.Writer, content string) {
	if f, ok := out.(*os.File); ok && f == os.Stdout {
		if err := ui.RenderOnce(content); err == nil {
			return
		}
	}
	_, _ = fmt.Fprintln(out, content)
}
