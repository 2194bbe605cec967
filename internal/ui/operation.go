package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// OperationConfig describes a multi-step command such as a download or a
// setup check.
type OperationConfig struct {
	Title           string
	Command         string
	Params          []Param
	StepNames       []string
	Troubleshooting []string // shown when the operation fails
	Verbose         bool     // show raw tool output after the result
	Output          io.Writer
}

// Operation renders header, step progress and result for a command.
type Operation struct {
	config    OperationConfig
	header    *Header
	progress  *Progress
	out       io.Writer
	rawOutput string
	width     int
}

// NewOperation creates an Operation sized to the terminal.
func NewOperation(config OperationConfig) *Operation {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params...)
	header.SetWidth(width)

	var prog *Progress
	if len(config.StepNames) > 0 {
		prog = NewProgress("", len(config.StepNames))
		prog.SetWidth(width)
		prog.SetStepNames(config.StepNames)
	}

	return &Operation{
		config:   config,
		header:   header,
		progress: prog,
		out:      config.Output,
		width:    width,
	}
}

// OperationFunc does the work, reporting each step through onStep. The
// returned details are shown in the success box.
type OperationFunc func(ctx context.Context, onStep StepCallback) ([]Param, error)

// Run prints the header, executes fn and prints the outcome.
func (o *Operation) Run(ctx context.Context, fn OperationFunc) error {
	start := time.Now()
	_, _ = fmt.Fprintln(o.out, o.header.Render())
	_, _ = fmt.Fprintln(o.out)

	details, err := fn(ctx, o.onStep)
	duration := time.Since(start).Round(time.Millisecond)
	_, _ = fmt.Fprintln(o.out)

	if err != nil {
		result := NewFailureResult(o.config.Title+" failed", err, o.config.Troubleshooting)
		_, _ = fmt.Fprintln(o.out, result.SetWidth(o.width).Render())
	} else {
		details = append(details, Param{Key: "Duration", Value: duration.String()})
		result := NewSuccessResult(o.config.Title+" complete", details...)
		_, _ = fmt.Fprintln(o.out, result.SetWidth(o.width).Render())
	}

	if o.config.Verbose && o.rawOutput != "" {
		_, _ = fmt.Fprintln(o.out)
		_, _ = fmt.Fprintln(o.out, NewOutputBox(o.rawOutput).SetWidth(o.width).Render())
	}
	return err
}

// SetRawOutput stores tool output for verbose display.
func (o *Operation) SetRawOutput(output string) {
	o.rawOutput = output
}

func (o *Operation) onStep(stepNumber int, name string, status StepStatus, message string) {
	if o.progress == nil || stepNumber < 1 || stepNumber > len(o.progress.Steps) {
		return
	}
	if name != "" {
		o.progress.Steps[stepNumber-1].Name = name
	}
	o.progress.UpdateStep(stepNumber, status, message)

	line := o.progress.RenderStep(o.progress.Steps[stepNumber-1])
	if status == StepRunning {
		// Overwritten by the final status of the step.
		_, _ = fmt.Fprint(o.out, line+"\r")
		return
	}
	_, _ = fmt.Fprintln(o.out, line)
}
