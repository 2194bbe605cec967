// Package ui renders terminal output for the target-tester CLI.
//
// Components follow a "render once and exit" pattern built on Lip Gloss,
// Bubbles and Bubble Tea; nothing here is interactive except Confirm.
//
//   - Header: command banner with ordered parameters
//   - Progress: progress bar with a step list, one step per test or phase
//   - Result: success, failure and warning boxes with troubleshooting tips
//   - OutputBox: raw GDB or OpenOCD output for --verbose
//   - Operation: header, steps and result for multi-step commands
//
// Example:
//
//	op := ui.NewOperation(ui.OperationConfig{
//	    Title:     "Download",
//	    Command:   "target-tester download fw.elf",
//	    StepNames: []string{"Load image", "Connect", "Write"},
//	})
//	err := op.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Param, error) {
//	    onStep(1, "", ui.StepRunning, "")
//	    // ... do work ...
//	    onStep(1, "", ui.StepComplete, "")
//	    return nil, nil
//	})
//
// Logging is silent unless TARGET_TESTER_LOG_LEVEL or --log-level is set, so
// the styled output is not interleaved with log lines.
package ui
