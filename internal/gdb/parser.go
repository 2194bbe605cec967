package gdb

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/muurk/target-tester/internal/gdb/scripts"
)

// Parser provides utilities for parsing GDB output into structured results.
type Parser struct {
	stepPattern    *regexp.Regexp // Matches: [1/3] Step description...
	failurePattern *regexp.Regexp
}

// NewParser creates a new parser with compiled regex patterns.
func NewParser() *Parser {
	return &Parser{
		stepPattern:    regexp.MustCompile(`^\[(\d+)/(\d+)\]\s+(.+?)(?:\.\.\.)?\s*$`),
		failurePattern: regexp.MustCompile(`(?i)\berror\b|\bfail(ed)?\b|cannot access memory`),
	}
}

// ParseSteps extracts step markers from GDB output.
// Looks for lines like:
//
//	[1/3] Connecting to localhost:3333...
//	[2/3] Writing 1024 bytes to 0x20000000...
//
// A step is failed when a failure keyword appears before the next marker.
func (p *Parser) ParseSteps(output string) []scripts.Step {
	lines := strings.Split(output, "\n")
	steps := make([]scripts.Step, 0)

	for i, line := range lines {
		matches := p.stepPattern.FindStringSubmatch(strings.TrimSpace(line))
		if matches == nil {
			continue
		}

		step := scripts.Step{
			Name:   fmt.Sprintf("[%s/%s] %s", matches[1], matches[2], matches[3]),
			Status: scripts.StatusSuccess,
		}
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if p.stepPattern.MatchString(next) {
				break
			}
			if p.failurePattern.MatchString(next) {
				step.Status = scripts.StatusFailed
				step.Message = next
				break
			}
		}
		steps = append(steps, step)
	}

	return steps
}

// ParseResult extracts a named integer from GDB output.
// Looks for patterns like:
//
//	bytes_written: 1024
//	$1 = 0x1234
func (p *Parser) ParseResult(output, name string) (int64, error) {
	pattern := regexp.MustCompile(regexp.QuoteMeta(name) + `\s*[=:]\s*(-?(?:0[xX][0-9a-fA-F]+|\d+))`)

	matches := pattern.FindStringSubmatch(output)
	if matches == nil {
		return 0, fmt.Errorf("result %q not found in output", name)
	}

	val, err := strconv.ParseInt(matches[1], 0, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse value %q: %w", matches[1], err)
	}
	return val, nil
}

// DetectErrors scans GDB output for error indicators.
// Returns an error if any known failure pattern is found.
func (p *Parser) DetectErrors(output string) error {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if strings.Contains(line, "Cannot access memory at address") {
			return fmt.Errorf("GDB memory access error: %s", line)
		}

		if strings.Contains(line, "Connection refused") ||
			strings.Contains(line, "Connection timed out") {
			return &RemoteError{Err: errors.New(line)}
		}

		if strings.Contains(line, "No such file or directory") {
			return fmt.Errorf("GDB file not found: %s", line)
		}

		if strings.Contains(line, "Remote communication error") {
			return fmt.Errorf("GDB communication error: %s", line)
		}
	}

	return nil
}
