package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// OutputBox shows raw tool output (GDB, OpenOCD) in verbose mode.
type OutputBox struct {
	Title    string
	Lines    []string
	Width    int
	MaxLines int // 0 = unlimited; keeps the last MaxLines lines
}

// NewOutputBox creates a box for content.
func NewOutputBox(content string) *OutputBox {
	return &OutputBox{
		Title: "Tool Output",
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the width for rendering
func (o *OutputBox) SetWidth(width int) *OutputBox {
	o.Width = width
	return o
}

// SetTitle sets the box title
func (o *OutputBox) SetTitle(title string) *OutputBox {
	o.Title = title
	return o
}

// SetMaxLines limits the output to its last n lines
func (o *OutputBox) SetMaxLines(n int) *OutputBox {
	o.MaxLines = n
	return o
}

// FilterPrefix keeps only lines starting with one of prefixes, ignoring
// leading whitespace.
func (o *OutputBox) FilterPrefix(prefixes ...string) *OutputBox {
	var kept []string
	for _, line := range o.Lines {
		trimmed := strings.TrimSpace(line)
		for _, prefix := range prefixes {
			if strings.HasPrefix(trimmed, prefix) {
				kept = append(kept, line)
				break
			}
		}
	}
	o.Lines = kept
	return o
}

// Render returns the styled box
func (o *OutputBox) Render() string {
	lines := o.Lines
	truncated := 0
	if o.MaxLines > 0 && len(lines) > o.MaxLines {
		truncated = len(lines) - o.MaxLines
		lines = lines[truncated:]
	}

	body := []string{OutputTitleStyle.Render(o.Title)}
	if truncated > 0 {
		body = append(body, StepNoteStyle.Render("... "+strconv.Itoa(truncated)+" earlier lines omitted"))
	}
	body = append(body, OutputContentStyle.Render(strings.Join(lines, "\n")))

	width := o.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(width - 4).
		Padding(0, 1).
		Render(strings.Join(body, "\n"))
}

// String implements fmt.Stringer
func (o *OutputBox) String() string {
	return o.Render()
}
