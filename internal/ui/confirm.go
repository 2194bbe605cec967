package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmPhrase must be typed to accept a destructive operation.
const ConfirmPhrase = "yes"

// Confirm shows a warning box on out and reads one line from in. It returns
// true only if the line equals ConfirmPhrase.
func Confirm(in io.Reader, out io.Writer, title string, warnings []string) bool {
	width := GetTerminalWidth()

	lines := []string{"", WarningTitleStyle.Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, title)), ""}
	bullet := lipgloss.NewStyle().Foreground(TextColor)
	for _, w := range warnings {
		lines = append(lines, bullet.Render("   • "+w))
	}
	lines = append(lines, "")

	_, _ = fmt.Fprintln(out, resultBoxStyle(width, WarningColor).Render(strings.Join(lines, "\n")))
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprint(out, WarningTitleStyle.Render(fmt.Sprintf("Type %q to continue: ", ConfirmPhrase)))

	input, err := bufio.NewReader(in).ReadString('\n')
	_, _ = fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(input), ConfirmPhrase) {
		return true
	}
	_, _ = fmt.Fprintln(out, StepPendingStyle.Render("  Operation cancelled."))
	return false
}

// FlashEraseConfirmation asks before a download erases target flash.
func FlashEraseConfirmation(in io.Reader, out io.Writer, addr uint32, size int) bool {
	return Confirm(in, out, "FLASH ERASE", []string{
		fmt.Sprintf("Flash sectors covering 0x%08x-0x%08x will be erased and reprogrammed", addr, uint64(addr)+uint64(size)),
		"Any firmware currently on the target will be lost",
		"Do not disconnect the probe while programming",
		"Pass --yes to skip this prompt in CI",
	})
}
