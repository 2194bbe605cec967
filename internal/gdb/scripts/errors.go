package scripts

import (
	"fmt"
	"strings"
)

// failureFromOutput picks the most specific failure GDB reported.
func failureFromOutput(op string, addr uint32, output string) error {
	if strings.Contains(output, "Cannot access memory") {
		return fmt.Errorf("cannot access memory at 0x%08x: address may be invalid or not accessible", addr)
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), "error") {
			return fmt.Errorf("%s failed: %s", op, strings.TrimSpace(line))
		}
	}
	return fmt.Errorf("%s failed: success marker not found", op)
}
