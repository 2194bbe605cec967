package probe

import (
	"context"
	"time"
)

// MemoryReader reads raw target memory.
type MemoryReader interface {
	ReadRAM(ctx context.Context, addr uint32, length int) ([]byte, error)
}

// MemoryWriter writes raw target memory.
type MemoryWriter interface {
	WriteRAM(ctx context.Context, addr uint32, data []byte) error
}

// Connection is the set of primitive operations a debug-probe backend
// provides. Implementations are not safe for concurrent use; a session is
// driven by a single goroutine.
type Connection interface {
	MemoryReader
	MemoryWriter

	// Halt stops the core. It returns only once the core is halted or the
	// timeout has expired.
	Halt(ctx context.Context, timeout time.Duration) error

	// Run resumes execution.
	Run(ctx context.Context) error

	// ResetRun halts the core, forces SP and PC to the given values and
	// resumes execution.
	ResetRun(ctx context.Context, stackPointer, entryPoint uint32) error

	// Download places data at addr. A backend may skip the transfer when
	// target memory already holds data.
	Download(ctx context.Context, addr uint32, data []byte) error

	// Close releases the backend.
	Close() error
}
