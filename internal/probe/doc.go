// Package probe defines the capability a debug-probe backend must provide to
// drive a target under test.
//
// A Connection exposes raw memory access and run control. The test runner
// consumes nothing else, so any backend that can peek and poke memory, halt
// and resume the core, cold-start it with a given stack pointer and entry
// point, and place an image in target memory can host the protocol.
//
// Two backends live in subpackages:
//
//   - openocd talks to a running OpenOCD instance over its Tcl RPC port
//   - sim emulates the on-target test runtime in memory
//
// Backend failures are surfaced as *TransportError so callers can classify
// them without knowing the backend.
package probe
