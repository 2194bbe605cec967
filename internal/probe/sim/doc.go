// Package sim provides an in-memory target that emulates the on-target test
// runtime.
//
// The simulated target has sparse byte-addressable memory and advances its
// runtime each time the host reads the status record, which is how the real
// firmware appears to a polling host. After ResetRun the record is blank,
// then Idle, then Ready once the configured number of reads has passed.
// Writing a non-zero function pointer and resuming starts the test; it
// finishes as Passed, or as Failed when a Failure is configured for that
// function.
//
// Faults can be injected to exercise the host's error paths: torn record
// reads, a runtime that never becomes ready, a test that never finishes and
// a dispatcher that executes the wrong function.
package sim
