// Package runner drives the on-target test protocol.
//
// A Runner owns a merged firmware image, the addresses of the runtime's two
// shared variables and a probe.Connection. For each test it cold-starts the
// firmware, waits for the runtime to report Ready, injects the test's entry
// point, resumes the core and waits for Passed or Failed:
//
//	Resetting -> AwaitingReady -> Injecting -> Running -> AwaitingDone -> Decoded
//
// Tests are discovered from symbol names of the form
//
//	target_test_test_<suite>__target_test__<test>
//
// which the runtime's TEST macro generates.
//
// Every infrastructure failure is fatal for the test that hit it. By default
// RunAllTests stops at the first one and returns the results collected so
// far together with the error; WithContinueOnError records the failure on
// the test's result and moves on.
package runner
