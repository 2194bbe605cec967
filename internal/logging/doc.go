// Package logging provides structured logging for target-tester.
//
// This package wraps a zap logger with a silent default. Library packages
// accept a *zap.Logger of their own; the CLI builds one per component with
// Named and passes it down.
//
// # Log Levels
//
//   - Debug: Detailed debugging info (record dumps, Tcl commands, poll ticks)
//   - Info: Normal operations (connect, download, test start and finish)
//   - Warn: Non-fatal issues (interface mismatch, skipped downloads)
//   - Error: Fatal issues (transport failures, aborted runs)
//
// # Configuration
//
// Logging is off unless a level is given with --log-level or the
// TARGET_TESTER_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// # Raw Data
//
// Memory contents read from the target can be dumped at debug level:
//
//	log.Debug("Status record", logging.RawBytes(raw)...)
//
// Output goes to stderr in console format so it never interleaves with the
// test report on stdout.
package logging
