// Package gdb drives arm-none-eabi-gdb against OpenOCD's GDB server.
//
// It backs the "gdb" download method and the raw record dump of
// dump-record. Operations are GDB script templates that get parameterized
// and executed in batch mode:
//
//	┌─────────────────┐
//	│ Flasher         │  Flash(addr, data), Dump(addr, size, file)
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Script          │  Implements: Name(), Template(), Params(), Parse()
//	│ (load_image)    │
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Executor        │  Renders template, runs gdb -batch -nx -x, cleans up
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Parser          │  Step markers, named results, known GDB errors
//	└─────────────────┘
//
// # Usage
//
//	config := gdb.DefaultConfig()
//	config.Port = 3333
//	executor := gdb.NewExecutor(config, logger)
//	flasher := gdb.NewFlasher(executor, true, board.Flash)
//	if err := flasher.Flash(ctx, seg.Addr, seg.Data); err != nil {
//	    return err
//	}
//
// # Script Conventions
//
// Templates echo "[n/m] description" before each step and "[SUCCESS]" once
// everything completed. GDB runs with -batch, so the first failing command
// ends the script before the success marker is printed.
//
// # Prerequisites
//
// ValidatePrerequisites reports on the GDB binary and the OpenOCD Tcl and
// GDB ports; verify-setup renders the report.
package gdb
