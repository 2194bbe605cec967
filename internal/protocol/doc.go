// Package protocol decodes the status record the on-target test runtime
// shares with the host.
//
// # Record Layout
//
// The runtime keeps a 24-byte record at the address of the target_test_data
// symbol, laid out as six little-endian 32-bit words:
//
//	offset  field
//	0x00    state               magic constant, see TargetState
//	0x04    executed_function   entry point of the test that ran
//	0x08    fail_reason         assertion kind, see TargetAssertion
//	0x0C    file_path_ptr       address of a NUL-terminated file name
//	0x10    lineno              line of the failed assertion
//	0x14    crc32               CRC-32 over bytes 0x00-0x13
//
// The record is read in one transfer. Reads over a debug link are not atomic
// with respect to the firmware, so a read can observe a partially updated
// record; the trailing CRC is what rejects it. A zero CRC word marks memory
// the runtime has not written yet and is reported as ErrNotPopulated rather
// than ErrInvalidCRC.
//
// State values are magic constants instead of small integers so that stale or
// uninitialised RAM is never mistaken for a real state.
//
// # Usage
//
//	snap, err := protocol.Fetch(ctx, conn, dataAddr)
//	if errors.Is(err, protocol.ErrNotPopulated) {
//	    // runtime not booted yet, poll again
//	}
package protocol
