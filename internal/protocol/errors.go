package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCRC is returned when the stored checksum does not match the
	// record contents, typically a torn read.
	ErrInvalidCRC = errors.New("invalid CRC")

	// ErrNotPopulated is returned when the checksum word is still zero, i.e.
	// the runtime has not written the record yet.
	ErrNotPopulated = errors.New("record not yet populated")

	// ErrRecordSize is returned when a buffer is not exactly RecordSize bytes.
	ErrRecordSize = errors.New("unexpected record size")
)

// StateError reports a state word that is neither zero nor a known magic.
type StateError struct {
	Value uint32
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid data on target: state was 0x%08x", e.Value)
}
