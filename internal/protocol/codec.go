package protocol

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/muurk/target-tester/internal/probe"
)

// RecordSize is the size of the shared status record in bytes.
const RecordSize = 24

const (
	offState            = 0
	offExecutedFunction = 4
	offFailReason       = 8
	offFilePath         = 12
	offLineno           = 16
	offCRC              = 20
)

// Record is the raw word view of the status record.
type Record struct {
	State            uint32
	ExecutedFunction uint32
	FailReason       uint32
	FilePathPtr      uint32
	Lineno           uint32
}

// Encode serializes the record and appends its checksum, the way the
// runtime does after every update.
func (r Record) Encode() []byte {
	buf := make([]byte, RecordSize)
	le := binary.LittleEndian
	le.PutUint32(buf[offState:], r.State)
	le.PutUint32(buf[offExecutedFunction:], r.ExecutedFunction)
	le.PutUint32(buf[offFailReason:], r.FailReason)
	le.PutUint32(buf[offFilePath:], r.FilePathPtr)
	le.PutUint32(buf[offLineno:], r.Lineno)
	le.PutUint32(buf[offCRC:], CRC32(buf[:offCRC]))
	return buf
}

// RawSnapshot is a decoded record whose file path has not been resolved.
// Absent fields are nil.
type RawSnapshot struct {
	State            *TargetState
	ExecutedFunction *uint32
	FailReason       *TargetAssertion
	FilePathPtr      uint32
	Lineno           *uint32
}

// Snapshot is one validated point-in-time view of the record.
type Snapshot struct {
	State            *TargetState
	ExecutedFunction *uint32
	FailReason       *TargetAssertion
	FilePath         *string
	Lineno           *uint32
}

// Decode validates and interprets a raw record. It performs no I/O.
func Decode(raw []byte) (RawSnapshot, error) {
	if len(raw) != RecordSize {
		return RawSnapshot{}, fmt.Errorf("%w: got %d bytes, want %d", ErrRecordSize, len(raw), RecordSize)
	}

	le := binary.LittleEndian
	stored := le.Uint32(raw[offCRC:])
	computed := CRC32(raw[:offCRC])
	if stored != computed {
		if stored == 0 {
			return RawSnapshot{}, ErrNotPopulated
		}
		return RawSnapshot{}, fmt.Errorf("%w: stored 0x%08x, computed 0x%08x", ErrInvalidCRC, stored, computed)
	}

	state, err := ParseState(le.Uint32(raw[offState:]))
	if err != nil {
		return RawSnapshot{}, err
	}

	return RawSnapshot{
		State:            state,
		ExecutedFunction: nonZero(le.Uint32(raw[offExecutedFunction:])),
		FailReason:       ParseAssertion(le.Uint32(raw[offFailReason:])),
		FilePathPtr:      le.Uint32(raw[offFilePath:]),
		Lineno:           nonZero(le.Uint32(raw[offLineno:])),
	}, nil
}

// Fetch reads the record at addr in a single transfer, decodes it and
// resolves the file path with a second read when the pointer is set.
func Fetch(ctx context.Context, r probe.MemoryReader, addr uint32) (Snapshot, error) {
	raw, err := r.ReadRAM(ctx, addr, RecordSize)
	if err != nil {
		return Snapshot{}, probe.Wrap("read_ram", err)
	}

	rs, err := Decode(raw)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		State:            rs.State,
		ExecutedFunction: rs.ExecutedFunction,
		FailReason:       rs.FailReason,
		Lineno:           rs.Lineno,
	}
	if rs.FilePathPtr != 0 {
		path, err := probe.ReadUTF8String(ctx, r, rs.FilePathPtr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read file path: %w", err)
		}
		snap.FilePath = &path
	}
	return snap, nil
}

// String implements fmt.Stringer
func (s Snapshot) String() string {
	return fmt.Sprintf("Snapshot{state=%s, executed_function=%s, fail_reason=%s, file=%s, lineno=%s}",
		optString(s.State), optHex(s.ExecutedFunction), optString(s.FailReason), optQuoted(s.FilePath), optDec(s.Lineno))
}

func nonZero(v uint32) *uint32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optString[T fmt.Stringer](v *T) string {
	if v == nil {
		return "-"
	}
	return (*v).String()
}

func optHex(v *uint32) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("0x%08x", *v)
}

func optDec(v *uint32) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func optQuoted(v *string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%q", *v)
}
