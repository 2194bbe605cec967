package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxStringLength is the size of the window read by ReadUTF8String.
const MaxStringLength = 256

// ErrInvalidString is returned when a target string is not valid UTF-8.
var ErrInvalidString = errors.New("could not decode C string")

// ReadUTF8String reads a NUL-terminated string from target memory. It reads
// MaxStringLength bytes at addr and decodes everything before the first NUL.
// A window without a terminator yields an empty string.
func ReadUTF8String(ctx context.Context, r MemoryReader, addr uint32) (string, error) {
	data, err := r.ReadRAM(ctx, addr, MaxStringLength)
	if err != nil {
		return "", Wrap("read_ram", err)
	}

	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", nil
	}
	if !utf8.Valid(data[:end]) {
		return "", fmt.Errorf("%w at 0x%08x", ErrInvalidString, addr)
	}
	return string(data[:end]), nil
}
