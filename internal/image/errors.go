package image

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLoadableSegment is returned when an object has no loadable
	// program header with file-backed content.
	ErrNoLoadableSegment = errors.New("binary does not contain a loadable segment")

	// ErrUnsupportedImage is returned for objects that are not ELF32
	// little-endian.
	ErrUnsupportedImage = errors.New("unsupported object file")
)

// OutOfRangeError reports a vector table address that does not fit inside
// the merged image.
type OutOfRangeError struct {
	// Addr is the requested vector table address
	Addr uint32
	// Start is the first address of the image
	Start uint32
	// End is the exclusive end address of the image
	End uint32
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("vector table at 0x%08x not in binary (image spans 0x%08x-0x%08x)",
		e.Addr, e.Start, e.End)
}

// OverlapError reports two loadable segments whose address ranges overlap.
type OverlapError struct {
	// Addr is the start address of the offending segment
	Addr uint32
	// PrevEnd is the exclusive end address of everything merged before it
	PrevEnd uint32
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("segment at 0x%08x overlaps previous segment ending at 0x%08x", e.Addr, e.PrevEnd)
}

// TruncatedSegmentError reports a loadable program header whose file image
// extends past the end of the object.
type TruncatedSegmentError struct {
	// Index is the position of the program header
	Index int
	// Off is the file offset of the segment
	Off uint64
	// Filesz is the size of the segment's file image
	Filesz uint64
	// FileSize is the length of the object
	FileSize uint64
}

func (e *TruncatedSegmentError) Error() string {
	return fmt.Sprintf("program header %d: segment at offset 0x%x with size 0x%x exceeds file size 0x%x",
		e.Index, e.Off, e.Filesz, e.FileSize)
}

func (e *TruncatedSegmentError) Unwrap() error {
	return ErrUnsupportedImage
}
