package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// ErasedByte is written into the gaps between merged segments.
const ErasedByte = 0xFF

// vectorTableSize covers the initial stack pointer and the reset handler.
const vectorTableSize = 8

// File is a parsed firmware object together with its raw bytes.
type File struct {
	elf  *elf.File
	data []byte
}

// Open reads and parses the object at path.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read binary: %w", err)
	}
	return Parse(data)
}

// Parse parses an in-memory ELF object.
func Parse(data []byte) (*File, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not read elf file: %w", err)
	}
	if ef.Class != elf.ELFCLASS32 || ef.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: %s %s, need ELFCLASS32 ELFDATA2LSB", ErrUnsupportedImage, ef.Class, ef.Data)
	}
	return &File{elf: ef, data: data}, nil
}

// ELF returns the underlying debug/elf view of the object.
func (f *File) ELF() *elf.File {
	return f.elf
}

// Image extracts and merges all loadable segments of the object.
func (f *File) Image() (LoadSegment, error) {
	segments, err := ExtractSegments(f)
	if err != nil {
		return LoadSegment{}, err
	}
	return Merge(segments)
}

// LoadSegment is one contiguous span of target memory.
type LoadSegment struct {
	Addr uint32
	Data []byte
}

// EndAddr returns the exclusive end address of the segment.
func (s LoadSegment) EndAddr() uint32 {
	return s.Addr + uint32(len(s.Data))
}

// String implements fmt.Stringer
func (s LoadSegment) String() string {
	return fmt.Sprintf("LoadSegment(0x%x, 0x%x)", s.Addr, len(s.Data))
}

// ExtractSegments returns the file-backed PT_LOAD segments of f in header
// order, addressed by their physical (load) address. A segment whose file
// image runs past the end of the object yields a *TruncatedSegmentError.
func ExtractSegments(f *File) ([]LoadSegment, error) {
	segments := make([]LoadSegment, 0, len(f.elf.Progs))
	for i, prog := range f.elf.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		start := prog.Off
		end := prog.Off + prog.Filesz
		// debug/elf does not validate offsets.
		if end > uint64(len(f.data)) || end < start {
			return nil, &TruncatedSegmentError{
				Index:    i,
				Off:      prog.Off,
				Filesz:   prog.Filesz,
				FileSize: uint64(len(f.data)),
			}
		}
		data := make([]byte, prog.Filesz)
		copy(data, f.data[start:end])
		segments = append(segments, LoadSegment{
			Addr: uint32(prog.Paddr),
			Data: data,
		})
	}
	return segments, nil
}

// Merge collapses segments into a single LoadSegment starting at the lowest
// address. Gaps are padded with ErasedByte. The input must not overlap.
func Merge(segments []LoadSegment) (LoadSegment, error) {
	if len(segments) == 0 {
		return LoadSegment{}, ErrNoLoadableSegment
	}

	sorted := make([]LoadSegment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Addr < sorted[j].Addr
	})

	first := sorted[0]
	merged := make([]byte, 0, len(first.Data))
	merged = append(merged, first.Data...)
	current := uint64(first.Addr) + uint64(len(first.Data))

	for _, seg := range sorted[1:] {
		start := uint64(seg.Addr)
		if start < current {
			return LoadSegment{}, &OverlapError{Addr: seg.Addr, PrevEnd: uint32(current)}
		}
		if start > current {
			merged = append(merged, bytes.Repeat([]byte{ErasedByte}, int(start-current))...)
		}
		merged = append(merged, seg.Data...)
		current = start + uint64(len(seg.Data))
	}

	return LoadSegment{Addr: first.Addr, Data: merged}, nil
}

// VectorTable holds the first two words of a Cortex-M vector table.
type VectorTable struct {
	StackPointer uint32
	EntryPoint   uint32
}

// ResolveVectorTable reads the initial stack pointer and reset handler from
// the vector table located at addr inside seg.
func ResolveVectorTable(seg LoadSegment, addr uint32) (VectorTable, error) {
	if addr < seg.Addr || uint64(addr)+vectorTableSize > uint64(seg.Addr)+uint64(len(seg.Data)) {
		return VectorTable{}, &OutOfRangeError{Addr: addr, Start: seg.Addr, End: seg.EndAddr()}
	}
	off := addr - seg.Addr
	return VectorTable{
		StackPointer: binary.LittleEndian.Uint32(seg.Data[off : off+4]),
		EntryPoint:   binary.LittleEndian.Uint32(seg.Data[off+4 : off+8]),
	}, nil
}
