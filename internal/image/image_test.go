package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/muurk/target-tester/internal/image/elftest"
)

func TestParse_RejectsNonELF(t *testing.T) {
	if _, err := Parse([]byte("definitely not an elf file")); err == nil {
		t.Fatal("expected error for non-ELF input")
	}
}

func TestParse_AcceptsELF32LE(t *testing.T) {
	f, err := Parse(elftest.DefaultFirmware().Build())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.ELF().Class != elf.ELFCLASS32 {
		t.Errorf("expected ELFCLASS32, got %s", f.ELF().Class)
	}
}

func TestExtractSegments(t *testing.T) {
	data := elftest.Build(elftest.Spec{
		Segments: []elftest.Segment{
			{Paddr: 0x2000, Vaddr: 0x8000, Data: []byte{1, 2, 3, 4}},
			{Type: elf.PT_NOTE, Paddr: 0x3000, Data: []byte{9, 9}},
			{Paddr: 0x1000, Data: []byte{5, 6}},
			{Paddr: 0x4000, Data: nil, MemSize: 0x100}, // .bss, nothing to load
		},
	})
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	got, err := ExtractSegments(f)
	if err != nil {
		t.Fatalf("ExtractSegments failed: %v", err)
	}
	want := []LoadSegment{
		{Addr: 0x2000, Data: []byte{1, 2, 3, 4}},
		{Addr: 0x1000, Data: []byte{5, 6}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractSegments mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractSegments_TruncatedSegment(t *testing.T) {
	data := elftest.Build(elftest.Spec{
		Segments: []elftest.Segment{
			{Paddr: 0x1000, Data: []byte{1, 2, 3, 4}},
			{Paddr: 0x1004, Data: []byte{5, 6, 7, 8}},
		},
	})
	// p_filesz of the second program header
	binary.LittleEndian.PutUint32(data[52+32+16:], uint32(2*len(data)))

	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if _, err := ExtractSegments(f); err == nil {
		t.Fatal("expected error for segment past end of file")
	}

	seg, err := f.Image()
	var te *TruncatedSegmentError
	if !errors.As(err, &te) {
		t.Fatalf("expected TruncatedSegmentError, got %v (image %v)", err, seg)
	}
	if te.Index != 1 || te.Filesz != uint64(2*len(data)) || te.FileSize != uint64(len(data)) {
		t.Errorf("unexpected error fields %+v", te)
	}
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("expected error to wrap ErrUnsupportedImage, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		segments []LoadSegment
		want     LoadSegment
	}{
		{
			name:     "single segment",
			segments: []LoadSegment{{Addr: 0x100, Data: []byte{1, 2, 3}}},
			want:     LoadSegment{Addr: 0x100, Data: []byte{1, 2, 3}},
		},
		{
			name: "adjacent segments",
			segments: []LoadSegment{
				{Addr: 0x100, Data: []byte{1, 2}},
				{Addr: 0x102, Data: []byte{3, 4}},
			},
			want: LoadSegment{Addr: 0x100, Data: []byte{1, 2, 3, 4}},
		},
		{
			name: "gap filled with erased bytes",
			segments: []LoadSegment{
				{Addr: 0x100, Data: []byte{1}},
				{Addr: 0x104, Data: []byte{2}},
			},
			want: LoadSegment{Addr: 0x100, Data: []byte{1, 0xFF, 0xFF, 0xFF, 2}},
		},
		{
			name: "unsorted input",
			segments: []LoadSegment{
				{Addr: 0x200, Data: []byte{0xAA}},
				{Addr: 0x100, Data: []byte{0xBB}},
			},
			want: LoadSegment{Addr: 0x100, Data: append(append([]byte{0xBB}, bytes.Repeat([]byte{0xFF}, 0xFF)...), 0xAA)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.segments)
			if err != nil {
				t.Fatalf("Merge failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge_LengthIsSumOfSegmentsAndGaps(t *testing.T) {
	segments := []LoadSegment{
		{Addr: 0x08000000, Data: bytes.Repeat([]byte{0x11}, 0x40)},
		{Addr: 0x08000100, Data: bytes.Repeat([]byte{0x22}, 0x10)},
		{Addr: 0x08000110, Data: bytes.Repeat([]byte{0x33}, 0x08)},
		{Addr: 0x08001000, Data: bytes.Repeat([]byte{0x44}, 0x04)},
	}

	got, err := Merge(segments)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	dataLen, gapLen := 0, 0
	for i, s := range segments {
		dataLen += len(s.Data)
		if i > 0 {
			gapLen += int(s.Addr - segments[i-1].EndAddr())
		}
	}
	if len(got.Data) != dataLen+gapLen {
		t.Fatalf("expected length %d, got %d", dataLen+gapLen, len(got.Data))
	}

	// Every gap byte must be erased flash.
	for i := 1; i < len(segments); i++ {
		from := segments[i-1].EndAddr() - got.Addr
		to := segments[i].Addr - got.Addr
		for off := from; off < to; off++ {
			if got.Data[off] != ErasedByte {
				t.Fatalf("gap byte at offset 0x%x is 0x%02x", off, got.Data[off])
			}
		}
	}
	if got.EndAddr() != 0x08001004 {
		t.Errorf("expected end 0x08001004, got 0x%08x", got.EndAddr())
	}
}

func TestMerge_Empty(t *testing.T) {
	_, err := Merge(nil)
	if !errors.Is(err, ErrNoLoadableSegment) {
		t.Fatalf("expected ErrNoLoadableSegment, got %v", err)
	}
}

func TestMerge_Overlap(t *testing.T) {
	_, err := Merge([]LoadSegment{
		{Addr: 0x100, Data: []byte{1, 2, 3, 4}},
		{Addr: 0x102, Data: []byte{5, 6}},
	})
	var overlap *OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	if overlap.Addr != 0x102 || overlap.PrevEnd != 0x104 {
		t.Errorf("unexpected overlap details: %+v", overlap)
	}
}

func TestResolveVectorTable(t *testing.T) {
	seg := LoadSegment{
		Addr: 0x1000,
		Data: []byte{
			0x00, 0x80, 0x00, 0x20, // SP 0x20008000
			0x01, 0x11, 0x00, 0x00, // PC 0x00001101
			0xAA, 0xBB, 0xCC, 0xDD,
		},
	}

	tests := []struct {
		name    string
		addr    uint32
		want    VectorTable
		wantErr bool
	}{
		{name: "at start", addr: 0x1000, want: VectorTable{StackPointer: 0x20008000, EntryPoint: 0x00001101}},
		{name: "last fitting offset", addr: 0x1004, want: VectorTable{StackPointer: 0x00001101, EntryPoint: 0xDDCCBBAA}},
		{name: "before start", addr: 0x0FFC, wantErr: true},
		{name: "runs past end", addr: 0x1008, wantErr: true},
		{name: "far past end", addr: 0xFFFFFFFC, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveVectorTable(seg, tt.addr)
			if tt.wantErr {
				var oor *OutOfRangeError
				if !errors.As(err, &oor) {
					t.Fatalf("expected OutOfRangeError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFileImage(t *testing.T) {
	fw := elftest.DefaultFirmware()
	f, err := Parse(fw.Build())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	seg, err := f.Image()
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}
	vt, err := ResolveVectorTable(seg, fw.FlashBase)
	if err != nil {
		t.Fatalf("ResolveVectorTable failed: %v", err)
	}
	if vt.StackPointer != fw.StackPointer || vt.EntryPoint != fw.EntryPoint {
		t.Errorf("unexpected vector table %+v", vt)
	}
}

func TestSymbols(t *testing.T) {
	fw := elftest.DefaultFirmware()
	fw.Tests = []elftest.TestFunc{{Suite: "math", Test: "add", Addr: 0x201}}
	f, err := Parse(fw.Build())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	syms, err := Symbols(f)
	if err != nil {
		t.Fatalf("Symbols failed: %v", err)
	}

	want := SymbolTable{
		"target_test_fun_to_run":                fw.FunToRun,
		"target_test_data":                      fw.TestData,
		"target_test_test_math__target_test__add": 0x201,
	}
	if diff := cmp.Diff(want, syms); diff != "" {
		t.Errorf("Symbols mismatch (-want +got):\n%s", diff)
	}

	if _, ok := syms.Lookup("missing"); ok {
		t.Error("expected lookup of unknown symbol to fail")
	}
	if names := syms.Names(); len(names) != 3 || names[0] != "target_test_data" {
		t.Errorf("unexpected sorted names: %v", names)
	}
}
