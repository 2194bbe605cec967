// Package elftest builds small ELF32 little-endian objects for unit tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const (
	ehdrSize = 52
	phdrSize = 32
	shdrSize = 40
	symSize  = 16
)

// Segment is one program header with its file content.
type Segment struct {
	Type    elf.ProgType // defaults to PT_LOAD
	Paddr   uint32
	Vaddr   uint32 // defaults to Paddr
	Data    []byte
	MemSize uint32 // defaults to len(Data)
}

// Symbol is one global function symbol.
type Symbol struct {
	Name  string
	Value uint32
}

// Spec describes the object to build.
type Spec struct {
	Machine  elf.Machine // defaults to EM_ARM
	Entry    uint32
	Segments []Segment
	Symbols  []Symbol
}

// Build serializes spec into an ELF32 little-endian executable.
func Build(spec Spec) []byte {
	le := binary.LittleEndian
	machine := spec.Machine
	if machine == 0 {
		machine = elf.EM_ARM
	}

	phoff := uint32(ehdrSize)
	off := phoff + uint32(len(spec.Segments))*phdrSize

	// Segment contents follow the program headers.
	segOffsets := make([]uint32, len(spec.Segments))
	var body bytes.Buffer
	for i, seg := range spec.Segments {
		segOffsets[i] = off + uint32(body.Len())
		body.Write(seg.Data)
	}
	pad4(&body, off)

	// .symtab
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symtabOff := off + uint32(body.Len())
	body.Write(make([]byte, symSize)) // null symbol
	for _, sym := range spec.Symbols {
		nameOff := uint32(strtab.Len())
		strtab.WriteString(sym.Name)
		strtab.WriteByte(0)

		var entry [symSize]byte
		le.PutUint32(entry[0:], nameOff)
		le.PutUint32(entry[4:], sym.Value)
		le.PutUint32(entry[8:], 4)
		entry[12] = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)
		le.PutUint16(entry[14:], uint16(elf.SHN_ABS))
		body.Write(entry[:])
	}
	symtabSize := uint32(len(spec.Symbols)+1) * symSize

	// .strtab
	strtabOff := off + uint32(body.Len())
	body.Write(strtab.Bytes())

	// .shstrtab
	shstrtab := []byte("\x00.symtab\x00.strtab\x00.shstrtab\x00")
	shstrtabOff := off + uint32(body.Len())
	body.Write(shstrtab)
	pad4(&body, off)

	shoff := off + uint32(body.Len())

	var out bytes.Buffer

	// ELF header
	ident := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	out.Write(ident[:])
	w16 := func(v uint16) { _ = binary.Write(&out, le, v) }
	w32 := func(v uint32) { _ = binary.Write(&out, le, v) }
	w16(uint16(elf.ET_EXEC))
	w16(uint16(machine))
	w32(uint32(elf.EV_CURRENT))
	w32(spec.Entry)
	w32(phoff)
	w32(shoff)
	w32(0) // flags
	w16(ehdrSize)
	w16(phdrSize)
	w16(uint16(len(spec.Segments)))
	w16(shdrSize)
	w16(4) // null, .symtab, .strtab, .shstrtab
	w16(3)

	// Program headers
	for i, seg := range spec.Segments {
		typ := seg.Type
		if typ == 0 {
			typ = elf.PT_LOAD
		}
		vaddr := seg.Vaddr
		if vaddr == 0 {
			vaddr = seg.Paddr
		}
		memsz := seg.MemSize
		if memsz < uint32(len(seg.Data)) {
			memsz = uint32(len(seg.Data))
		}
		w32(uint32(typ))
		w32(segOffsets[i])
		w32(vaddr)
		w32(seg.Paddr)
		w32(uint32(len(seg.Data)))
		w32(memsz)
		w32(uint32(elf.PF_R | elf.PF_X))
		w32(4)
	}

	out.Write(body.Bytes())

	// Section headers
	section := func(name, typ, offset, size, link, info, align, entsize uint32) {
		w32(name)
		w32(typ)
		w32(0)
		w32(0)
		w32(offset)
		w32(size)
		w32(link)
		w32(info)
		w32(align)
		w32(entsize)
	}
	section(0, 0, 0, 0, 0, 0, 0, 0)
	section(1, uint32(elf.SHT_SYMTAB), symtabOff, symtabSize, 2, 1, 4, symSize)
	section(9, uint32(elf.SHT_STRTAB), strtabOff, uint32(strtab.Len()), 0, 0, 1, 0)
	section(17, uint32(elf.SHT_STRTAB), shstrtabOff, uint32(len(shstrtab)), 0, 0, 1, 0)

	return out.Bytes()
}

func pad4(b *bytes.Buffer, base uint32) {
	for (base+uint32(b.Len()))%4 != 0 {
		b.WriteByte(0)
	}
}

// Firmware describes a minimal firmware linked against the test runtime.
type Firmware struct {
	FlashBase    uint32
	StackPointer uint32
	EntryPoint   uint32
	FunToRun     uint32
	TestData     uint32
	// Tests maps a suite/test pair to the function address.
	Tests []TestFunc
	// Extra symbols added verbatim.
	Extra []Symbol
	// OmitRuntime drops the two mandatory runtime symbols.
	OmitRuntime bool
}

// TestFunc is one test entry point.
type TestFunc struct {
	Suite string
	Test  string
	Addr  uint32
}

// SymbolName returns the mangled name the TEST macro generates.
func (t TestFunc) SymbolName() string {
	return fmt.Sprintf("target_test_test_%s__target_test__%s", t.Suite, t.Test)
}

// DefaultFirmware returns a Firmware with a vector table at 0x00000000 and
// the runtime record in RAM at 0x20000000.
func DefaultFirmware() Firmware {
	return Firmware{
		FlashBase:    0x00000000,
		StackPointer: 0x20008000,
		EntryPoint:   0x00000101,
		FunToRun:     0x20000000,
		TestData:     0x20000004,
	}
}

// Build serializes the firmware. The single load segment starts with the
// vector table and is padded to 0x400 bytes.
func (fw Firmware) Build() []byte {
	flash := make([]byte, 0x400)
	binary.LittleEndian.PutUint32(flash[0:], fw.StackPointer)
	binary.LittleEndian.PutUint32(flash[4:], fw.EntryPoint)

	var syms []Symbol
	if !fw.OmitRuntime {
		syms = append(syms,
			Symbol{Name: "target_test_fun_to_run", Value: fw.FunToRun},
			Symbol{Name: "target_test_data", Value: fw.TestData},
		)
	}
	for _, t := range fw.Tests {
		syms = append(syms, Symbol{Name: t.SymbolName(), Value: t.Addr})
	}
	syms = append(syms, fw.Extra...)

	return Build(Spec{
		Entry:    fw.EntryPoint,
		Segments: []Segment{{Paddr: fw.FlashBase, Data: flash}},
		Symbols:  syms,
	})
}
