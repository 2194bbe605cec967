// Package image turns a firmware ELF object into the single contiguous
// memory image that is pushed to the target before a test session.
//
// # Loading
//
// Only ELF32 little-endian objects are accepted. Loadable program headers
// with a non-empty file image are extracted in header order and then merged
// into one LoadSegment spanning the lowest to the highest loaded address.
// A header whose file image lies outside the object is a
// *TruncatedSegmentError:
//
//	f, _ := image.Open("firmware.elf")
//	seg, err := f.Image()
//	vt, err := image.ResolveVectorTable(seg, 0x00000000)
//	// vt.StackPointer, vt.EntryPoint
//
// Gaps between segments are filled with 0xFF, the value of erased flash.
// Segments must not overlap; Merge rejects overlapping input with an
// *OverlapError instead of producing a corrupt image.
//
// # Symbols
//
// Symbols builds a name to address table from the object's symbol table.
// Addresses are kept exactly as stored in the object, so Thumb function
// symbols keep their low bit set, matching the function pointers written by
// the on-target runtime.
package image
