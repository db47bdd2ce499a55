package link

// Layout constants (spec.md §4.D, §6). The linker targets exactly one
// ELF64 little-endian image shape, so these are fixed rather than
// derived from an architecture description.
const (
	elfHeaderSize     = 64 // sizeof(Elf64_Ehdr)
	programHeaderSize = 56 // sizeof(Elf64_Phdr)
	numSegments       = 3  // code, rw-data, ro-data
	pageSize          = 4096
)

// SectionKey identifies one section of one input file.
type SectionKey struct {
	FileIdx int
	ShdrIdx int
}

// OutputSection is an InputSection that has been assigned a final file
// offset / virtual address (the two are always equal; see spec.md §4.D
// design notes).
type OutputSection struct {
	InputSection
	Address uint64
}

// Output is the laid-out image: every section's final address, ready
// for the image writer and relocator.
type Output struct {
	Code, RWData, ROData []OutputSection
	SectionOffsets       map[SectionKey]uint64
	Relocs               []RelocationSection
	Syms                 *SymbolIndex
	Buffers              [][]byte
	TotalSize            uint64
}

// Allocate assigns file offsets / virtual addresses to every section of
// in, in aggregator order, so that sections of the same kind become one
// contiguous, page-aligned segment (spec.md §4.D).
func Allocate(in *Input) (*Output, error) {
	out := &Output{
		SectionOffsets: make(map[SectionKey]uint64),
		Relocs:         in.Relocs,
		Syms:           in.Syms,
		Buffers:        in.Buffers,
	}

	offset := uint64(elfHeaderSize + numSegments*programHeaderSize)
	offset = roundUp(offset, pageSize)

	offset = layoutSegment(in.Code, &out.Code, out.SectionOffsets, offset)
	offset = roundUp(offset, pageSize)
	offset = layoutSegment(in.RWData, &out.RWData, out.SectionOffsets, offset)
	offset = roundUp(offset, pageSize)
	offset = layoutSegment(in.ROData, &out.ROData, out.SectionOffsets, offset)

	out.TotalSize = offset
	return out, nil
}

// layoutSegment lays out one bucket of sections starting at offset,
// section-aligning each one, and returns the offset just past the last
// one.
func layoutSegment(in []InputSection, dst *[]OutputSection, offsets map[SectionKey]uint64, offset uint64) uint64 {
	for _, is := range in {
		align := is.Header.Addralign
		if align == 0 {
			align = 1
		}
		offset = roundUp(offset, align)

		offsets[SectionKey{is.FileIdx, is.ShdrIdx}] = offset
		*dst = append(*dst, OutputSection{InputSection: is, Address: offset})

		offset += is.Header.Size
	}
	return offset
}

// roundUp rounds x up to a multiple of align, which must be a power of
// two.
func roundUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}
