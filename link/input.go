// Package link implements the core of a minimal static linker for
// x86-64 ELF relocatable objects: input classification, symbol
// resolution, layout, image writing, relocation, and output staging.
// Parsing itself lives in objview; this package only consumes the
// structured view objview produces (spec.md §6's "parser contract").
package link

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/smallld/smallld/objview"
)

// InputSection is a reference to one allocatable section of one input
// file.
type InputSection struct {
	FileIdx int
	ShdrIdx int
	Header  elf.SectionHeader
}

// RelocationSection is the set of relocation records that apply to one
// section of one input file.
type RelocationSection struct {
	AppliesToFile    int
	AppliesToSection int
	Records          []objview.Rela
}

// Input is the aggregated, classified view of every input object,
// ready for layout.
type Input struct {
	Code, RWData, ROData []InputSection
	Relocs               []RelocationSection
	Syms                 *SymbolIndex
	Buffers              [][]byte
}

// Aggregate opens every buffer as an ELF relocatable object, classifies
// its allocatable sections, indexes its symbols, and collects its
// relocation sections, in the order the buffers are given (spec.md
// §4.B). The buffers must outlive the returned Input and anything
// built from it: sections reference their original bytes by offset,
// not by copy.
func Aggregate(buffers [][]byte) (*Input, error) {
	in := &Input{Syms: newSymbolIndex()}

	for fileIdx, buf := range buffers {
		obj, err := objview.Open(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", fileIdx, err)
		}

		syms, err := obj.Symbols()
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", fileIdx, err)
		}
		if err := in.Syms.insert(fileIdx, syms); err != nil {
			return nil, fmt.Errorf("file %d: %w", fileIdx, err)
		}

		relas, err := obj.RelaSections()
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", fileIdx, err)
		}
		for _, rs := range relas {
			in.Relocs = append(in.Relocs, RelocationSection{
				AppliesToFile:    fileIdx,
				AppliesToSection: rs.Target,
				Records:          rs.Records,
			})
		}

		for shdrIdx, sec := range obj.Sections() {
			kind, err := classify(sec.SectionHeader)
			if err != nil {
				return nil, fmt.Errorf("file %d section %d (%s): %w", fileIdx, shdrIdx, sec.Name, err)
			}
			if kind == bucketNone {
				continue
			}
			is := InputSection{FileIdx: fileIdx, ShdrIdx: shdrIdx, Header: sec.SectionHeader}
			switch kind {
			case bucketCode:
				in.Code = append(in.Code, is)
			case bucketRWData:
				in.RWData = append(in.RWData, is)
			case bucketROData:
				in.ROData = append(in.ROData, is)
			}
		}

		in.Buffers = append(in.Buffers, buf)
	}

	return in, nil
}

type bucket int

const (
	bucketNone bucket = iota
	bucketCode
	bucketRWData
	bucketROData
)

// classify assigns an allocatable section to one of the three output
// buckets, per the flag table in spec.md §4.B. Sections that the
// classifier deliberately ignores (NULL, NOBITS, RELA, SYMTAB, STRTAB)
// report bucketNone. Anything else — an unrecognized section type, or
// an allocatable PROGBITS section with a flag combination the linker
// doesn't recognize — is fatal.
func classify(sh elf.SectionHeader) (bucket, error) {
	switch sh.Type {
	case elf.SHT_NULL, elf.SHT_NOBITS, elf.SHT_RELA, elf.SHT_SYMTAB, elf.SHT_STRTAB:
		return bucketNone, nil
	case elf.SHT_PROGBITS:
		if sh.Flags&elf.SHF_ALLOC == 0 {
			return bucketNone, nil
		}
		switch {
		case sh.Flags&(elf.SHF_ALLOC|elf.SHF_EXECINSTR) == elf.SHF_ALLOC|elf.SHF_EXECINSTR:
			return bucketCode, nil
		case sh.Flags&(elf.SHF_ALLOC|elf.SHF_WRITE) == elf.SHF_ALLOC|elf.SHF_WRITE:
			return bucketRWData, nil
		case sh.Flags&^(elf.SHF_MERGE|elf.SHF_STRINGS) == elf.SHF_ALLOC:
			return bucketROData, nil
		default:
			return bucketNone, fmt.Errorf("unknown allocatable section flags %s", sh.Flags)
		}
	default:
		return bucketNone, fmt.Errorf("unsupported section type %s", sh.Type)
	}
}
