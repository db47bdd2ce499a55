package link

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"math"
)

// ApplyRelocations patches image in place for every relocation record
// collected during aggregation (spec.md §4.F). image must be the buffer
// WriteImage returned for out: patching happens after the sections are
// laid down, since both PC32 and PLT32 need the final addresses of
// every section the program defines.
//
// Only R_X86_64_PC32 and R_X86_64_PLT32 are supported; any other
// relocation type is a fatal error rather than a silent
// no-op (spec.md §9).
func ApplyRelocations(out *Output, image []byte) error {
	for _, rs := range out.Relocs {
		secAddr, ok := out.SectionOffsets[SectionKey{FileIdx: rs.AppliesToFile, ShdrIdx: rs.AppliesToSection}]
		if !ok {
			// The section this relocation applies to was never allocated
			// (e.g. a non-allocatable section referencing another one);
			// nothing in the image needs patching.
			continue
		}

		for _, r := range rs.Records {
			p := secAddr + r.Offset

			var target uint64
			switch r.Type {
			case elf.R_X86_64_PC32:
				sym, err := out.Syms.Get(rs.AppliesToFile, int(r.Sym))
				if err != nil {
					return fmt.Errorf("R_X86_64_PC32 at file %d section %d offset %#x: %w",
						rs.AppliesToFile, rs.AppliesToSection, r.Offset, err)
				}
				s, err := symbolAddress(out, rs.AppliesToFile, sym)
				if err != nil {
					return fmt.Errorf("R_X86_64_PC32 at file %d section %d offset %#x: %w",
						rs.AppliesToFile, rs.AppliesToSection, r.Offset, err)
				}
				target = s

			case elf.R_X86_64_PLT32:
				sym, err := out.Syms.Get(rs.AppliesToFile, int(r.Sym))
				if err != nil {
					return fmt.Errorf("R_X86_64_PLT32 at file %d section %d offset %#x: %w",
						rs.AppliesToFile, rs.AppliesToSection, r.Offset, err)
				}
				ref, err := out.Syms.ResolveGlobal(sym.Name)
				if err != nil {
					return fmt.Errorf("R_X86_64_PLT32 at file %d section %d offset %#x: %w",
						rs.AppliesToFile, rs.AppliesToSection, r.Offset, err)
				}
				defSym, err := out.Syms.Get(ref.FileIdx, ref.SymIdx)
				if err != nil {
					return fmt.Errorf("R_X86_64_PLT32 at file %d section %d offset %#x: %w",
						rs.AppliesToFile, rs.AppliesToSection, r.Offset, err)
				}
				l, err := symbolAddress(out, ref.FileIdx, defSym)
				if err != nil {
					return fmt.Errorf("R_X86_64_PLT32 at file %d section %d offset %#x: %w",
						rs.AppliesToFile, rs.AppliesToSection, r.Offset, err)
				}
				target = l

			default:
				return fmt.Errorf("unsupported relocation type %s at file %d section %d offset %#x",
					r.Type, rs.AppliesToFile, rs.AppliesToSection, r.Offset)
			}

			disp := int64(target) + r.Addend - int64(p)
			if disp < math.MinInt32 || disp > math.MaxInt32 {
				return fmt.Errorf("relocation at file %d section %d offset %#x overflows 32 bits: %d",
					rs.AppliesToFile, rs.AppliesToSection, r.Offset, disp)
			}

			if p+4 > uint64(len(image)) {
				return fmt.Errorf("relocation at file %d section %d offset %#x lands outside the output image",
					rs.AppliesToFile, rs.AppliesToSection, r.Offset)
			}
			binary.LittleEndian.PutUint32(image[p:p+4], uint32(int32(disp)))
		}
	}
	return nil
}

// symbolAddress computes a defined symbol's absolute address in the
// output image: the address of the section it's defined in, plus its
// value (its offset within that section).
func symbolAddress(out *Output, fileIdx int, sym elf.Symbol) (uint64, error) {
	if sym.Section == elf.SHN_UNDEF {
		return 0, fmt.Errorf("symbol %q is undefined", sym.Name)
	}
	addr, ok := out.SectionOffsets[SectionKey{FileIdx: fileIdx, ShdrIdx: int(sym.Section)}]
	if !ok {
		return 0, fmt.Errorf("symbol %q is defined in an unmapped section", sym.Name)
	}
	return addr + sym.Value, nil
}
