package link

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// ehdr64 and phdr64 mirror Elf64_Ehdr/Elf64_Phdr field-for-field so they
// can be serialized directly with encoding/binary, the same approach
// arc-language-core-codegen's format/elf writer takes for its (ET_REL)
// output.
type ehdr64 struct {
	Ident     [elf.EI_NIDENT]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type phdr64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// segmentInfo is the bounds of one output segment, derived from its
// first and last section.
type segmentInfo struct {
	offset, size uint64
}

func segmentOf(secs []OutputSection) segmentInfo {
	if len(secs) == 0 {
		return segmentInfo{}
	}
	first, last := secs[0], secs[len(secs)-1]
	return segmentInfo{offset: first.Address, size: (last.Address + last.Header.Size) - first.Address}
}

// WriteImage resolves the entry point and writes the ELF header, the
// three PT_LOAD program headers, and every section's payload into a
// fresh, zero-initialized buffer sized exactly to out.TotalSize
// (spec.md §4.E). Relocations are not applied here: that's
// ApplyRelocations' job, against the buffer this returns.
func WriteImage(out *Output) ([]byte, error) {
	entry, err := resolveEntry(out)
	if err != nil {
		return nil, err
	}

	image := make([]byte, out.TotalSize)
	buf := bytes.NewBuffer(image[:0])

	var hdr ehdr64
	hdr.Ident[0], hdr.Ident[1], hdr.Ident[2], hdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Type = uint16(elf.ET_EXEC)
	hdr.Machine = uint16(elf.EM_X86_64)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Entry = entry
	hdr.Phoff = elfHeaderSize
	hdr.Shoff = 0
	hdr.Ehsize = elfHeaderSize
	hdr.Phentsize = programHeaderSize
	hdr.Phnum = numSegments
	hdr.Shentsize = 0
	hdr.Shnum = 0
	hdr.Shstrndx = 0

	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("writing ELF header: %w", err)
	}

	segments := []struct {
		secs  []OutputSection
		flags uint32
	}{
		{out.Code, uint32(elf.PF_R | elf.PF_X)},
		{out.RWData, uint32(elf.PF_R | elf.PF_W)},
		{out.ROData, uint32(elf.PF_R)},
	}
	for _, seg := range segments {
		info := segmentOf(seg.secs)
		ph := phdr64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  seg.flags,
			Offset: info.offset,
			Vaddr:  info.offset,
			Paddr:  info.offset,
			Filesz: info.size,
			Memsz:  info.size,
			Align:  pageSize,
		}
		if err := binary.Write(buf, binary.LittleEndian, ph); err != nil {
			return nil, fmt.Errorf("writing program header: %w", err)
		}
	}

	for _, secs := range [][]OutputSection{out.Code, out.RWData, out.ROData} {
		for _, s := range secs {
			if s.Header.Size == 0 {
				continue
			}
			src := out.Buffers[s.FileIdx]
			payload := src[s.Header.Offset : s.Header.Offset+s.Header.Size]
			copy(image[s.Address:s.Address+s.Header.Size], payload)
		}
	}

	return image, nil
}

// resolveEntry finds _start among the defined globals and computes its
// absolute address in the output image.
func resolveEntry(out *Output) (uint64, error) {
	ref, err := out.Syms.ResolveGlobal("_start")
	if err != nil {
		return 0, fmt.Errorf("resolving entry point: %w", err)
	}
	sym, err := out.Syms.Get(ref.FileIdx, ref.SymIdx)
	if err != nil {
		return 0, fmt.Errorf("resolving entry point: %w", err)
	}
	addr, ok := out.SectionOffsets[SectionKey{FileIdx: ref.FileIdx, ShdrIdx: int(sym.Section)}]
	if !ok {
		return 0, fmt.Errorf("_start (file %d) is defined in an unmapped section", ref.FileIdx)
	}
	return addr + sym.Value, nil
}
