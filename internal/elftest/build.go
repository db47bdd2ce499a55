// Package elftest builds minimal ELF64 little-endian ET_REL object files
// in-process, for use as test fixtures across objview and link. It only
// knows enough of the format to exercise this repo's input contract: a
// handful of PROGBITS sections, a symtab/strtab pair, and optional RELA
// sections. It is not a general-purpose ELF writer.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Section describes one input section to add to a Builder.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addralign uint64
	Data      []byte
}

// Symbol describes one input symbol to add to a Builder. Section is the
// name of the section it's defined in, or "" for SHN_UNDEF.
type Symbol struct {
	Name    string
	Bind    elf.SymBind
	Type    elf.SymType
	Section string
	Value   uint64
	Size    uint64
}

// Reloc describes one RELA entry, by symbol name rather than index, to
// keep fixture authoring readable.
type Reloc struct {
	Offset uint64
	Type   elf.R_X86_64
	Symbol string
	Addend int64
}

// Builder accumulates sections, symbols, and relocations and renders them
// into a complete ET_REL byte image via Bytes.
type Builder struct {
	sections []Section
	symbols  []Symbol
	relocs   map[string][]Reloc // section name -> relocations targeting it
}

func NewBuilder() *Builder {
	return &Builder{relocs: make(map[string][]Reloc)}
}

func (b *Builder) AddSection(s Section) *Builder {
	b.sections = append(b.sections, s)
	return b
}

func (b *Builder) AddSymbol(s Symbol) *Builder {
	b.symbols = append(b.symbols, s)
	return b
}

// AddRelocs attaches relocations to the named target section. Target must
// already have been added with AddSection.
func (b *Builder) AddRelocs(target string, relocs ...Reloc) *Builder {
	b.relocs[target] = append(b.relocs[target], relocs...)
	return b
}

type strtab struct {
	data []byte
	idx  map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{data: []byte{0}, idx: map[string]uint32{"": 0}}
}

func (s *strtab) add(name string) uint32 {
	if i, ok := s.idx[name]; ok {
		return i
	}
	i := uint32(len(s.data))
	s.data = append(s.data, []byte(name)...)
	s.data = append(s.data, 0)
	s.idx[name] = i
	return i
}

// Bytes renders the accumulated sections, symbols, and relocations into a
// full ELF64 LE ET_REL x86-64 object, including a section header table
// and shstrtab/strtab/symtab sections, so debug/elf can parse it.
func (b *Builder) Bytes() []byte {
	shstrtab := newStrtab()
	strtabT := newStrtab()

	// Section header index layout: 0=null, then user sections in order,
	// then .symtab, .strtab, .shstrtab.
	shdrIdx := map[string]int{}
	for i, s := range b.sections {
		shdrIdx[s.Name] = i + 1
	}
	symtabIdx := len(b.sections) + 1
	strtabIdx := len(b.sections) + 2
	shstrtabIdx := len(b.sections) + 3

	// Symbol table: null symbol first, rest in given order.
	symIdx := map[string]uint32{"": 0}
	symBuf := new(bytes.Buffer)
	binary.Write(symBuf, binary.LittleEndian, elf.Sym64{})
	for i, sym := range b.symbols {
		symIdx[sym.Name] = uint32(i + 1)
		shndx := uint16(elf.SHN_UNDEF)
		if sym.Section != "" {
			shndx = uint16(shdrIdx[sym.Section])
		}
		raw := elf.Sym64{
			Name:  strtabT.add(sym.Name),
			Info:  byte(sym.Bind)<<4 | byte(sym.Type)&0xf,
			Other: 0,
			Shndx: shndx,
			Value: sym.Value,
			Size:  sym.Size,
		}
		binary.Write(symBuf, binary.LittleEndian, raw)
	}

	// Relocation sections: one SHT_RELA per target that has relocations,
	// appended after the user sections (and thus also needing shstrtab
	// entries and their own header-table slots).
	type relaSection struct {
		name   string
		target int
		data   []byte
	}
	var relaSecs []relaSection
	for _, s := range b.sections {
		rs, ok := b.relocs[s.Name]
		if !ok {
			continue
		}
		buf := new(bytes.Buffer)
		for _, r := range rs {
			raw := elf.Rela64{
				Off:    r.Offset,
				Info:   elf.R_INFO(symIdx[r.Symbol], uint32(r.Type)),
				Addend: r.Addend,
			}
			binary.Write(buf, binary.LittleEndian, raw)
		}
		relaSecs = append(relaSecs, relaSection{name: ".rela" + s.Name, target: shdrIdx[s.Name], data: buf.Bytes()})
	}

	totalShdrs := 1 + len(b.sections) + 3 + len(relaSecs)

	// Assign names in shstrtab for every section, including the
	// bookkeeping ones.
	for _, s := range b.sections {
		shstrtab.add(s.Name)
	}
	shstrtab.add(".symtab")
	shstrtab.add(".strtab")
	shstrtab.add(".shstrtab")
	for _, rs := range relaSecs {
		shstrtab.add(rs.name)
	}

	// Lay out file contents: header, then each section's raw bytes in
	// order (user sections at their own alignment, symtab and RELA data
	// 8-byte aligned), then the 8-byte-aligned section header table.
	out := new(bytes.Buffer)
	out.Write(make([]byte, 64)) // placeholder for Ehdr, patched below

	type placed struct {
		offset, size uint64
	}
	offsets := make([]placed, totalShdrs)

	align := func(n int) {
		for out.Len()%n != 0 {
			out.WriteByte(0)
		}
	}

	for i, s := range b.sections {
		a := int(s.Addralign)
		if a == 0 {
			a = 1
		}
		align(a)
		off := uint64(out.Len())
		out.Write(s.Data)
		offsets[i+1] = placed{off, uint64(len(s.Data))}
	}

	align(8)
	symOff := uint64(out.Len())
	out.Write(symBuf.Bytes())
	offsets[symtabIdx] = placed{symOff, uint64(symBuf.Len())}

	align(1)
	strOff := uint64(out.Len())
	out.Write(strtabT.data)
	offsets[strtabIdx] = placed{strOff, uint64(len(strtabT.data))}

	align(1)
	shstrOff := uint64(out.Len())
	out.Write(shstrtab.data)
	offsets[shstrtabIdx] = placed{shstrOff, uint64(len(shstrtab.data))}

	relaBase := len(b.sections) + 4
	for i, rs := range relaSecs {
		align(8)
		off := uint64(out.Len())
		out.Write(rs.data)
		offsets[relaBase+i] = placed{off, uint64(len(rs.data))}
	}

	align(8)
	shoff := uint64(out.Len())

	writeShdr := func(nameIdx uint32, typ elf.SectionType, flags elf.SectionFlag, addralign, entsize uint64, link, info uint32, off, size uint64) {
		raw := elf.Section64{
			Name:      nameIdx,
			Type:      uint32(typ),
			Flags:     uint64(flags),
			Addr:      0,
			Off:       off,
			Size:      size,
			Link:      link,
			Info:      info,
			Addralign: addralign,
			Entsize:   entsize,
		}
		binary.Write(out, binary.LittleEndian, raw)
	}

	// Null section header.
	writeShdr(0, elf.SHT_NULL, 0, 0, 0, 0, 0, 0, 0)

	for i, s := range b.sections {
		align := s.Addralign
		if align == 0 {
			align = 1
		}
		writeShdr(shstrtab.add(s.Name), s.Type, s.Flags, align, 0, 0, 0, offsets[i+1].offset, offsets[i+1].size)
	}

	writeShdr(shstrtab.add(".symtab"), elf.SHT_SYMTAB, 0, 8, 24, uint32(strtabIdx), uint32(len(b.symbols)+1), offsets[symtabIdx].offset, offsets[symtabIdx].size)
	writeShdr(shstrtab.add(".strtab"), elf.SHT_STRTAB, 0, 1, 0, 0, 0, offsets[strtabIdx].offset, offsets[strtabIdx].size)
	writeShdr(shstrtab.add(".shstrtab"), elf.SHT_STRTAB, 0, 1, 0, 0, 0, offsets[shstrtabIdx].offset, offsets[shstrtabIdx].size)

	for i, rs := range relaSecs {
		idx := relaBase + i
		writeShdr(shstrtab.add(rs.name), elf.SHT_RELA, 0, 8, 24, uint32(symtabIdx), uint32(rs.target), offsets[idx].offset, offsets[idx].size)
	}

	buf := out.Bytes()

	var hdr elf.Header64
	hdr.Ident[0], hdr.Ident[1], hdr.Ident[2], hdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Type = uint16(elf.ET_REL)
	hdr.Machine = uint16(elf.EM_X86_64)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Shoff = shoff
	hdr.Ehsize = 64
	hdr.Shentsize = 64
	hdr.Shnum = uint16(totalShdrs)
	hdr.Shstrndx = uint16(shstrtabIdx)

	hdrBuf := new(bytes.Buffer)
	binary.Write(hdrBuf, binary.LittleEndian, hdr)
	copy(buf[0:64], hdrBuf.Bytes())

	return buf
}
