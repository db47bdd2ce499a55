package link

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/smallld/smallld/internal/elftest"
)

// crossObjectProgram links two objects: a caller that defines _start,
// references a string via PC32, and calls an external function via
// PLT32; and a callee that defines that function.
func crossObjectProgram() [][]byte {
	caller := elftest.NewBuilder().
		AddSection(elftest.Section{
			Name: ".text", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addralign: 16,
			// lea-style placeholder bytes; only offsets 1 and 6 matter to
			// the relocator, the rest is filler.
			Data: []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		}).
		AddSection(elftest.Section{
			Name: ".rodata", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC, Addralign: 1,
			Data: []byte("hi\x00"),
		}).
		AddSymbol(elftest.Symbol{Name: ".rodata", Bind: elf.STB_LOCAL, Type: elf.STT_SECTION, Section: ".rodata"}).
		AddSymbol(elftest.Symbol{Name: "_start", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Section: ".text", Value: 0, Size: 10}).
		AddSymbol(elftest.Symbol{Name: "callee", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC}).
		AddRelocs(".text",
			elftest.Reloc{Offset: 1, Type: elf.R_X86_64_PC32, Symbol: ".rodata", Addend: 0},
			elftest.Reloc{Offset: 6, Type: elf.R_X86_64_PLT32, Symbol: "callee", Addend: -4},
		).
		Bytes()

	callee := elftest.NewBuilder().
		AddSection(elftest.Section{
			Name: ".text", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addralign: 16,
			Data: []byte{0xc3},
		}).
		AddSymbol(elftest.Symbol{Name: "callee", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Section: ".text", Value: 0, Size: 1}).
		Bytes()

	return [][]byte{caller, callee}
}

func TestApplyRelocationsPatchesPC32AndPLT32(t *testing.T) {
	out := buildAndAllocate(t, crossObjectProgram())
	image, err := WriteImage(out)
	if err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	if err := ApplyRelocations(out, image); err != nil {
		t.Fatalf("ApplyRelocations: %v", err)
	}

	textAddr := out.SectionOffsets[SectionKey{FileIdx: 0, ShdrIdx: 1}]
	rodataAddr := out.SectionOffsets[SectionKey{FileIdx: 0, ShdrIdx: 2}]

	pc32 := int32(binary.LittleEndian.Uint32(image[textAddr+1 : textAddr+5]))
	wantPC32 := int32(int64(rodataAddr) + 0 - int64(textAddr+1))
	if pc32 != wantPC32 {
		t.Errorf("PC32 displacement = %d, want %d", pc32, wantPC32)
	}

	calleeRef, err := out.Syms.ResolveGlobal("callee")
	if err != nil {
		t.Fatalf("ResolveGlobal(callee): %v", err)
	}
	calleeSym, err := out.Syms.Get(calleeRef.FileIdx, calleeRef.SymIdx)
	if err != nil {
		t.Fatalf("Get(callee): %v", err)
	}
	calleeAddr := out.SectionOffsets[SectionKey{FileIdx: calleeRef.FileIdx, ShdrIdx: int(calleeSym.Section)}] + calleeSym.Value

	plt32 := int32(binary.LittleEndian.Uint32(image[textAddr+6 : textAddr+10]))
	wantPLT32 := int32(int64(calleeAddr) - 4 - int64(textAddr+6))
	if plt32 != wantPLT32 {
		t.Errorf("PLT32 displacement = %d, want %d", plt32, wantPLT32)
	}
}

func TestApplyRelocationsRejectsUnsupportedType(t *testing.T) {
	raw := elftest.NewBuilder().
		AddSection(elftest.Section{
			Name: ".text", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addralign: 1,
			Data: []byte{0x00, 0x00, 0x00, 0x00},
		}).
		AddSymbol(elftest.Symbol{Name: "_start", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Section: ".text", Value: 0, Size: 4}).
		AddRelocs(".text", elftest.Reloc{Offset: 0, Type: elf.R_X86_64_64, Symbol: "_start", Addend: 0}).
		Bytes()

	out := buildAndAllocate(t, [][]byte{raw})
	image, err := WriteImage(out)
	if err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	if err := ApplyRelocations(out, image); err == nil {
		t.Fatalf("ApplyRelocations succeeded with an R_X86_64_64 relocation, want an error")
	}
}

func TestApplyRelocationsRejectsOverflow(t *testing.T) {
	raw := elftest.NewBuilder().
		AddSection(elftest.Section{
			Name: ".text", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addralign: 1,
			Data: []byte{0x00, 0x00, 0x00, 0x00},
		}).
		AddSymbol(elftest.Symbol{Name: "_start", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Section: ".text", Value: 0, Size: 4}).
		AddRelocs(".text", elftest.Reloc{Offset: 0, Type: elf.R_X86_64_PC32, Symbol: "_start", Addend: 1 << 40}).
		Bytes()

	out := buildAndAllocate(t, [][]byte{raw})
	image, err := WriteImage(out)
	if err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	if err := ApplyRelocations(out, image); err == nil {
		t.Fatalf("ApplyRelocations succeeded despite a displacement overflowing 32 bits, want an error")
	}
}
