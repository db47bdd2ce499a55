package link

import (
	"debug/elf"
	"testing"
)

func testInput() *Input {
	return &Input{
		Code: []InputSection{
			{FileIdx: 0, ShdrIdx: 1, Header: elf.SectionHeader{Size: 20, Addralign: 16}},
		},
		RWData: []InputSection{
			{FileIdx: 0, ShdrIdx: 2, Header: elf.SectionHeader{Size: 8, Addralign: 8}},
		},
		ROData: []InputSection{
			{FileIdx: 0, ShdrIdx: 3, Header: elf.SectionHeader{Size: 3, Addralign: 1}},
		},
		Syms:    newSymbolIndex(),
		Buffers: [][]byte{{}},
	}
}

func TestAllocateReservesHeaderPrefix(t *testing.T) {
	out, err := Allocate(testInput())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(out.Code) != 1 || out.Code[0].Address%pageSize != 0 {
		t.Fatalf("code segment does not start page-aligned: %+v", out.Code)
	}
	if out.Code[0].Address < elfHeaderSize+numSegments*programHeaderSize {
		t.Fatalf("code segment at %#x overlaps the header prefix", out.Code[0].Address)
	}
}

func TestAllocateSegmentsArePageAligned(t *testing.T) {
	out, err := Allocate(testInput())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if out.RWData[0].Address%pageSize != 0 {
		t.Fatalf("rw-data segment starts at %#x, not page-aligned", out.RWData[0].Address)
	}
	if out.ROData[0].Address%pageSize != 0 {
		t.Fatalf("ro-data segment starts at %#x, not page-aligned", out.ROData[0].Address)
	}
	if out.ROData[0].Address <= out.RWData[0].Address {
		t.Fatalf("ro-data segment (%#x) does not follow rw-data segment (%#x)", out.ROData[0].Address, out.RWData[0].Address)
	}
}

func TestAllocateRecordsSectionOffsets(t *testing.T) {
	out, err := Allocate(testInput())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	addr, ok := out.SectionOffsets[SectionKey{FileIdx: 0, ShdrIdx: 1}]
	if !ok || addr != out.Code[0].Address {
		t.Fatalf("SectionOffsets missing or inconsistent for the code section: %#x vs %#x", addr, out.Code[0].Address)
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct{ x, align, want uint64 }{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{4095, 4096, 4096},
	}
	for _, c := range cases {
		if got := roundUp(c.x, c.align); got != c.want {
			t.Errorf("roundUp(%d, %d) = %d, want %d", c.x, c.align, got, c.want)
		}
	}
}
