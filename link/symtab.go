package link

import (
	"debug/elf"
	"fmt"
)

// fileSymtab is one input file's symbol table, indexed by ELF symbol
// index (spec.md's SymbolIndex.by_file).
type fileSymtab struct {
	syms []elf.Symbol
}

// GlobalRef locates a defined global symbol: the file that defines it
// and its index within that file's symbol table.
type GlobalRef struct {
	FileIdx int
	SymIdx  int
}

// SymbolIndex is a process-wide table of input symbols, built across
// all inputs in a single pass (spec.md §4.C). Names in globals are
// unique: a second definition of the same global name is a fatal
// aggregation error (spec.md §9, "silent last-writer-wins is
// forbidden").
type SymbolIndex struct {
	byFile  map[int]fileSymtab
	globals map[string]GlobalRef
}

func newSymbolIndex() *SymbolIndex {
	return &SymbolIndex{
		byFile:  make(map[int]fileSymtab),
		globals: make(map[string]GlobalRef),
	}
}

// insert installs fileIdx's symbol table and records every defined
// global symbol it contains. debug/elf's Symbols() omits the reserved
// null symbol at ELF index 0 (the zero value stands in for it here, at
// index 0), so that relocation records' raw r_sym indices — which do
// count that null entry — line up with Get's symIdx without any
// adjustment at the call site (cf. obj/elfSym.go's elfSymTab.lookup,
// which instead subtracts 1 from elfSym on every lookup; prepending the
// null entry once here is equivalent and keeps Get a plain index).
func (si *SymbolIndex) insert(fileIdx int, syms []elf.Symbol) error {
	withNull := make([]elf.Symbol, len(syms)+1)
	copy(withNull[1:], syms)
	si.byFile[fileIdx] = fileSymtab{syms: withNull}

	for symIdx, sym := range withNull {
		if elf.ST_BIND(sym.Info) != elf.STB_GLOBAL || sym.Section == elf.SHN_UNDEF {
			continue
		}
		if existing, dup := si.globals[sym.Name]; dup {
			return fmt.Errorf("duplicate definition of global symbol %q (file %d sym %d and file %d sym %d)",
				sym.Name, existing.FileIdx, existing.SymIdx, fileIdx, symIdx)
		}
		si.globals[sym.Name] = GlobalRef{FileIdx: fileIdx, SymIdx: symIdx}
	}
	return nil
}

// Get returns the symbol at sym-index symIdx of file fileIdx.
func (si *SymbolIndex) Get(fileIdx, symIdx int) (elf.Symbol, error) {
	ft, ok := si.byFile[fileIdx]
	if !ok || symIdx < 0 || symIdx >= len(ft.syms) {
		return elf.Symbol{}, fmt.Errorf("symbol index %d out of range for file %d", symIdx, fileIdx)
	}
	return ft.syms[symIdx], nil
}

// ResolveGlobal looks up a defined global symbol by name.
func (si *SymbolIndex) ResolveGlobal(name string) (GlobalRef, error) {
	ref, ok := si.globals[name]
	if !ok {
		return GlobalRef{}, fmt.Errorf("undefined reference to %q", name)
	}
	return ref, nil
}
