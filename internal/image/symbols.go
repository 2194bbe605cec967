package image

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"
)

// SymbolTable maps symbol names to target addresses.
type SymbolTable map[string]uint32

// Symbols reads the object's symbol table. An object without a symbol table
// yields an empty table rather than an error; callers decide which symbols
// are mandatory.
func Symbols(f *File) (SymbolTable, error) {
	syms, err := f.elf.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return SymbolTable{}, nil
		}
		return nil, fmt.Errorf("failed to read symbol table: %w", err)
	}

	table := make(SymbolTable, len(syms))
	for _, sym := range syms {
		if sym.Name == "" {
			continue
		}
		table[sym.Name] = uint32(sym.Value)
	}
	return table, nil
}

// Lookup returns the address of name.
func (t SymbolTable) Lookup(name string) (uint32, bool) {
	addr, ok := t[name]
	return addr, ok
}

// Names returns all symbol names in sorted order.
func (t SymbolTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
