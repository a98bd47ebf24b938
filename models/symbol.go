package models

import (
	"fmt"
	"sort"
)

type Symbol struct {
	Name       string
	Start, End uint64
	Dynamic    bool
}

func (s Symbol) Contains(addr uint64) bool {
	return s.Start <= addr && (s.End > addr || s.End == 0)
}

// FuncMap is an address-ordered set of function boundaries.
// End is exclusive: the start of the next function, or the end of the
// section for the last one.
type FuncMap struct {
	funcs  []Symbol
	byName map[string]uint64
}

func NewFuncMap(funcs []Symbol) *FuncMap {
	sorted := make([]Symbol, len(funcs))
	copy(sorted, funcs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	byName := make(map[string]uint64, len(sorted))
	for _, f := range sorted {
		byName[f.Name] = f.Start
	}
	return &FuncMap{funcs: sorted, byName: byName}
}

func (m *FuncMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.funcs)
}

func (m *FuncMap) Funcs() []Symbol {
	if m == nil {
		return nil
	}
	return m.funcs
}

func (m *FuncMap) Lookup(name string) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	addr, ok := m.byName[name]
	return addr, ok
}

// At returns the function containing addr, if any.
func (m *FuncMap) At(addr uint64) (Symbol, bool) {
	if m == nil {
		return Symbol{}, false
	}
	i := sort.Search(len(m.funcs), func(i int) bool { return m.funcs[i].Start > addr })
	if i == 0 {
		return Symbol{}, false
	}
	f := m.funcs[i-1]
	if f.Contains(addr) {
		return f, true
	}
	return Symbol{}, false
}

// Symbolicate renders addr as name+0xoff when it falls inside a known
// function, or "" when it does not.
func (m *FuncMap) Symbolicate(addr uint64) string {
	f, ok := m.At(addr)
	if !ok {
		return ""
	}
	if addr == f.Start {
		return f.Name
	}
	return fmt.Sprintf("%s+0x%x", f.Name, addr-f.Start)
}
