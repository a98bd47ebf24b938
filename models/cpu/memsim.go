package cpu

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_FETCH_UNMAPPED:
		reason = "unmapped fetch"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_FETCH_PROT:
		reason = "protected exec"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// MemSim is a sparse region-list memory. It backs the pure-Go CPU and
// mirrors the emulator's mappings for the image builder's overlap checks.
type MemSim struct {
	Mem Regions
}

// Checks whether the whole range is mapped. If prot > 0, also checks that
// every region covering the range carries the full protection mask.
func (m *MemSim) RangeValid(addr, size uint64, prot int) (mapGood, protGood bool) {
	i := m.Mem.bsearch(addr)
	if i == -1 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, mm := range m.Mem[i:] {
		if !mm.Contains(addr) {
			break
		}
		if prot > 0 && mm.Prot&prot != prot {
			protGood = false
		}
		addr = mm.Addr + mm.Size
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

func (m *MemSim) Map(addr, size uint64, prot int, desc string) (*Region, error) {
	if len(m.Mem.FindRange(addr, size)) > 0 {
		return nil, &MemError{Addr: addr, Size: int(size), Enum: MEM_WRITE_PROT}
	}
	r := &Region{Addr: addr, Size: size, Prot: prot, Data: make([]byte, size), Desc: desc}
	m.Mem = append(m.Mem, r)
	sort.Sort(m.Mem)
	return r, nil
}

// Unmap removes whole regions overlapping the range. Partial unmapping is
// not needed here: the loader only ever tears down full regions.
func (m *MemSim) Unmap(addr, size uint64) {
	tmp := make(Regions, 0, len(m.Mem))
	for _, mm := range m.Mem {
		if !mm.Overlaps(addr, size) {
			tmp = append(tmp, mm)
		}
	}
	m.Mem = tmp
}

func (m *MemSim) Read(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		enum := MEM_READ_UNMAPPED
		if prot&PROT_EXEC == PROT_EXEC {
			enum = MEM_FETCH_UNMAPPED
		}
		return &MemError{Addr: addr, Size: len(p), Enum: enum}
	} else if !gprot {
		enum := MEM_READ_PROT
		if prot&PROT_EXEC == PROT_EXEC {
			enum = MEM_FETCH_PROT
		}
		return &MemError{Addr: addr, Size: len(p), Enum: enum}
	}
	if i := m.Mem.bsearch(addr); i >= 0 {
		for _, mm := range m.Mem[i:] {
			if !mm.Contains(addr) {
				break
			}
			o := addr - mm.Addr
			n := copy(p, mm.Data[o:])
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}

func (m *MemSim) Write(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_PROT}
	}
	if i := m.Mem.bsearch(addr); i >= 0 {
		for _, mm := range m.Mem[i:] {
			if !mm.Contains(addr) {
				break
			}
			o := addr - mm.Addr
			n := copy(mm.Data[o:], p)
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}
