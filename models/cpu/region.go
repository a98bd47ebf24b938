package cpu

import (
	"fmt"
	"strings"
)

// Region is one mapped span of the synthetic address space. Desc names the
// section (or role, like "stack") backing it, for diagnostics only.
type Region struct {
	Addr uint64
	Size uint64
	Prot int
	Data []byte

	Desc string
}

func (r *Region) String() string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := "rwx"
	prot := ""
	for i := range prots {
		if r.Prot&prots[i] != 0 {
			prot += string(chars[i])
		} else {
			prot += "-"
		}
	}
	desc := fmt.Sprintf("0x%x-0x%x %s", r.Addr, r.Addr+r.Size, prot)
	if r.Desc != "" {
		desc += fmt.Sprintf(" [%s]", r.Desc)
	}
	return desc
}

func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.Addr+r.Size
}

func (r *Region) Overlaps(addr, size uint64) bool {
	start, end := r.Addr, r.Addr+r.Size
	if end > addr+size {
		end = addr + size
	}
	if start < addr {
		start = addr
	}
	return end > start
}

type Regions []*Region

func (r Regions) Len() int           { return len(r) }
func (r Regions) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r Regions) Less(i, j int) bool { return r[i].Addr < r[j].Addr }

func (r Regions) String() string {
	s := make([]string, len(r))
	for i, v := range r {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// binary search for the region containing addr, or -1
func (r Regions) bsearch(addr uint64) int {
	l, h := 0, len(r)-1
	for l <= h {
		mid := (l + h) / 2
		e := r[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid
			}
			l = mid + 1
		} else {
			h = mid - 1
		}
	}
	return -1
}

func (r Regions) Find(addr uint64) *Region {
	if i := r.bsearch(addr); i >= 0 {
		return r[i]
	}
	return nil
}

func (r Regions) FindRange(addr, size uint64) []*Region {
	var out []*Region
	for _, v := range r {
		if v.Overlaps(addr, size) {
			out = append(out, v)
		}
	}
	return out
}
