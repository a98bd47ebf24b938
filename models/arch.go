package models

import (
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"

	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
)

type Reg struct {
	Enum int
	Name string
}

type RegVal struct {
	Reg
	Val uint64
}

type regList []Reg

func (r regList) Len() int           { return len(r) }
func (r regList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

type regMap map[string]int

func (r regMap) Items() regList {
	ret := make(regList, 0, len(r))
	for n, e := range r {
		ret = append(ret, Reg{e, n})
	}
	return ret
}

// Arch describes one target architecture: register enums, the registers
// with fixed roles, and the enum values handed to the engine adapters.
// The adapter enums (UC/CS/KS) are plain ints copied from the respective
// bindings so this package stays cgo-free.
type Arch struct {
	Name string
	Bits int

	// fixed-role registers
	PC int
	SP int
	FP int
	// the accumulator, read as the "return value" after a run
	Ret int

	Regs        regMap
	DefaultRegs []string

	CS_ARCH int
	CS_MODE int
	UC_ARCH int
	UC_MODE int
	KS_ARCH int
	KS_MODE int

	// sorted for RegDump
	regList regList
}

func (a *Arch) RegEnums() []int {
	ret := make([]int, 0, len(a.Regs))
	for _, e := range a.Regs {
		ret = append(ret, e)
	}
	return ret
}

func (a *Arch) RegName(enum int) string {
	for n, e := range a.Regs {
		if e == enum {
			return n
		}
	}
	return ""
}

func (a *Arch) RegDump(c cpu.Cpu) ([]RegVal, error) {
	if a.regList == nil {
		rl := a.Regs.Items()
		sort.Sort(rl)
		a.regList = rl
	}
	ret := make([]RegVal, len(a.regList))
	for i, r := range a.regList {
		val, err := c.RegRead(r.Enum)
		if err != nil {
			return nil, err
		}
		ret[i] = RegVal{r, val}
	}
	return ret, nil
}
