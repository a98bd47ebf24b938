package models

import (
	"fmt"
	"io"
	"strings"

	"github.com/mgutz/ansi"

	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
)

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

// StatusDiff tracks register values between steps and renders only what
// changed, highlighting new values when color is enabled.
type StatusDiff struct {
	Arch  *Arch
	Color bool

	oldRegs map[int]uint64
}

type Change struct {
	Name     string
	Old, New uint64
}

func (c *Change) Changed() bool {
	return c.Old != c.New
}

// Changes reads the current register file and returns the delta since the
// previous call. The first call reports every nonzero register.
func (s *StatusDiff) Changes(c cpu.Cpu) ([]Change, error) {
	regs, err := s.Arch.RegDump(c)
	if err != nil {
		return nil, err
	}
	first := s.oldRegs == nil
	if first {
		s.oldRegs = make(map[int]uint64, len(regs))
	}
	var out []Change
	for _, r := range regs {
		old := s.oldRegs[r.Enum]
		if r.Val != old || (first && r.Val != 0) {
			out = append(out, Change{Name: r.Name, Old: old, New: r.Val})
		}
		s.oldRegs[r.Enum] = r.Val
	}
	return out, nil
}

func (s *StatusDiff) Print(w io.Writer, changes []Change) {
	if len(changes) == 0 {
		return
	}
	bsz := s.Arch.Bits / 4
	cols := make([]string, len(changes))
	for i, c := range changes {
		val := fmt.Sprintf("%0*x", bsz, c.New)
		if s.Color {
			val = chNew + val + ansi.Reset + chSame
		}
		cols[i] = fmt.Sprintf("%s=%s", c.Name, val)
	}
	fmt.Fprintf(w, "  %s\n", strings.Join(cols, " "))
}

func (s *StatusDiff) Reset() {
	s.oldRegs = nil
}
