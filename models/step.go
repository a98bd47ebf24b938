package models

import (
	"fmt"
	"strings"
)

// Snapshot is the register and top-of-stack state captured around a step.
// The emulator owns the live values; a Snapshot is just a copy for display.
type Snapshot struct {
	PC    uint64
	SP    uint64
	Regs  []RegVal
	Stack []uint64
}

func (s *Snapshot) Reg(name string) (uint64, bool) {
	for _, r := range s.Regs {
		if r.Name == name {
			return r.Val, true
		}
	}
	return 0, false
}

// StepRecord is created fresh on every single step and retained only in
// the trace log.
type StepRecord struct {
	Addr     uint64
	Mnemonic string
	OpStr    string
	Bytes    []byte

	Pre  *Snapshot
	Post *Snapshot

	// the accumulator after the instruction executed, so the trace
	// shows effect rather than input
	Acc uint64
}

func (r *StepRecord) String() string {
	return fmt.Sprintf("0x%x: %-8s %-24s acc=0x%x", r.Addr, r.Mnemonic, r.OpStr, r.Acc)
}

type Trace struct {
	Records []*StepRecord
}

func (t *Trace) Append(r *StepRecord) {
	t.Records = append(t.Records, r)
}

func (t *Trace) Len() int {
	return len(t.Records)
}

func (t *Trace) Reset() {
	t.Records = nil
}

func (t *Trace) String() string {
	lines := make([]string, len(t.Records))
	for i, r := range t.Records {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}
