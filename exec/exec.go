// Package exec drives instruction-level execution of a loaded image: a
// small state machine around the emulator offering step, bounded run,
// breakpoints, snapshots and an execution trace.
package exec

import (
	"context"
	"encoding/binary"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/danielrmenzel/online-assembly-debugger/models"
	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
)

// the single-byte halt opcode; reaching it means clean completion
const haltOpcode = 0xf4

// how many stack words a snapshot samples from the top
const stackSample = 4

// longest instruction encoding worth fetching for a single decode
const maxInsLen = 16

type Status int

const (
	Idle Status = iota
	Paused
	Running
	Halted
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Paused:
		return "paused"
	case Running:
		return "running"
	case Halted:
		return "halted"
	}
	return "unknown"
}

type HaltReason int

const (
	NotHalted HaltReason = iota
	Breakpoint
	Completed
	LimitReached
	Fault
)

func (r HaltReason) String() string {
	switch r {
	case Breakpoint:
		return "breakpoint hit"
	case Completed:
		return "program completed"
	case LimitReached:
		return "instruction limit reached"
	case Fault:
		return "execution fault"
	}
	return "not halted"
}

// Debugger owns exactly one emulator's register and memory state for the
// image it drives. It never keeps a private copy of register values; only
// breakpoints, mode and the trace live here.
type Debugger struct {
	c     cpu.Cpu
	dis   models.Dis
	arch  *models.Arch
	order binary.ByteOrder

	entry     uint64
	initialSP uint64

	status    Status
	reason    HaltReason
	faultAddr uint64

	breakpoints map[uint64]bool
	trace       models.Trace
	steps       int
	limit       int

	hook     cpu.Hook
	insCount int
	stopReq  int32
}

func New(c cpu.Cpu, dis models.Dis, arch *models.Arch, order binary.ByteOrder, limit int) *Debugger {
	if limit <= 0 {
		limit = models.DefaultStepLimit
	}
	if order == nil {
		order = binary.LittleEndian
	}
	return &Debugger{
		c:           c,
		dis:         dis,
		arch:        arch,
		order:       order,
		breakpoints: make(map[uint64]bool),
		limit:       limit,
	}
}

// Init zeroes the register file, points the program counter at entry,
// clears breakpoints and trace, and installs the per-instruction hook.
// Idle -> Paused.
func (d *Debugger) Init(entry, sp uint64) error {
	for _, enum := range d.arch.RegEnums() {
		if err := d.c.RegWrite(enum, 0); err != nil {
			return errors.Wrap(err, "register clear failed")
		}
	}
	if err := d.c.RegWrite(d.arch.PC, entry); err != nil {
		return err
	}
	if err := d.c.RegWrite(d.arch.SP, sp); err != nil {
		return err
	}
	d.entry, d.initialSP = entry, sp
	d.breakpoints = make(map[uint64]bool)
	d.trace.Reset()
	d.steps = 0
	d.reason = NotHalted
	atomic.StoreInt32(&d.stopReq, 0)

	if d.hook == nil {
		hook, err := d.c.HookAdd(cpu.HOOK_CODE, d.onCode, 1, 0)
		if err != nil {
			return errors.Wrap(err, "code hook failed")
		}
		d.hook = hook
	}
	d.status = Paused
	return nil
}

// onCode bounds every engine start to exactly one instruction: the second
// site the engine reaches stops it before execution, leaving the program
// counter there. Engines stop on the until address only when straight-line
// code happens to reach it, so single-stepping a call or jump needs the
// hook. Halt decisions between instructions live in Run.
func (d *Debugger) onCode(_ cpu.Cpu, _ uint64, _ uint32) {
	d.insCount++
	if d.insCount > 1 {
		d.c.Stop()
	}
}

func (d *Debugger) Status() Status { return d.status }

func (d *Debugger) Reason() HaltReason { return d.reason }

func (d *Debugger) FaultAddr() uint64 { return d.faultAddr }

func (d *Debugger) Trace() *models.Trace { return &d.trace }

func (d *Debugger) Steps() int { return d.steps }

func (d *Debugger) PC() (uint64, error) {
	return d.c.RegRead(d.arch.PC)
}

// Acc reads the accumulator, the best-effort "final return value" even
// after a fault.
func (d *Debugger) Acc() (uint64, error) {
	return d.c.RegRead(d.arch.Ret)
}

func (d *Debugger) AddBreak(addr uint64) {
	d.breakpoints[addr] = true
}

func (d *Debugger) DelBreak(addr uint64) {
	delete(d.breakpoints, addr)
}

func (d *Debugger) Breaks() []uint64 {
	out := make([]uint64, 0, len(d.breakpoints))
	for a := range d.breakpoints {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Debugger) snapshot() *models.Snapshot {
	s := &models.Snapshot{}
	s.PC, _ = d.c.RegRead(d.arch.PC)
	s.SP, _ = d.c.RegRead(d.arch.SP)
	s.Regs, _ = d.arch.RegDump(d.c)
	word := d.arch.Bits / 8
	for i := 0; i < stackSample; i++ {
		buf, err := d.c.MemRead(s.SP+uint64(i*word), uint64(word))
		if err != nil {
			break
		}
		val, err := cpu.GetUint(d.order, word, buf)
		if err != nil {
			break
		}
		s.Stack = append(s.Stack, val)
	}
	return s
}

// fetch reads at most maxInsLen bytes at pc, shrinking near the end of a
// mapped region.
func (d *Debugger) fetch(pc uint64) ([]byte, error) {
	for size := maxInsLen; size > 0; size /= 2 {
		if mem, err := d.c.MemRead(pc, uint64(size)); err == nil {
			return mem, nil
		}
	}
	return nil, errors.Errorf("unmapped fetch at 0x%x", pc)
}

func (d *Debugger) fault(addr uint64, err error) error {
	d.status = Halted
	d.reason = Fault
	d.faultAddr = addr
	return err
}

// resume unlatches a breakpoint halt, so stepping or running onward from
// a hit needs no explicit state change. Other halt reasons stay latched
// until Reset.
func (d *Debugger) resume() {
	if d.status == Halted && d.reason == Breakpoint {
		d.status = Paused
		d.reason = NotHalted
	}
}

// Step executes exactly one instruction. Valid while paused or stopped at
// a breakpoint.
func (d *Debugger) Step() error {
	d.resume()
	if d.status != Paused {
		return errors.Errorf("cannot step while %s", d.status)
	}
	return d.step()
}

func (d *Debugger) step() error {
	pc, err := d.c.RegRead(d.arch.PC)
	if err != nil {
		return err
	}
	mem, err := d.fetch(pc)
	if err != nil {
		return d.fault(pc, err)
	}
	asm, err := d.dis.Dis(mem, pc)
	if err != nil || len(asm) == 0 {
		return d.fault(pc, errors.Wrapf(err, "invalid instruction at 0x%x", pc))
	}
	ins := asm[0]
	if ins.Mnemonic() == "hlt" {
		d.status = Halted
		d.reason = Completed
		return nil
	}

	pre := d.snapshot()
	d.insCount = 0
	runErr := d.c.Start(pc, 0)
	post := d.snapshot()

	rec := &models.StepRecord{
		Addr:     pc,
		Mnemonic: ins.Mnemonic(),
		OpStr:    ins.OpStr(),
		Bytes:    ins.Bytes(),
		Pre:      pre,
		Post:     post,
	}
	// the trace shows effect, not input
	rec.Acc, _ = d.c.RegRead(d.arch.Ret)
	d.trace.Append(rec)
	d.steps++

	if runErr != nil {
		return d.fault(pc, errors.Wrapf(runErr, "step at 0x%x failed", pc))
	}
	return nil
}

// Run executes until a halt opcode, a breakpoint, the step ceiling, a
// fault, or cancellation. Cancellation is cooperative: it takes effect
// between instructions, so at most one extra instruction executes.
func (d *Debugger) Run(ctx context.Context) error {
	d.resume()
	if d.status != Paused {
		return errors.Errorf("cannot run while %s", d.status)
	}
	d.status = Running
	first := true
	for {
		if err := ctx.Err(); err != nil || atomic.LoadInt32(&d.stopReq) != 0 {
			atomic.StoreInt32(&d.stopReq, 0)
			d.status = Paused
			return nil
		}
		if d.steps >= d.limit {
			d.status = Halted
			d.reason = LimitReached
			return nil
		}
		pc, err := d.c.RegRead(d.arch.PC)
		if err != nil {
			return err
		}
		if b, err := d.c.MemRead(pc, 1); err == nil && b[0] == haltOpcode {
			d.status = Halted
			d.reason = Completed
			return nil
		}
		if !first && d.breakpoints[pc] {
			d.status = Halted
			d.reason = Breakpoint
			return nil
		}
		if err := d.step(); err != nil {
			return err
		}
		if d.status == Halted {
			return nil
		}
		first = false
	}
}

// Stop requests a cooperative pause of a running loop; it takes effect at
// the next step boundary.
func (d *Debugger) Stop() {
	atomic.StoreInt32(&d.stopReq, 1)
	d.c.Stop()
}

// Reset is valid from any state: back to the original entry with a clean
// trace and counter. Breakpoints survive a reset.
func (d *Debugger) Reset() error {
	if d.status == Idle {
		return errors.New("not initialized")
	}
	for _, enum := range d.arch.RegEnums() {
		if err := d.c.RegWrite(enum, 0); err != nil {
			return err
		}
	}
	if err := d.c.RegWrite(d.arch.PC, d.entry); err != nil {
		return err
	}
	if err := d.c.RegWrite(d.arch.SP, d.initialSP); err != nil {
		return err
	}
	d.trace.Reset()
	d.steps = 0
	d.reason = NotHalted
	d.faultAddr = 0
	atomic.StoreInt32(&d.stopReq, 0)
	d.status = Paused
	return nil
}
