// Package x86sim is a pure-Go interpreter for the instruction subset a
// non-optimizing compiler emits for small leaf-calling programs. It backs
// the same cpu interface as the hardware-accurate engine, so everything
// above it runs unchanged without cgo.
package x86sim

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/danielrmenzel/online-assembly-debugger/arch/x86_64"
	"github.com/danielrmenzel/online-assembly-debugger/models"
	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
)

// widest encoding the decoder will consume
const maxInsLen = 15

type Builder struct{}

func (b *Builder) New() (cpu.Cpu, error) {
	c := &X86Cpu{
		Regs: cpu.NewRegs(64, simEnums),
		Mem:  cpu.NewMem(64, binary.LittleEndian),
	}
	c.Hooks = cpu.NewHooks(c, c.Mem)
	return c, nil
}

type X86Cpu struct {
	*cpu.Hooks
	*cpu.Regs
	*cpu.Mem

	exitRequest bool
	err         error
}

func (x *X86Cpu) get(a arg) uint64 {
	switch v := a.(type) {
	case *imm:
		return uint64(v.val)
	case *reg:
		val, _ := x.RegRead(gpRegs[v.num])
		if v.size == 4 {
			val &= 0xffffffff
		}
		return val
	case *mem:
		addr := x.memAddr(v)
		var val uint64
		val, x.err = x.ReadUint(addr, v.size, cpu.PROT_READ)
		return val
	default:
		panic(fmt.Sprintf("unsupported get: %T", a))
	}
}

func (x *X86Cpu) set(a arg, val uint64) {
	switch v := a.(type) {
	case *reg:
		// 32-bit writes clear the upper half
		if v.size == 4 {
			val &= 0xffffffff
		}
		x.RegWrite(gpRegs[v.num], val)
	case *mem:
		addr := x.memAddr(v)
		x.err = x.WriteUint(addr, v.size, cpu.PROT_WRITE, val)
	default:
		panic(fmt.Sprintf("unsupported set: %T", a))
	}
}

func (x *X86Cpu) memAddr(m *mem) uint64 {
	base, _ := x.RegRead(gpRegs[m.base])
	return base + uint64(int64(m.disp))
}

func (x *X86Cpu) push(val uint64) {
	sp, _ := x.RegRead(x86_64.RSP)
	sp -= 8
	x.RegWrite(x86_64.RSP, sp)
	x.err = x.WriteUint(sp, 8, cpu.PROT_WRITE, val)
}

func (x *X86Cpu) pop() uint64 {
	sp, _ := x.RegRead(x86_64.RSP)
	var val uint64
	val, x.err = x.ReadUint(sp, 8, cpu.PROT_READ)
	x.RegWrite(x86_64.RSP, sp+8)
	return val
}

func (x *X86Cpu) Start(begin, until uint64) error {
	x.exitRequest = false
	x.err = nil
	pc := begin
	x.RegWrite(x86_64.RIP, pc)

	for pc != until && x.err == nil && !x.exitRequest {
		var buf []byte
		var err error
		// shrink the fetch near the end of a mapping
		for size := maxInsLen; size > 0; size /= 2 {
			if buf, err = x.ReadProt(pc, uint64(size), cpu.PROT_EXEC); err == nil {
				break
			}
		}
		if err != nil {
			return err
		}
		i := decode(buf, pc)
		if i == nil {
			return errors.Errorf("invalid instruction at %#x", pc)
		}

		x.OnCode(pc, uint32(len(i.bytes)))
		// a hook may have stopped the emulator
		if x.exitRequest {
			break
		}

		var a, b arg
		switch len(i.args) {
		case 2:
			a, b = i.args[0], i.args[1]
		case 1:
			a = i.args[0]
		}

		next := pc + uint64(len(i.bytes))
		switch i.name {
		case "nop":
		case "hlt":
			x.RegWrite(x86_64.RIP, next)
			return models.ExitStatus(0)
		case "mov":
			x.set(a, x.get(b))
		case "add":
			x.set(a, x.get(a)+x.get(b))
		case "sub":
			x.set(a, x.get(a)-x.get(b))
		case "imul":
			lhs := int64(int32(x.get(a)))
			rhs := int64(int32(x.get(b)))
			x.set(a, uint64(lhs*rhs))
		case "push":
			x.push(x.get(a))
		case "pop":
			x.set(a, x.pop())
		case "call":
			x.push(next)
			next = x.get(a)
		case "ret":
			next = x.pop()
		case "jmp":
			next = x.get(a)
		case "leave":
			bp, _ := x.RegRead(x86_64.RBP)
			x.RegWrite(x86_64.RSP, bp)
			x.set(&reg{5, 8}, x.pop())
		default:
			return errors.Errorf("invalid op: %s", i.name)
		}

		pc = next
		x.RegWrite(x86_64.RIP, pc)
	}
	return x.err
}

func (x *X86Cpu) Stop() error {
	x.exitRequest = true
	return nil
}

func (x *X86Cpu) Close() error {
	return nil
}
