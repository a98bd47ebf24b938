package x86sim

import (
	"encoding/hex"
	"testing"

	"github.com/danielrmenzel/online-assembly-debugger/arch/x86_64"
	"github.com/danielrmenzel/online-assembly-debugger/models"
	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
)

// add(15, 25) called from main, followed by a hlt
var progHex = "554889e5897dfc8975f88b55fc8b45f801d05dc3" + // add
	"554889e5be19000000bf0f000000e8d9ffffff5dc3" + // main
	"f4"

const base = 0x1000

func testCpu(t *testing.T) *X86Cpu {
	c, err := (&Builder{}).New()
	if err != nil {
		t.Fatal(err)
	}
	x := c.(*X86Cpu)
	if err := x.MemMap(base, 0x1000, cpu.PROT_ALL); err != nil {
		t.Fatal(err)
	}
	if err := x.MemMap(0x8000, 0x1000, cpu.PROT_READ|cpu.PROT_WRITE); err != nil {
		t.Fatal(err)
	}
	if err := x.RegWrite(x86_64.RSP, 0x9000-16); err != nil {
		t.Fatal(err)
	}
	return x
}

func TestX86Dis(t *testing.T) {
	code, err := hex.DecodeString(progHex)
	if err != nil {
		t.Fatal(err)
	}
	out, err := (&Dis{}).Dis(code, base)
	for _, ins := range out {
		t.Log(ins)
	}
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 17 {
		t.Fatalf("expected 17 instructions, got %d", len(out))
	}
	if out[0].Mnemonic() != "push" || out[0].OpStr() != "rbp" {
		t.Fatalf("bad first instruction: %s", out[0])
	}
	if out[1].OpStr() != "rbp, rsp" {
		t.Fatalf("bad frame move: %s", out[1])
	}
	if out[2].OpStr() != "dword ptr [rbp - 0x4], edi" {
		t.Fatalf("bad memory operand: %s", out[2])
	}
	last := out[len(out)-1]
	if last.Mnemonic() != "hlt" {
		t.Fatalf("expected trailing hlt, got %s", last)
	}
}

func TestX86DisStopsOnUnknown(t *testing.T) {
	out, err := (&Dis{}).Dis([]byte{0x90, 0x0f, 0x05, 0x90}, base)
	if err != nil {
		t.Fatal(err)
	}
	// syscall is outside the subset; the listing ends before it
	if len(out) != 1 || out[0].Mnemonic() != "nop" {
		t.Fatalf("unexpected listing: %v", out)
	}
}

func TestX86DisAddressing(t *testing.T) {
	code := []byte{0xe8, 0xfb, 0xff, 0xff, 0xff} // call back onto itself
	out, err := (&Dis{}).Dis(code, base)
	if err != nil || len(out) != 1 {
		t.Fatalf("decode failed: %v %v", out, err)
	}
	if out[0].OpStr() != "0x1000" {
		t.Fatalf("call target not absolute: %s", out[0].OpStr())
	}
}

func TestX86Run(t *testing.T) {
	x := testCpu(t)
	code, err := hex.DecodeString(progHex)
	if err != nil {
		t.Fatal(err)
	}
	if err := x.MemWrite(base, code); err != nil {
		t.Fatal(err)
	}
	// enter at main, with the hlt as the pushed return address
	hlt := uint64(base + len(code) - 1)
	sp, _ := x.RegRead(x86_64.RSP)
	sp -= 8
	x.RegWrite(x86_64.RSP, sp)
	if err := x.WriteUint(sp, 8, cpu.PROT_WRITE, hlt); err != nil {
		t.Fatal(err)
	}
	err = x.Start(base+20, 0)
	if es, ok := err.(models.ExitStatus); !ok || es != 0 {
		t.Fatalf("expected clean exit, got %v", err)
	}
	acc, err := x.RegRead(x86_64.RAX)
	if err != nil {
		t.Fatal(err)
	}
	if acc != 40 {
		t.Fatalf("add(15, 25) = %d", acc)
	}
	pc, _ := x.RegRead(x86_64.RIP)
	if pc != hlt+1 {
		t.Fatalf("pc %#x not past the hlt", pc)
	}
}

func TestX86HookStop(t *testing.T) {
	x := testCpu(t)
	code := []byte{0x90, 0x90, 0x90, 0xf4}
	if err := x.MemWrite(base, code); err != nil {
		t.Fatal(err)
	}
	count := 0
	_, err := x.HookAdd(cpu.HOOK_CODE, func(c cpu.Cpu, addr uint64, size uint32) {
		count++
		if count == 2 {
			c.Stop()
		}
	}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := x.Start(base, 0); err != nil {
		t.Fatal(err)
	}
	pc, _ := x.RegRead(x86_64.RIP)
	// stopped before executing the second instruction
	if pc != base+1 {
		t.Fatalf("stopped at %#x", pc)
	}
	if count != 2 {
		t.Fatalf("hook fired %d times", count)
	}
}

func TestX86Fault(t *testing.T) {
	x := testCpu(t)
	// read through an unmapped pointer in rbp
	code := []byte{0x8b, 0x45, 0x00} // mov eax, [rbp]
	if err := x.MemWrite(base, code); err != nil {
		t.Fatal(err)
	}
	x.RegWrite(x86_64.RBP, 0x40000000)
	if err := x.Start(base, 0); err == nil {
		t.Fatal("expected a memory fault")
	}
}

func TestX86StackOps(t *testing.T) {
	x := testCpu(t)
	code := []byte{
		0xb8, 0x2a, 0x00, 0x00, 0x00, // mov eax, 42
		0x50, // push rax
		0x5b, // pop rbx
		0xf4,
	}
	if err := x.MemWrite(base, code); err != nil {
		t.Fatal(err)
	}
	start, _ := x.RegRead(x86_64.RSP)
	err := x.Start(base, 0)
	if _, ok := err.(models.ExitStatus); !ok {
		t.Fatal(err)
	}
	if v, _ := x.RegRead(x86_64.RBX); v != 42 {
		t.Fatalf("rbx = %d", v)
	}
	if sp, _ := x.RegRead(x86_64.RSP); sp != start {
		t.Fatalf("stack unbalanced: %#x != %#x", sp, start)
	}
}
