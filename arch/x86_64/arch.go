package x86_64

import (
	"github.com/danielrmenzel/online-assembly-debugger/models"
)

var Arch = &models.Arch{
	Name: "x86_64",
	Bits: 64,

	PC:  RIP,
	SP:  RSP,
	FP:  RBP,
	Ret: RAX,

	Regs: map[string]int{
		"rax": RAX,
		"rbx": RBX,
		"rcx": RCX,
		"rdx": RDX,
		"rsi": RSI,
		"rdi": RDI,
		"rbp": RBP,
		"rsp": RSP,
		"rip": RIP,
		"r8":  R8,
		"r9":  R9,
		"r10": R10,
		"r11": R11,
		"r12": R12,
		"r13": R13,
		"r14": R14,
		"r15": R15,

		"eflags": EFLAGS,
	},
	DefaultRegs: []string{
		"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	},

	// engine enum values: capstone/unicorn/keystone x86 in 64-bit mode
	CS_ARCH: 3,
	CS_MODE: 8,
	UC_ARCH: 4,
	UC_MODE: 8,
	KS_ARCH: 4,
	KS_MODE: 8,
}
