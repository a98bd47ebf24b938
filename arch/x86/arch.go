package x86

import (
	"github.com/danielrmenzel/online-assembly-debugger/models"
)

// register enums; values match unicorn's x86 register enum
const (
	EAX    = 19
	EBP    = 20
	EBX    = 21
	ECX    = 22
	EDI    = 23
	EDX    = 24
	EFLAGS = 25
	EIP    = 26
	ESI    = 29
	ESP    = 30
)

var Arch = &models.Arch{
	Name: "x86",
	Bits: 32,

	PC:  EIP,
	SP:  ESP,
	FP:  EBP,
	Ret: EAX,

	Regs: map[string]int{
		"eax": EAX,
		"ebx": EBX,
		"ecx": ECX,
		"edx": EDX,
		"esi": ESI,
		"edi": EDI,
		"ebp": EBP,
		"esp": ESP,
		"eip": EIP,

		"eflags": EFLAGS,
	},
	DefaultRegs: []string{
		"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp",
	},

	// engine enum values: capstone/unicorn/keystone x86 in 32-bit mode
	CS_ARCH: 3,
	CS_MODE: 4,
	UC_ARCH: 4,
	UC_MODE: 4,
	KS_ARCH: 4,
	KS_MODE: 4,
}
