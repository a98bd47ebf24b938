package x86sim

import (
	"github.com/danielrmenzel/online-assembly-debugger/arch/x86_64"
)

// ModRM register numbers in encoding order, mapped onto the arch enums.
var gpRegs = [8]int{
	x86_64.RAX, x86_64.RCX, x86_64.RDX, x86_64.RBX,
	x86_64.RSP, x86_64.RBP, x86_64.RSI, x86_64.RDI,
}

var regNames64 = [8]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"}
var regNames32 = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

func regName(num, size int) string {
	if size == 8 {
		return regNames64[num]
	}
	return regNames32[num]
}

// simEnums is every register the simulated cpu carries.
var simEnums = []int{
	x86_64.RAX, x86_64.RBX, x86_64.RCX, x86_64.RDX,
	x86_64.RSI, x86_64.RDI, x86_64.RBP, x86_64.RSP,
	x86_64.RIP, x86_64.EFLAGS,
	x86_64.R8, x86_64.R9, x86_64.R10, x86_64.R11,
	x86_64.R12, x86_64.R13, x86_64.R14, x86_64.R15,
}
