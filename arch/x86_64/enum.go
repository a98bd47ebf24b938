package x86_64

// register enums; values match unicorn's x86 register enum so the unicorn
// adapter can pass them through unchanged
const (
	EFLAGS = 25
	RAX    = 35
	RBP    = 36
	RBX    = 37
	RCX    = 38
	RDI    = 39
	RDX    = 40
	RIP    = 41
	RSI    = 43
	RSP    = 44
	R8     = 226
	R9     = 227
	R10    = 228
	R11    = 229
	R12    = 230
	R13    = 231
	R14    = 232
	R15    = 233
)
