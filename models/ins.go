package models

type Ins interface {
	Addr() uint64
	Bytes() []byte
	Mnemonic() string
	OpStr() string
}

// Dis abstracts a disassembler engine. Implementations must be
// deterministic for identical input bytes.
type Dis interface {
	Dis(mem []byte, addr uint64) ([]Ins, error)
}

// Asm abstracts an assembler engine (used for interactive patching).
type Asm interface {
	Asm(asm string, addr uint64) ([]byte, error)
}
