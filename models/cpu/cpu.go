package cpu

// Cpu is the minimum surface this debugger needs from a machine emulator.
// The real backend is unicorn; tests and cgo-free builds use cpu/x86sim.
type Cpu interface {
	// memory mapping
	MemMap(addr, size uint64, prot int) error
	MemUnmap(addr, size uint64) error

	// memory IO
	MemRead(addr, size uint64) ([]byte, error)
	MemReadInto(p []byte, addr uint64) error
	MemWrite(addr uint64, p []byte) error

	// register IO
	RegRead(reg int) (uint64, error)
	RegWrite(reg int, val uint64) error

	// execution
	Start(begin, until uint64) error
	Stop() error

	// hooks
	HookAdd(htype int, cb interface{}, begin, end uint64) (Hook, error)
	HookDel(hook Hook) error

	// cleanup
	Close() error
}
