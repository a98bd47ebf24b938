// Package unicorn adapts the unicorn emulation engine to the debugger's
// cpu interface. Instruction semantics live entirely inside the engine.
package unicorn

import (
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
)

type Builder struct {
	Arch, Mode int
}

func (b *Builder) New() (cpu.Cpu, error) {
	u, err := uc.NewUnicorn(b.Arch, b.Mode)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	return &UnicornCpu{u}, nil
}

type UnicornCpu struct {
	uc.Unicorn
}

func (u *UnicornCpu) MemMap(addr, size uint64, prot int) error {
	return u.Unicorn.MemMapProt(addr, size, prot)
}

// wraps hook callbacks to conform to the cpu interface
func (u *UnicornCpu) HookAdd(htype int, cb interface{}, start, end uint64) (cpu.Hook, error) {
	var wrap interface{}
	switch htype {
	case cpu.HOOK_CODE:
		cbc := cb.(func(cpu.Cpu, uint64, uint32))
		wrap = func(_ uc.Unicorn, addr uint64, size uint32) { cbc(u, addr, size) }

	case cpu.HOOK_MEM_ERR:
		cbc := cb.(func(cpu.Cpu, int, uint64, int, int64) bool)
		wrap = func(_ uc.Unicorn, access int, addr uint64, size int, val int64) bool {
			return cbc(u, access, addr, size, val)
		}

	default:
		return 0, errors.New("unknown hook type")
	}
	return u.Unicorn.HookAdd(htype, wrap, start, end)
}

func (u *UnicornCpu) HookDel(hh cpu.Hook) error {
	return u.Unicorn.HookDel(hh.(uc.Hook))
}
