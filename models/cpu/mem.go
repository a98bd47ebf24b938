package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Mem wraps MemSim into the Cpu-facing memory methods.
type Mem struct {
	bits uint
	// addresses past mask are rejected; mask = ^uint64(0) >> (64 - bits)
	mask uint64
	// set when the owning cpu passes *Mem to NewHooks
	hooks *Hooks
	sim   *MemSim

	order binary.ByteOrder
}

func NewMem(bits uint, order binary.ByteOrder) *Mem {
	return &Mem{
		bits:  bits,
		mask:  ^uint64(0) >> (64 - bits),
		sim:   &MemSim{},
		order: order,
	}
}

func (m *Mem) Regions() Regions {
	return m.sim.Mem
}

func (m *Mem) MemMap(addr, size uint64, prot int) error {
	if (addr+size)&m.mask != addr+size {
		return errors.New("region outside memory range")
	}
	_, err := m.sim.Map(addr, size, prot, "")
	return err
}

func (m *Mem) MemUnmap(addr, size uint64) error {
	if mapped, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	m.sim.Unmap(addr, size)
	return nil
}

func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	return m.sim.Read(addr, p, 0)
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	return m.sim.Write(addr, p, 0)
}

// Read with protection checks, reporting faults through the hook
// dispatcher. This is the fetch/load path of the interpreter.
func (m *Mem) ReadProt(addr, size uint64, prot int) ([]byte, error) {
	p := make([]byte, size)
	if err := m.sim.Read(addr, p, prot); err != nil {
		if merr, ok := err.(*MemError); ok && m.hooks != nil {
			m.hooks.OnFault(merr.Enum, addr, int(size), 0)
		}
		return nil, err
	}
	return p, nil
}

func (m *Mem) WriteProt(addr uint64, p []byte, prot int) error {
	err := m.sim.Write(addr, p, prot)
	if err != nil {
		if merr, ok := err.(*MemError); ok && m.hooks != nil {
			m.hooks.OnFault(merr.Enum, addr, len(p), 0)
		}
	}
	return err
}

func (m *Mem) ReadUint(addr uint64, size, prot int) (uint64, error) {
	if size > 8 {
		return 0, errors.Errorf("ReadUint size too large: %d > 8", size)
	}
	p, err := m.ReadProt(addr, uint64(size), prot)
	if err != nil {
		return 0, err
	}
	return GetUint(m.order, size, p)
}

func (m *Mem) WriteUint(addr uint64, size, prot int, val uint64) error {
	if size > 8 {
		return errors.Errorf("WriteUint size too large: %d > 8", size)
	}
	buf, err := PutUint(m.order, size, val)
	if err != nil {
		return err
	}
	return m.WriteProt(addr, buf, prot)
}
