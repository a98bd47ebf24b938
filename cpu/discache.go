package cpu

import (
	"bytes"
	"sync"

	"github.com/danielrmenzel/online-assembly-debugger/models"
)

type discacheEntry struct {
	addr uint64
	mem  []byte
	dis  []models.Ins
}

// discache memoizes disassembly keyed by address, invalidated when the
// backing bytes change (relocation patching rewrites text in place).
type discache struct {
	sync.RWMutex
	cache map[uint64]*discacheEntry
}

func (d *discache) Get(addr uint64, mem []byte) *discacheEntry {
	d.RLock()
	defer d.RUnlock()

	if ent, ok := d.cache[addr]; ok {
		if bytes.Equal(mem, ent.mem) {
			return ent
		}
	}
	return nil
}

func (d *discache) Put(addr uint64, mem []byte, dis []models.Ins) {
	d.Lock()
	defer d.Unlock()

	d.cache[addr] = &discacheEntry{
		addr: addr,
		mem:  mem,
		dis:  dis,
	}
}
