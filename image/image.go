package image

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/danielrmenzel/online-assembly-debugger/loader"
	"github.com/danielrmenzel/online-assembly-debugger/models"
	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
)

const (
	PageSize  = 4096
	StackSize = 0x10000

	// gap between the highest mapped address and the stack
	stackGap = 0x10000

	// synthetic base for relocatable objects, whose sections carry
	// address zero
	ObjectBase = 0x100000
)

// load strategies
const (
	AsExec = iota // sections carry final addresses from the link step
	AsObject      // assign synthetic addresses from a base cursor
)

// the one-byte halt opcode written into the return trampoline
const HaltOpcode = 0xf4

// Image is a built, addressable memory image inside an emulator, plus the
// address bookkeeping relocation and entry resolution need afterwards.
type Image struct {
	Strategy int

	TextBase uint64
	Entry    uint64

	StackBase uint64
	InitialSP uint64

	// for objects: a synthetic hlt stub past the stack, pushed as the
	// initial return address so -nostdlib code has a defined stop
	Trampoline uint64

	// placed address per successfully written section name
	SectionAddrs map[string]uint64

	// recoverable conditions observed while building
	Diags []string

	c       cpu.Cpu
	file    *loader.File
	sim     cpu.MemSim
	verbose bool
	wordSz  int
}

func align(addr, size uint64) (uint64, uint64) {
	base := addr &^ uint64(PageSize-1)
	size = (addr + size - base + PageSize - 1) &^ uint64(PageSize-1)
	return base, size
}

func sectionProt(flags uint64) int {
	prot := cpu.PROT_READ
	if flags&uint64(elf.SHF_WRITE) != 0 {
		prot |= cpu.PROT_WRITE
	}
	if flags&uint64(elf.SHF_EXECINSTR) != 0 {
		prot |= cpu.PROT_EXEC
	}
	return prot
}

// Build maps every allocatable section of f into c, reserves a stack above
// the mapped ranges, and for objects installs the halt trampoline. A
// section the engine rejects is skipped with a diagnostic: a degraded load
// still executes, an aborted one does not.
func Build(c cpu.Cpu, f *loader.File, strategy int, conf *models.Config) (*Image, error) {
	img := &Image{
		Strategy:     strategy,
		SectionAddrs: make(map[string]uint64),
		c:            c,
		file:         f,
		wordSz:       f.Bits / 8,
	}
	if conf != nil {
		img.verbose = conf.Verbose
	}

	cursor := uint64(ObjectBase)
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Flags&uint64(elf.SHF_ALLOC) == 0 || s.Size == 0 {
			continue
		}
		target := s.Addr
		if strategy == AsObject {
			target = cursor
			_, sz := align(target, s.Size)
			cursor += sz
		}
		if err := img.mapSection(s, target); err != nil {
			img.diag("skipping section %s: %v", s.Name, err)
			continue
		}
		img.SectionAddrs[s.Name] = target
	}

	if text := f.Section(".text"); text != nil {
		if strategy == AsObject {
			img.TextBase = img.SectionAddrs[".text"]
		} else {
			img.TextBase = text.Addr
		}
	}
	if strategy == AsExec {
		img.Entry = f.Entry
	} else {
		img.Entry = img.TextBase
	}

	if err := img.mapStack(); err != nil {
		return nil, err
	}
	if strategy == AsObject {
		if err := img.mapTrampoline(); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// mapSection maps the page-rounded range backing s and writes its bytes.
// Sections sharing a page with an earlier mapping keep the existing
// mapping; their bytes still land at the target address.
func (img *Image) mapSection(s *loader.Section, target uint64) error {
	base, size := align(target, s.Size)
	if len(img.sim.Mem.FindRange(base, size)) > 0 {
		img.diag("section %s shares mapped range 0x%x-0x%x", s.Name, base, base+size)
	} else {
		prot := sectionProt(s.Flags)
		if err := img.c.MemMap(base, size, prot); err != nil {
			return errors.Wrap(err, "engine rejected mapping")
		}
		if _, err := img.sim.Map(base, size, prot, s.Name); err != nil {
			return err
		}
	}
	if s.Type != elf.SHT_NOBITS {
		data, err := img.file.SectionData(s)
		if err != nil {
			return err
		}
		if err := img.c.MemWrite(target, data); err != nil {
			return errors.Wrap(err, "section write failed")
		}
	}
	return nil
}

// mapStack places a fixed-size stack strictly above every mapped range:
// above the highest program header end for executables, above the section
// cursor for objects.
func (img *Image) mapStack() error {
	var top uint64
	if img.Strategy == AsExec {
		for _, ph := range img.file.Progs {
			if ph.Type != elf.PT_LOAD {
				continue
			}
			if end := ph.Vaddr + ph.Memsz; end > top {
				top = end
			}
		}
	}
	for _, r := range img.sim.Mem {
		if end := r.Addr + r.Size; end > top {
			top = end
		}
	}
	base, _ := align(top, 1)
	img.StackBase = base + PageSize + stackGap
	if err := img.c.MemMap(img.StackBase, StackSize, cpu.PROT_READ|cpu.PROT_WRITE); err != nil {
		return errors.Wrap(err, "stack mapping failed")
	}
	if _, err := img.sim.Map(img.StackBase, StackSize, cpu.PROT_READ|cpu.PROT_WRITE, "stack"); err != nil {
		return err
	}
	img.InitialSP = img.StackBase + StackSize - uint64(2*img.wordSz)
	return nil
}

// mapTrampoline writes a single hlt one page past the stack and pushes its
// address as the synthetic return address of the entry function.
func (img *Image) mapTrampoline() error {
	addr := img.StackBase + StackSize + PageSize
	if err := img.c.MemMap(addr, PageSize, cpu.PROT_ALL); err != nil {
		return errors.Wrap(err, "trampoline mapping failed")
	}
	if _, err := img.sim.Map(addr, PageSize, cpu.PROT_ALL, "trampoline"); err != nil {
		return err
	}
	if err := img.c.MemWrite(addr, []byte{HaltOpcode}); err != nil {
		return err
	}
	img.Trampoline = addr

	img.InitialSP -= uint64(img.wordSz)
	buf, err := cpu.PutUint(img.file.Order, img.wordSz, addr)
	if err != nil {
		return err
	}
	if err := img.c.MemWrite(img.InitialSP, buf); err != nil {
		return errors.Wrap(err, "return address push failed")
	}
	return nil
}

// Regions lists what was actually mapped, for display and tests.
func (img *Image) Regions() cpu.Regions {
	return img.sim.Mem
}

// Teardown unmaps every region this image owns. Loading a new artifact
// must tear down the previous image first.
func (img *Image) Teardown() {
	for _, r := range img.sim.Mem {
		img.c.MemUnmap(r.Addr, r.Size)
	}
	img.sim.Unmap(0, ^uint64(0))
}

func (img *Image) diag(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	img.Diags = append(img.Diags, msg)
	if img.verbose {
		fmt.Fprintf(os.Stderr, "image: %s\n", msg)
	}
}
