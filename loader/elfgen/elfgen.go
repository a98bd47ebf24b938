// Package elfgen emits minimal ELF images in memory so the loader can be
// exercised without a compiler on the test machine. It builds relocatable
// objects with symbol and relocation tables, and linked executables with a
// single loadable segment.
package elfgen

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// Sym is one symbol table entry. Entry 0 of the emitted table is the null
// symbol, so Syms[i] lands at table index i+1.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
	Func  bool
	Undef bool
}

// Rel is one text relocation. Sym is the final symbol table index.
// Addend is only emitted for the 64-bit RELA form.
type Rel struct {
	Off    uint64
	Sym    uint32
	Type   uint32
	Addend int64
}

type Builder struct {
	Bits  int
	Order binary.ByteOrder

	Exec     bool
	Entry    uint64
	TextAddr uint64
	Text     []byte

	// optional read-only data section
	Rodata     []byte
	RodataAddr uint64

	Syms   []Sym
	Relocs []Rel
}

type ehdr64 struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type ehdr32 struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type shdr64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type shdr32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Off       uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

type phdr64 struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

type phdr32 struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

type sym64 struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

type sym32 struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

type rela64 struct {
	Off    uint64
	Info   uint64
	Addend int64
}

type rel32 struct {
	Off  uint32
	Info uint32
}

type section struct {
	name    string
	typ     elf.SectionType
	flags   uint64
	addr    uint64
	data    []byte
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
}

func pack(w *bytes.Buffer, order binary.ByteOrder, v interface{}) {
	struc.PackWithOptions(w, v, &struc.Options{Order: order})
}

func align(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}

// symtab builds the string and symbol table section contents.
func (b *Builder) symtab() (symData, strData []byte) {
	strs := []byte{0}
	var buf bytes.Buffer
	if b.Bits == 64 {
		pack(&buf, b.Order, &sym64{})
	} else {
		pack(&buf, b.Order, &sym32{})
	}
	for _, s := range b.Syms {
		nameOff := uint32(len(strs))
		strs = append(strs, s.Name...)
		strs = append(strs, 0)
		info := uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_NOTYPE)
		if s.Func {
			info = uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_FUNC)
		}
		shndx := uint16(1)
		if s.Undef {
			shndx = uint16(elf.SHN_UNDEF)
		}
		if b.Bits == 64 {
			pack(&buf, b.Order, &sym64{
				Name: nameOff, Info: info, Shndx: shndx,
				Value: s.Value, Size: s.Size,
			})
		} else {
			pack(&buf, b.Order, &sym32{
				Name: nameOff, Info: info, Shndx: shndx,
				Value: uint32(s.Value), Size: uint32(s.Size),
			})
		}
	}
	return buf.Bytes(), strs
}

func (b *Builder) reltab() []byte {
	var buf bytes.Buffer
	for _, r := range b.Relocs {
		if b.Bits == 64 {
			pack(&buf, b.Order, &rela64{
				Off:    r.Off,
				Info:   uint64(r.Sym)<<32 | uint64(r.Type),
				Addend: r.Addend,
			})
		} else {
			pack(&buf, b.Order, &rel32{
				Off:  uint32(r.Off),
				Info: r.Sym<<8 | r.Type&0xff,
			})
		}
	}
	return buf.Bytes()
}

// Bytes assembles the image. Section order is fixed: null, .text, then
// optional .symtab/.strtab, optional relocation table, optional .rodata,
// .shstrtab last.
func (b *Builder) Bytes() ([]byte, error) {
	if b.Bits == 0 {
		b.Bits = 64
	}
	if b.Bits != 32 && b.Bits != 64 {
		return nil, errors.Errorf("unsupported word size %d", b.Bits)
	}
	if b.Order == nil {
		b.Order = binary.LittleEndian
	}

	machine := uint16(elf.EM_X86_64)
	if b.Bits == 32 {
		machine = uint16(elf.EM_386)
	}
	etype := uint16(elf.ET_REL)
	if b.Exec {
		etype = uint16(elf.ET_EXEC)
	}

	symSize := uint64(24)
	if b.Bits == 32 {
		symSize = 16
	}

	secs := []section{
		{},
		{
			name: ".text", typ: elf.SHT_PROGBITS,
			flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			addr:  b.TextAddr, data: b.Text, align: 16,
		},
	}
	if len(b.Syms) > 0 {
		symData, strData := b.symtab()
		secs = append(secs,
			section{
				name: ".symtab", typ: elf.SHT_SYMTAB, data: symData,
				link: uint32(len(secs) + 1), info: 1,
				align: 8, entsize: symSize,
			},
			section{name: ".strtab", typ: elf.SHT_STRTAB, data: strData, align: 1},
		)
	}
	if len(b.Relocs) > 0 {
		sec := section{
			name: ".rela.text", typ: elf.SHT_RELA,
			data: b.reltab(), link: 2, info: 1,
			align: 8, entsize: 24,
		}
		if b.Bits == 32 {
			sec.name, sec.typ, sec.entsize = ".rel.text", elf.SHT_REL, 8
		}
		secs = append(secs, sec)
	}
	if len(b.Rodata) > 0 {
		secs = append(secs, section{
			name: ".rodata", typ: elf.SHT_PROGBITS,
			flags: uint64(elf.SHF_ALLOC),
			addr:  b.RodataAddr, data: b.Rodata, align: 1,
		})
	}

	shstr := []byte{0}
	nameOffs := make([]uint32, len(secs)+1)
	for i := 1; i < len(secs); i++ {
		nameOffs[i] = uint32(len(shstr))
		shstr = append(shstr, secs[i].name...)
		shstr = append(shstr, 0)
	}
	nameOffs[len(secs)] = uint32(len(shstr))
	shstr = append(shstr, ".shstrtab"...)
	shstr = append(shstr, 0)
	shstrndx := len(secs)
	secs = append(secs, section{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstr, align: 1})

	ehSize := uint64(64)
	phSize := uint64(56)
	shSize := uint64(64)
	if b.Bits == 32 {
		ehSize, phSize, shSize = 52, 32, 40
	}
	phnum := 0
	if b.Exec {
		phnum = 1
	}

	cursor := ehSize + uint64(phnum)*phSize
	offs := make([]uint64, len(secs))
	for i := 1; i < len(secs); i++ {
		cursor = align(cursor, secs[i].align)
		offs[i] = cursor
		cursor += uint64(len(secs[i].data))
	}
	shoff := align(cursor, 8)

	out := &bytes.Buffer{}
	out.Write([]byte{0x7f, 'E', 'L', 'F'})
	class := byte(elf.ELFCLASS64)
	if b.Bits == 32 {
		class = byte(elf.ELFCLASS32)
	}
	data := byte(elf.ELFDATA2LSB)
	if b.Order == binary.BigEndian {
		data = byte(elf.ELFDATA2MSB)
	}
	out.Write([]byte{class, data, 1})
	out.Write(make([]byte, 9))

	phoff := uint64(0)
	if phnum > 0 {
		phoff = ehSize
	}
	if b.Bits == 64 {
		pack(out, b.Order, &ehdr64{
			Type: etype, Machine: machine, Version: 1,
			Entry: b.Entry, Phoff: phoff, Shoff: shoff,
			Ehsize:    uint16(ehSize),
			Phentsize: uint16(phSize), Phnum: uint16(phnum),
			Shentsize: uint16(shSize), Shnum: uint16(len(secs)),
			Shstrndx: uint16(shstrndx),
		})
	} else {
		pack(out, b.Order, &ehdr32{
			Type: etype, Machine: machine, Version: 1,
			Entry: uint32(b.Entry), Phoff: uint32(phoff), Shoff: uint32(shoff),
			Ehsize:    uint16(ehSize),
			Phentsize: uint16(phSize), Phnum: uint16(phnum),
			Shentsize: uint16(shSize), Shnum: uint16(len(secs)),
			Shstrndx: uint16(shstrndx),
		})
	}

	if b.Exec {
		flags := uint32(elf.PF_R | elf.PF_X)
		if b.Bits == 64 {
			pack(out, b.Order, &phdr64{
				Type: uint32(elf.PT_LOAD), Flags: flags,
				Off: offs[1], Vaddr: b.TextAddr, Paddr: b.TextAddr,
				Filesz: uint64(len(b.Text)), Memsz: uint64(len(b.Text)),
				Align: 0x1000,
			})
		} else {
			pack(out, b.Order, &phdr32{
				Type: uint32(elf.PT_LOAD), Flags: flags,
				Off: uint32(offs[1]), Vaddr: uint32(b.TextAddr), Paddr: uint32(b.TextAddr),
				Filesz: uint32(len(b.Text)), Memsz: uint32(len(b.Text)),
				Align: 0x1000,
			})
		}
	}

	for i := 1; i < len(secs); i++ {
		for uint64(out.Len()) < offs[i] {
			out.WriteByte(0)
		}
		out.Write(secs[i].data)
	}
	for uint64(out.Len()) < shoff {
		out.WriteByte(0)
	}

	for i, s := range secs {
		if b.Bits == 64 {
			pack(out, b.Order, &shdr64{
				Name: nameOffs[i], Type: uint32(s.typ), Flags: s.flags,
				Addr: s.addr, Off: offs[i], Size: uint64(len(s.data)),
				Link: s.link, Info: s.info,
				Addralign: s.align, Entsize: s.entsize,
			})
		} else {
			pack(out, b.Order, &shdr32{
				Name: nameOffs[i], Type: uint32(s.typ), Flags: uint32(s.flags),
				Addr: uint32(s.addr), Off: uint32(offs[i]), Size: uint32(len(s.data)),
				Link: s.link, Info: s.info,
				Addralign: uint32(s.align), Entsize: uint32(s.entsize),
			})
		}
	}
	return out.Bytes(), nil
}
