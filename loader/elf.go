package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// ErrMalformed is fatal: the buffer is not a usable ELF container.
var ErrMalformed = errors.New("malformed container")

// ErrMissingSection is recoverable: callers fall back or skip the feature.
var ErrMissingSection = errors.New("missing section")

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// file kinds
const (
	Object = iota // relocatable, sections at address zero
	Exec          // linked, sections carry final addresses
	Dyn
)

var machineMap = map[elf.Machine]string{
	elf.EM_386:    "x86",
	elf.EM_X86_64: "x86_64",
}

func Match(p []byte) bool {
	return len(p) >= 4 && bytes.Equal(p[:4], elfMagic)
}

type Prog struct {
	Type          elf.ProgType
	Flags         uint32
	Off           uint64
	Vaddr         uint64
	Filesz, Memsz uint64
	Align         uint64
}

type Section struct {
	Name string

	NameOff   uint32
	Type      elf.SectionType
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// File is the immutable parsed view of an ELF byte buffer.
type File struct {
	Bits    int
	Order   binary.ByteOrder
	Kind    int
	Machine string
	Entry   uint64

	Progs    []Prog
	Sections []Section

	raw []byte
}

// fixed-layout header structs, decoded by struc with the declared order

type header64 struct {
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

type header32 struct {
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

func unpackAt(p []byte, off uint64, order binary.ByteOrder, v interface{}) error {
	if off > uint64(len(p)) {
		return errors.Wrapf(ErrMalformed, "offset %#x past end", off)
	}
	opts := &struc.Options{Order: order}
	return struc.UnpackWithOptions(bytes.NewReader(p[off:]), v, opts)
}

// Parse is a pure function of the byte buffer: no side effects, identical
// input yields an identical File.
func Parse(p []byte) (*File, error) {
	if !Match(p) {
		return nil, errors.Wrap(ErrMalformed, "bad magic")
	}
	if len(p) < 16 {
		return nil, errors.Wrap(ErrMalformed, "truncated ident")
	}
	f := &File{raw: p}
	switch elf.Class(p[4]) {
	case elf.ELFCLASS32:
		f.Bits = 32
	case elf.ELFCLASS64:
		f.Bits = 64
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown class %d", p[4])
	}
	switch elf.Data(p[5]) {
	case elf.ELFDATA2LSB:
		f.Order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		f.Order = binary.BigEndian
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown data encoding %d", p[5])
	}

	var typ elf.Type
	var machine elf.Machine
	var phoff, shoff uint64
	var phnum, shnum, shstrndx int
	if f.Bits == 64 {
		var hdr header64
		if err := unpackAt(p, 16, f.Order, &hdr); err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		typ, machine = elf.Type(hdr.Type), elf.Machine(hdr.Machine)
		f.Entry = hdr.Entry
		phoff, shoff = hdr.Phoff, hdr.Shoff
		phnum, shnum, shstrndx = int(hdr.Phnum), int(hdr.Shnum), int(hdr.Shstrndx)
	} else {
		var hdr header32
		if err := unpackAt(p, 16, f.Order, &hdr); err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		typ, machine = elf.Type(hdr.Type), elf.Machine(hdr.Machine)
		f.Entry = uint64(hdr.Entry)
		phoff, shoff = uint64(hdr.Phoff), uint64(hdr.Shoff)
		phnum, shnum, shstrndx = int(hdr.Phnum), int(hdr.Shnum), int(hdr.Shstrndx)
	}

	switch typ {
	case elf.ET_REL:
		f.Kind = Object
	case elf.ET_EXEC:
		f.Kind = Exec
	case elf.ET_DYN:
		f.Kind = Dyn
	default:
		return nil, errors.Wrapf(ErrMalformed, "unsupported file type %d", typ)
	}
	name, ok := machineMap[machine]
	if !ok {
		return nil, errors.Errorf("unsupported machine: %s", machine)
	}
	f.Machine = name

	if err := f.parseProgs(phoff, phnum); err != nil {
		return nil, err
	}
	if err := f.parseSections(shoff, shnum, shstrndx); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parseProgs(phoff uint64, phnum int) error {
	psize := uint64(56)
	if f.Bits == 32 {
		psize = 32
	}
	for i := 0; i < phnum; i++ {
		off := phoff + uint64(i)*psize
		if f.Bits == 64 {
			var ph phdr64
			if err := unpackAt(f.raw, off, f.Order, &ph); err != nil {
				return errors.Wrap(ErrMalformed, err.Error())
			}
			f.Progs = append(f.Progs, Prog{
				Type: elf.ProgType(ph.Type), Flags: ph.Flags,
				Off: ph.Off, Vaddr: ph.Vaddr,
				Filesz: ph.Filesz, Memsz: ph.Memsz, Align: ph.Align,
			})
		} else {
			var ph phdr32
			if err := unpackAt(f.raw, off, f.Order, &ph); err != nil {
				return errors.Wrap(ErrMalformed, err.Error())
			}
			f.Progs = append(f.Progs, Prog{
				Type: elf.ProgType(ph.Type), Flags: ph.Flags,
				Off: uint64(ph.Off), Vaddr: uint64(ph.Vaddr),
				Filesz: uint64(ph.Filesz), Memsz: uint64(ph.Memsz), Align: uint64(ph.Align),
			})
		}
	}
	return nil
}

func (f *File) parseSections(shoff uint64, shnum, shstrndx int) error {
	ssize := uint64(64)
	if f.Bits == 32 {
		ssize = 40
	}
	for i := 0; i < shnum; i++ {
		off := shoff + uint64(i)*ssize
		if f.Bits == 64 {
			var sh shdr64
			if err := unpackAt(f.raw, off, f.Order, &sh); err != nil {
				return errors.Wrap(ErrMalformed, err.Error())
			}
			f.Sections = append(f.Sections, Section{
				NameOff: sh.Name, Type: elf.SectionType(sh.Type), Flags: sh.Flags,
				Addr: sh.Addr, Off: sh.Off, Size: sh.Size,
				Link: sh.Link, Info: sh.Info,
				Addralign: sh.Addralign, Entsize: sh.Entsize,
			})
		} else {
			var sh shdr32
			if err := unpackAt(f.raw, off, f.Order, &sh); err != nil {
				return errors.Wrap(ErrMalformed, err.Error())
			}
			f.Sections = append(f.Sections, Section{
				NameOff: sh.Name, Type: elf.SectionType(sh.Type), Flags: uint64(sh.Flags),
				Addr: uint64(sh.Addr), Off: uint64(sh.Off), Size: uint64(sh.Size),
				Link: sh.Link, Info: sh.Info,
				Addralign: uint64(sh.Addralign), Entsize: uint64(sh.Entsize),
			})
		}
	}
	// section names come from the header string table, when present
	if shstrndx > 0 && shstrndx < len(f.Sections) {
		strs, err := f.SectionData(&f.Sections[shstrndx])
		if err != nil {
			return err
		}
		for i := range f.Sections {
			f.Sections[i].Name = getString(strs, f.Sections[i].NameOff)
		}
	}
	return nil
}

func getString(strtab []byte, off uint32) string {
	if uint32(len(strtab)) <= off {
		return ""
	}
	end := bytes.IndexByte(strtab[off:], 0)
	if end < 0 {
		return string(strtab[off:])
	}
	return string(strtab[off : off+uint32(end)])
}

// Section returns the first section with the given name, or nil.
func (f *File) Section(name string) *Section {
	for i := range f.Sections {
		if f.Sections[i].Name == name {
			return &f.Sections[i]
		}
	}
	return nil
}

func (f *File) findSection(typ elf.SectionType) *Section {
	for i := range f.Sections {
		if f.Sections[i].Type == typ {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns the file bytes backing s. NOBITS sections have no
// file bytes and yield a zero-filled buffer of the declared size.
func (f *File) SectionData(s *Section) ([]byte, error) {
	if s.Type == elf.SHT_NOBITS {
		return make([]byte, s.Size), nil
	}
	end := s.Off + s.Size
	if end > uint64(len(f.raw)) || end < s.Off {
		return nil, errors.Wrapf(ErrMalformed, "section %q out of range", s.Name)
	}
	return f.raw[s.Off:end], nil
}
