package loader

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/danielrmenzel/online-assembly-debugger/models"
)

// Symbol values below this look like intra-section offsets from an
// unlinked object; anything larger is treated as already linked.
const offsetThreshold = 0x1000

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

type rawSym struct {
	name  uint32
	info  uint8
	shndx uint16
	value uint64
	size  uint64
}

func (f *File) symEntries(sec *Section) ([]rawSym, error) {
	data, err := f.SectionData(sec)
	if err != nil {
		return nil, err
	}
	esize := 24
	if f.Bits == 32 {
		esize = 16
	}
	var out []rawSym
	opts := &struc.Options{Order: f.Order}
	for off := 0; off+esize <= len(data); off += esize {
		r := bytes.NewReader(data[off : off+esize])
		if f.Bits == 64 {
			var s sym64
			if err := struc.UnpackWithOptions(r, &s, opts); err != nil {
				return nil, errors.Wrap(ErrMalformed, err.Error())
			}
			out = append(out, rawSym{s.Name, s.Info, s.Shndx, s.Value, s.Size})
		} else {
			var s sym32
			if err := struc.UnpackWithOptions(r, &s, opts); err != nil {
				return nil, errors.Wrap(ErrMalformed, err.Error())
			}
			out = append(out, rawSym{s.Name, s.Info, s.Shndx, uint64(s.Value), uint64(s.Size)})
		}
	}
	return out, nil
}

// symtab locates the symbol table and its paired string table, preferring
// the full table over the dynamic one.
func (f *File) symtab() (*Section, []byte, error) {
	sec := f.findSection(elf.SHT_SYMTAB)
	if sec == nil {
		sec = f.findSection(elf.SHT_DYNSYM)
	}
	if sec == nil {
		return nil, nil, errors.Wrap(ErrMissingSection, "no symbol table")
	}
	if int(sec.Link) >= len(f.Sections) {
		return nil, nil, errors.Wrap(ErrMissingSection, "symbol table has no string table")
	}
	strs, err := f.SectionData(&f.Sections[sec.Link])
	if err != nil {
		return nil, nil, err
	}
	return sec, strs, nil
}

// SymbolNames resolves every symbol table entry to a name, indexed the way
// relocation entries reference them. Section symbols resolve to their
// section's name.
func (f *File) SymbolNames() ([]string, error) {
	sec, strs, err := f.symtab()
	if err != nil {
		return nil, err
	}
	syms, err := f.symEntries(sec)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(syms))
	for i, s := range syms {
		if elf.SymType(s.info&0xf) == elf.STT_SECTION && int(s.shndx) < len(f.Sections) {
			names[i] = f.Sections[s.shndx].Name
			continue
		}
		names[i] = getString(strs, s.name)
	}
	return names, nil
}

// Functions extracts the function symbols ordered by address. bias is the
// offset the text section was remapped by; raw values that look like small
// intra-section offsets are rebased onto it, values from a prior link pass
// are kept as-is. An empty result means "no enhanced labeling available",
// never an error, so the missing-table case returns (nil, nil).
func Functions(f *File, bias uint64) (*models.FuncMap, error) {
	sec, strs, err := f.symtab()
	if err != nil {
		if errors.Is(err, ErrMissingSection) {
			return nil, nil
		}
		return nil, err
	}
	syms, err := f.symEntries(sec)
	if err != nil {
		return nil, err
	}
	var funcs []models.Symbol
	for _, s := range syms {
		if elf.SymType(s.info&0xf) != elf.STT_FUNC {
			continue
		}
		if elf.SectionIndex(s.shndx) == elf.SHN_UNDEF {
			continue
		}
		name := getString(strs, s.name)
		if name == "" {
			continue
		}
		addr := s.value
		if addr < offsetThreshold {
			addr += bias
		}
		end := uint64(0)
		if s.size > 0 {
			end = addr + s.size
		}
		funcs = append(funcs, models.Symbol{
			Name:    name,
			Start:   addr,
			End:     end,
			Dynamic: sec.Type == elf.SHT_DYNSYM,
		})
	}
	fm := models.NewFuncMap(funcs)
	fillEnds(f, fm, bias)
	return fm, nil
}

// fillEnds closes zero-size boundaries at the start of the next function,
// or the end of the text section for the last one.
func fillEnds(f *File, fm *models.FuncMap, bias uint64) {
	funcs := fm.Funcs()
	var textEnd uint64
	if text := f.Section(".text"); text != nil {
		base := text.Addr
		if base < offsetThreshold {
			base += bias
		}
		textEnd = base + text.Size
	}
	for i := range funcs {
		if funcs[i].End != 0 {
			continue
		}
		if i+1 < len(funcs) {
			funcs[i].End = funcs[i+1].Start
		} else if textEnd > funcs[i].Start {
			funcs[i].End = textEnd
		}
	}
}

// ScanPrologues is the fallback boundary detector for stripped binaries:
// a frame-pointer push immediately followed by the frame-establishing move
// opens a function, closed by the next match or the end of the section.
func ScanPrologues(dis models.Dis, text []byte, base uint64) (*models.FuncMap, error) {
	if len(text) == 0 {
		return nil, nil
	}
	asm, err := dis.Dis(text, base)
	if err != nil {
		return nil, errors.Wrap(err, "prologue scan failed")
	}
	var funcs []models.Symbol
	for i := 0; i+1 < len(asm); i++ {
		if !isPrologue(asm[i], asm[i+1]) {
			continue
		}
		addr := asm[i].Addr()
		funcs = append(funcs, models.Symbol{
			Name:  fmt.Sprintf("sub_%x", addr),
			Start: addr,
		})
	}
	if len(funcs) == 0 {
		return nil, nil
	}
	for i := range funcs {
		if i+1 < len(funcs) {
			funcs[i].End = funcs[i+1].Start
		} else {
			funcs[i].End = base + uint64(len(text))
		}
	}
	return models.NewFuncMap(funcs), nil
}

func isPrologue(a, b models.Ins) bool {
	if a.Mnemonic() != "push" {
		return false
	}
	fp := opClean(a.OpStr())
	if fp != "rbp" && fp != "ebp" {
		return false
	}
	if b.Mnemonic() != "mov" {
		return false
	}
	ops := opClean(b.OpStr())
	return ops == "rbp,rsp" || ops == "ebp,esp"
}

func opClean(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
