package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/danielrmenzel/online-assembly-debugger/loader"
	"github.com/danielrmenzel/online-assembly-debugger/models"
)

// the displacement field trails the opcode byte in the call/jmp encodings
// this tool patches, so a pc-relative target is measured from patch+4
const relDispSize = 4

type rela64 struct {
	Off    uint64
	Info   uint64
	Addend int64
}

type rela32 struct {
	Off    uint32
	Info   uint32
	Addend int32
}

type rel64 struct {
	Off  uint64
	Info uint64
}

type rel32 struct {
	Off  uint32
	Info uint32
}

type relocEntry struct {
	off       uint64
	symIdx    int
	typ       uint32
	addend    int64
	hasAddend bool
}

func relocEntries(f *loader.File) ([]relocEntry, error) {
	sec := f.Section(".rela.text")
	if sec == nil {
		sec = f.Section(".rel.text")
	}
	if sec == nil {
		return nil, errors.Wrap(loader.ErrMissingSection, "no text relocation section")
	}
	data, err := f.SectionData(sec)
	if err != nil {
		return nil, err
	}
	withAddend := sec.Type == elf.SHT_RELA
	esize := relocSize(f.Bits, withAddend)
	opts := &struc.Options{Order: f.Order}
	var out []relocEntry
	for off := 0; off+esize <= len(data); off += esize {
		r := bytes.NewReader(data[off : off+esize])
		var e relocEntry
		e.hasAddend = withAddend
		switch {
		case f.Bits == 64 && withAddend:
			var raw rela64
			if err := struc.UnpackWithOptions(r, &raw, opts); err != nil {
				return nil, errors.Wrap(loader.ErrMalformed, err.Error())
			}
			e.off, e.symIdx, e.typ, e.addend = raw.Off, int(raw.Info>>32), uint32(raw.Info), raw.Addend
		case f.Bits == 64:
			var raw rel64
			if err := struc.UnpackWithOptions(r, &raw, opts); err != nil {
				return nil, errors.Wrap(loader.ErrMalformed, err.Error())
			}
			e.off, e.symIdx, e.typ = raw.Off, int(raw.Info>>32), uint32(raw.Info)
		case withAddend:
			var raw rela32
			if err := struc.UnpackWithOptions(r, &raw, opts); err != nil {
				return nil, errors.Wrap(loader.ErrMalformed, err.Error())
			}
			e.off, e.symIdx, e.typ, e.addend = uint64(raw.Off), int(raw.Info>>8), raw.Info&0xff, int64(raw.Addend)
		default:
			var raw rel32
			if err := struc.UnpackWithOptions(r, &raw, opts); err != nil {
				return nil, errors.Wrap(loader.ErrMalformed, err.Error())
			}
			e.off, e.symIdx, e.typ = uint64(raw.Off), int(raw.Info>>8), raw.Info&0xff
		}
		out = append(out, e)
	}
	return out, nil
}

func relocSize(bits int, withAddend bool) int {
	switch {
	case bits == 64 && withAddend:
		return 24
	case bits == 64:
		return 16
	case withAddend:
		return 12
	default:
		return 8
	}
}

// relKind classifies a relocation type into the patched subset.
const (
	relUnsupported = iota
	relPCRel32
	relAbs32
)

func classify(machine string, typ uint32) int {
	switch machine {
	case "x86_64":
		switch elf.R_X86_64(typ) {
		case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
			return relPCRel32
		case elf.R_X86_64_32, elf.R_X86_64_32S:
			return relAbs32
		}
	case "x86":
		switch elf.R_386(typ) {
		case elf.R_386_PC32, elf.R_386_PLT32:
			return relPCRel32
		case elf.R_386_32:
			return relAbs32
		}
	}
	return relUnsupported
}

// Relocate patches the call/branch operands in the mapped text section so
// cross-function references land on the addresses the symbol resolver
// assigned. Unsupported types and unresolved names are skipped with a
// diagnostic: degraded output, never a failed load. Returns how many sites
// were patched.
func (img *Image) Relocate(funcs *models.FuncMap) (int, error) {
	entries, err := relocEntries(img.file)
	if err != nil {
		if errors.Is(err, loader.ErrMissingSection) {
			img.diag("%v", err)
			return 0, nil
		}
		return 0, err
	}
	names, err := img.file.SymbolNames()
	if err != nil {
		img.diag("relocations present but symbol names unavailable: %v", err)
		return 0, nil
	}

	patched := 0
	for _, e := range entries {
		if e.symIdx >= len(names) {
			img.diag("relocation references symbol %d out of range", e.symIdx)
			continue
		}
		name := names[e.symIdx]
		target, ok := funcs.Lookup(name)
		if !ok {
			// common for externals with no linked support library
			img.diag("unresolved symbol %q, leaving site 0x%x unpatched", name, e.off)
			continue
		}
		patchAddr := img.TextBase + e.off
		var value uint32
		switch classify(img.file.Machine, e.typ) {
		case relPCRel32:
			if e.hasAddend {
				value = uint32(int64(target) + e.addend - int64(patchAddr))
			} else {
				value = uint32(target - (patchAddr + relDispSize))
			}
		case relAbs32:
			value = uint32(int64(target) + e.addend)
		default:
			// the call will land wrong; surfaced, not silently "fixed"
			img.diag("unsupported relocation type %d at 0x%x", e.typ, e.off)
			continue
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], value)
		if err := img.c.MemWrite(patchAddr, buf[:]); err != nil {
			return patched, errors.Wrapf(err, "patch at 0x%x failed", patchAddr)
		}
		patched++
	}
	return patched, nil
}
