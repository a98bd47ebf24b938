package x86sim

import (
	"fmt"
	"strings"

	"github.com/danielrmenzel/online-assembly-debugger/models"
)

type arg interface {
	String() string
}

type reg struct {
	num  int
	size int
}

type mem struct {
	base int
	disp int32
	size int
}

type imm struct{ val int64 }

func (a *reg) String() string { return regName(a.num, a.size) }

func (a *mem) String() string {
	width := "dword ptr"
	if a.size == 8 {
		width = "qword ptr"
	}
	base := regName(a.base, 8)
	switch {
	case a.disp > 0:
		return fmt.Sprintf("%s [%s + %#x]", width, base, a.disp)
	case a.disp < 0:
		return fmt.Sprintf("%s [%s - %#x]", width, base, -a.disp)
	default:
		return fmt.Sprintf("%s [%s]", width, base)
	}
}

func (a *imm) String() string { return fmt.Sprintf("%#x", uint64(a.val)) }

type ins struct {
	addr  uint64
	name  string
	args  []arg
	bytes []byte
}

func (i *ins) String() string {
	if len(i.args) == 0 {
		return i.name
	}
	return i.name + " " + i.OpStr()
}

func (i *ins) Addr() uint64 { return i.addr }

func (i *ins) Bytes() []byte { return i.bytes }

func (i *ins) Mnemonic() string { return i.name }

func (i *ins) OpStr() string {
	var args []string
	for _, a := range i.args {
		args = append(args, a.String())
	}
	return strings.Join(args, ", ")
}

type decoder struct {
	buf  []byte
	pos  int
	fail bool
}

func (d *decoder) u8() uint8 {
	if d.pos >= len(d.buf) {
		d.fail = true
		return 0
	}
	b := d.buf[d.pos]
	d.pos++
	return b
}

func (d *decoder) s8() int32 {
	return int32(int8(d.u8()))
}

func (d *decoder) s32() int32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(d.u8()) << (8 * i)
	}
	return int32(v)
}

// modrm decodes a ModRM byte into the r/m operand and the reg field.
// Only register-direct and single-base displacement forms are handled;
// SIB and rip-relative addressing fail the decode.
func (d *decoder) modrm(size int) (arg, *reg) {
	m := d.u8()
	mod := m >> 6
	rnum := int(m>>3) & 7
	rm := int(m) & 7
	r := &reg{rnum, size}
	switch mod {
	case 3:
		return &reg{rm, size}, r
	case 1:
		if rm == 4 {
			d.fail = true
			return nil, nil
		}
		return &mem{base: rm, disp: d.s8(), size: size}, r
	case 2:
		if rm == 4 {
			d.fail = true
			return nil, nil
		}
		return &mem{base: rm, disp: d.s32(), size: size}, r
	default:
		if rm == 4 || rm == 5 {
			d.fail = true
			return nil, nil
		}
		return &mem{base: rm, size: size}, r
	}
}

// decode pulls a single instruction from buf. A nil return means the
// bytes are outside the supported subset.
func decode(buf []byte, addr uint64) *ins {
	d := &decoder{buf: buf}
	size := 4
	rex := false
	op := d.u8()
	if op == 0x48 {
		rex = true
		size = 8
		op = d.u8()
	}

	var name string
	var args []arg
	switch {
	case op == 0x90:
		name = "nop"
	case op == 0xf4:
		name = "hlt"
	case op == 0xc3:
		name = "ret"
	case op == 0xc9:
		name = "leave"
	case op >= 0x50 && op <= 0x57:
		name = "push"
		args = []arg{&reg{int(op - 0x50), 8}}
	case op >= 0x58 && op <= 0x5f:
		name = "pop"
		args = []arg{&reg{int(op - 0x58), 8}}
	case op >= 0xb8 && op <= 0xbf && !rex:
		name = "mov"
		args = []arg{&reg{int(op - 0xb8), 4}, &imm{int64(d.s32())}}
	case op == 0x89 || op == 0x8b:
		name = "mov"
		rm, r := d.modrm(size)
		if op == 0x89 {
			args = []arg{rm, r}
		} else {
			args = []arg{r, rm}
		}
	case op == 0x01 || op == 0x03:
		name = "add"
		rm, r := d.modrm(size)
		if op == 0x01 {
			args = []arg{rm, r}
		} else {
			args = []arg{r, rm}
		}
	case op == 0x29 || op == 0x2b:
		name = "sub"
		rm, r := d.modrm(size)
		if op == 0x29 {
			args = []arg{rm, r}
		} else {
			args = []arg{r, rm}
		}
	case op == 0x83:
		rm, r := d.modrm(size)
		switch {
		case r != nil && r.num == 0:
			name = "add"
		case r != nil && r.num == 5:
			name = "sub"
		default:
			return nil
		}
		args = []arg{rm, &imm{int64(d.s8())}}
	case op == 0xc7:
		rm, r := d.modrm(size)
		if r == nil || r.num != 0 {
			return nil
		}
		name = "mov"
		args = []arg{rm, &imm{int64(d.s32())}}
	case op == 0xe8 || op == 0xe9:
		if op == 0xe8 {
			name = "call"
		} else {
			name = "jmp"
		}
		rel := d.s32()
		args = []arg{&imm{int64(addr) + int64(d.pos) + int64(rel)}}
	case op == 0xeb:
		name = "jmp"
		rel := d.s8()
		args = []arg{&imm{int64(addr) + int64(d.pos) + int64(rel)}}
	case op == 0x0f:
		if d.u8() != 0xaf {
			return nil
		}
		name = "imul"
		rm, r := d.modrm(size)
		args = []arg{r, rm}
	default:
		return nil
	}
	if d.fail {
		return nil
	}
	return &ins{
		addr:  addr,
		name:  name,
		args:  args,
		bytes: append([]byte{}, buf[:d.pos]...),
	}
}

type Dis struct{}

// Dis decodes as far as it can and stops at the first byte outside the
// subset, so partial listings over unknown code are not an error.
func (d *Dis) Dis(buf []byte, addr uint64) ([]models.Ins, error) {
	var ret []models.Ins
	pos := 0
	for pos < len(buf) {
		i := decode(buf[pos:], addr+uint64(pos))
		if i == nil {
			break
		}
		ret = append(ret, i)
		pos += len(i.bytes)
	}
	return ret, nil
}
