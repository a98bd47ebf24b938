package models

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Disas renders a disassembly listing with a padded bytes column.
func Disas(dis Dis, mem []byte, addr uint64, showBytes bool) (string, error) {
	if len(mem) == 0 {
		return "", nil
	}
	asm, err := dis.Dis(mem, addr)
	if err != nil {
		return "", err
	}
	var width int
	for _, ins := range asm {
		if len(ins.Bytes()) > width {
			width = len(ins.Bytes())
		}
	}
	var out []string
	for _, ins := range asm {
		bs := ins.Bytes()
		pad := strings.Repeat(" ", (width-len(bs))*2)
		data := pad + hex.EncodeToString(bs)
		out = append(out, fmt.Sprintf("0x%x: %s %s %s", ins.Addr(), data, ins.Mnemonic(), ins.OpStr()))
	}
	return strings.Join(out, "\n"), nil
}

// bytes rendered per HexDump line
const dumpLineLen = 16

// HexDump renders mem as 16-byte lines: an address column sized for the
// target, hex grouped into target words, and a printable-ascii tail.
func HexDump(base uint64, mem []byte, bits int) []string {
	word := bits / 8
	groups := dumpLineLen / word
	hexWidth := dumpLineLen*2 + groups - 1

	var out []string
	for off := 0; off < len(mem); off += dumpLineLen {
		row := mem[off:]
		if len(row) > dumpLineLen {
			row = row[:dumpLineLen]
		}
		cols := make([]string, 0, groups)
		for i := 0; i < len(row); i += word {
			end := i + word
			if end > len(row) {
				end = len(row)
			}
			cols = append(cols, hex.EncodeToString(row[i:end]))
		}
		tail := make([]byte, len(row))
		for i, c := range row {
			if c >= 0x20 && c <= 0x7e {
				tail[i] = c
			} else {
				tail[i] = '.'
			}
		}
		out = append(out, fmt.Sprintf("0x%0*x: %-*s |%s|",
			bits/4, base+uint64(off), hexWidth, strings.Join(cols, " "), tail))
	}
	return out
}
