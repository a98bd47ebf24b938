// Package srcmap pairs C source functions with disassembled function
// boundaries by ordinal position. It is heuristic and best-effort: its
// output decorates a UI, and its failures are silence, never errors.
package srcmap

import (
	"strings"

	"github.com/danielrmenzel/online-assembly-debugger/models"
)

// Confidence tag carried by every mapping this package produces.
const Confidence = "best-effort"

var controlKeywords = []string{"if", "while", "for", "switch"}

// SourceFunc is one function detected in C source text, lines 1-based and
// inclusive.
type SourceFunc struct {
	Name      string
	StartLine int
	EndLine   int
}

// LineRange maps an instruction address range to source lines.
type LineRange struct {
	Name               string
	Start, End         uint64
	StartLine, EndLine int
}

type Mapping struct {
	Confidence string
	Ranges     []LineRange
}

func isControlLine(line string) bool {
	for _, kw := range controlKeywords {
		if i := strings.Index(line, kw); i >= 0 {
			before := i == 0 || !isIdent(line[i-1])
			after := i+len(kw) >= len(line) || !isIdent(line[i+len(kw)])
			if before && after {
				return true
			}
		}
	}
	return false
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func funcName(line string) string {
	paren := strings.IndexByte(line, '(')
	if paren <= 0 {
		return ""
	}
	head := strings.TrimRight(line[:paren], " \t")
	start := len(head)
	for start > 0 && isIdent(head[start-1]) {
		start--
	}
	return head[start:]
}

// ScanSource walks the source line by line: a line holding both an opening
// parenthesis and an opening brace, and no control-flow keyword, opens a
// function; it closes when brace depth returns to zero.
func ScanSource(src string) []SourceFunc {
	var out []SourceFunc
	depth := 0
	var cur *SourceFunc
	for i, line := range strings.Split(src, "\n") {
		lineNo := i + 1
		if cur == nil {
			if strings.ContainsRune(line, '(') && strings.ContainsRune(line, '{') && !isControlLine(line) {
				cur = &SourceFunc{Name: funcName(line), StartLine: lineNo}
				depth = 0
			} else {
				continue
			}
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 {
			cur.EndLine = lineNo
			out = append(out, *cur)
			cur = nil
		}
	}
	return out
}

// Correlate pairs source functions with assembly boundaries by ordinal
// position. Mismatched counts still pair up to the shorter length.
func Correlate(src string, funcs *models.FuncMap) *Mapping {
	srcFuncs := ScanSource(src)
	asmFuncs := funcs.Funcs()
	n := len(srcFuncs)
	if len(asmFuncs) < n {
		n = len(asmFuncs)
	}
	m := &Mapping{Confidence: Confidence}
	for i := 0; i < n; i++ {
		m.Ranges = append(m.Ranges, LineRange{
			Name:      asmFuncs[i].Name,
			Start:     asmFuncs[i].Start,
			End:       asmFuncs[i].End,
			StartLine: srcFuncs[i].StartLine,
			EndLine:   srcFuncs[i].EndLine,
		})
	}
	return m
}

// Lookup maps an instruction address to its source line range, when known.
func (m *Mapping) Lookup(addr uint64) (LineRange, bool) {
	if m == nil {
		return LineRange{}, false
	}
	for _, r := range m.Ranges {
		if addr >= r.Start && (addr < r.End || r.End == 0) {
			return r, true
		}
	}
	return LineRange{}, false
}
