// Package repl is the interactive front end: a readline loop over a
// stepc.Session with commands for loading, stepping, breakpoints and
// inspection.
package repl

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	stepc "github.com/danielrmenzel/online-assembly-debugger"
	"github.com/danielrmenzel/online-assembly-debugger/exec"
	"github.com/danielrmenzel/online-assembly-debugger/models"
)

type Repl struct {
	s  *stepc.Session
	rl *readline.Instance

	diff *models.StatusDiff

	// collected while the compile command reads source lines
	collect []string
}

func New(s *stepc.Session) (*Repl, error) {
	configDirs := configdir.New("stepc", "repl")
	cacheDir := configDirs.QueryCacheFolder()
	historyPath := ""
	if err := cacheDir.MkdirAll(); err == nil {
		historyPath = filepath.Join(cacheDir.Path, "history")
	}
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "\n",
		HistoryFile:     historyPath,
	})
	if err != nil {
		return nil, err
	}
	return &Repl{
		s:    s,
		rl:   rl,
		diff: &models.StatusDiff{Arch: s.Arch, Color: s.Config.Color},
	}, nil
}

func (r *Repl) setPrompt() {
	if r.collect != nil {
		r.rl.SetPrompt("... ")
		return
	}
	if d := r.s.Debugger(); d != nil {
		if pc, err := d.PC(); err == nil {
			r.rl.SetPrompt(fmt.Sprintf("%#x> ", pc))
			return
		}
	}
	r.rl.SetPrompt("> ")
}

func (r *Repl) Run() error {
	defer r.rl.Close()
	r.setPrompt()
	for {
		ln := r.rl.Line()
		if ln.Error == readline.ErrInterrupt {
			r.collect = nil
			r.setPrompt()
			continue
		} else if ln.Error == io.EOF {
			return nil
		} else if ln.Error != nil {
			return ln.Error
		}
		if r.collect != nil {
			if strings.TrimSpace(ln.Line) == "." {
				src := strings.Join(r.collect[1:], "\n")
				r.collect = nil
				r.compile(src)
			} else {
				r.collect = append(r.collect, ln.Line)
			}
			r.setPrompt()
			continue
		}
		if quit := r.dispatch(strings.Fields(ln.Line)); quit {
			return nil
		}
		r.setPrompt()
	}
}

func (r *Repl) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.rl.Stderr(), format, args...)
}

func (r *Repl) dispatch(args []string) bool {
	if len(args) == 0 {
		return false
	}
	cmd, args := args[0], args[1:]
	var err error
	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		r.help()
	case "compile":
		// collect source until a lone "."
		r.collect = []string{""}
	case "load":
		err = r.load(args)
	case "step", "s":
		err = r.step(args)
	case "run", "r", "continue", "c":
		err = r.run()
	case "break", "b":
		err = r.breakCmd(args, true)
	case "delete", "d":
		err = r.breakCmd(args, false)
	case "breaks":
		err = r.breaks()
	case "regs":
		err = r.regs()
	case "stack":
		err = r.stack(args)
	case "dis":
		err = r.disCmd(args)
	case "trace":
		err = r.traceCmd()
	case "funcs":
		err = r.funcsCmd()
	case "lines":
		err = r.linesCmd()
	case "diags":
		for _, d := range r.s.Diags() {
			r.printf("%s\n", d)
		}
	case "reset":
		err = r.withDebugger(func(d *exec.Debugger) error { return d.Reset() })
		r.diff.Reset()
	case "asm":
		err = r.asmCmd(args)
	default:
		r.printf("unknown command %q, try help\n", cmd)
	}
	if err != nil {
		r.printf("error: %v\n", err)
	}
	return false
}

func (r *Repl) help() {
	r.printf(`compile          read C source lines, "." compiles and loads
load <path>      load an ELF artifact from disk
step [n]         execute n instructions (default 1)
run              run until halt, breakpoint or step ceiling
break <at>       set breakpoint at address or function name
delete <at>      clear breakpoint
breaks           list breakpoints
regs             dump registers
stack [n]        hexdump n words from the stack top
dis [at [n]]     disassemble n bytes (default 32 at pc)
trace            print the step trace
funcs            list function boundaries
lines            show the source line correlation
diags            show load diagnostics
reset            back to entry, keeping breakpoints
asm <at> <code>  assemble and patch at address
quit
`)
}

func (r *Repl) withDebugger(f func(*exec.Debugger) error) error {
	d := r.s.Debugger()
	if d == nil {
		return errors.New("nothing loaded")
	}
	return f(d)
}

// resolve turns a function name or numeric literal into an address.
func (r *Repl) resolve(s string) (uint64, error) {
	if addr, ok := r.s.Funcs().Lookup(s); ok {
		return addr, nil
	}
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Errorf("no function or address %q", s)
	}
	return addr, nil
}

func (r *Repl) compile(src string) {
	if err := r.s.CompileAndLoad(context.Background(), src); err != nil {
		r.printf("error: %v\n", err)
		return
	}
	r.diff.Reset()
	r.loadReport()
}

func (r *Repl) load(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: load <path>")
	}
	if err := r.s.LoadFile(args[0], r.s.Funcs()); err != nil {
		return err
	}
	r.diff.Reset()
	r.loadReport()
	return nil
}

func (r *Repl) loadReport() {
	img := r.s.Image()
	r.printf("entry %#x, stack %#x, sp %#x\n", img.Entry, img.StackBase, img.InitialSP)
	if img.Trampoline != 0 {
		r.printf("return trampoline %#x\n", img.Trampoline)
	}
	if n := r.s.Patched(); n > 0 {
		r.printf("%d relocation(s) patched\n", n)
	}
	for _, d := range r.s.Diags() {
		r.printf("warning: %s\n", d)
	}
}

func (r *Repl) status(d *exec.Debugger) {
	changes, err := r.diff.Changes(r.s.Cpu())
	if err == nil {
		r.diff.Print(r.rl.Stderr(), changes)
	}
	if d.Status() == exec.Halted {
		r.printf("%s after %d step(s)\n", d.Reason(), d.Steps())
		if acc, err := d.Acc(); err == nil {
			r.printf("accumulator %#x (%d)\n", acc, acc)
		}
		if d.Reason() == exec.Fault {
			r.printf("fault address %#x\n", d.FaultAddr())
		}
	}
}

func (r *Repl) step(args []string) error {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n < 1 {
			return errors.New("usage: step [n]")
		}
	}
	return r.withDebugger(func(d *exec.Debugger) error {
		for i := 0; i < n; i++ {
			if err := d.Step(); err != nil {
				return err
			}
			if rec := last(d.Trace()); rec != nil {
				r.printf("%s\n", rec)
			}
			if d.Status() != exec.Paused {
				break
			}
		}
		r.status(d)
		return nil
	})
}

func last(t *models.Trace) *models.StepRecord {
	if t.Len() == 0 {
		return nil
	}
	return t.Records[t.Len()-1]
}

func (r *Repl) run() error {
	return r.withDebugger(func(d *exec.Debugger) error {
		if err := d.Run(context.Background()); err != nil {
			return err
		}
		r.status(d)
		return nil
	})
}

func (r *Repl) breakCmd(args []string, set bool) error {
	if len(args) != 1 {
		return errors.New("usage: break|delete <addr|name>")
	}
	addr, err := r.resolve(args[0])
	if err != nil {
		return err
	}
	return r.withDebugger(func(d *exec.Debugger) error {
		if set {
			d.AddBreak(addr)
		} else {
			d.DelBreak(addr)
		}
		return nil
	})
}

func (r *Repl) breaks() error {
	return r.withDebugger(func(d *exec.Debugger) error {
		for _, addr := range d.Breaks() {
			if name := r.s.Funcs().Symbolicate(addr); name != "" {
				r.printf("%#x %s\n", addr, name)
			} else {
				r.printf("%#x\n", addr)
			}
		}
		return nil
	})
}

func (r *Repl) regs() error {
	if r.s.Cpu() == nil {
		return errors.New("nothing loaded")
	}
	regs, err := r.s.Arch.RegDump(r.s.Cpu())
	if err != nil {
		return err
	}
	for _, rv := range regs {
		r.printf("%-8s %0*x\n", rv.Name, r.s.Arch.Bits/4, rv.Val)
	}
	return nil
}

func (r *Repl) stack(args []string) error {
	words := 8
	if len(args) > 0 {
		var err error
		if words, err = strconv.Atoi(args[0]); err != nil || words < 1 {
			return errors.New("usage: stack [words]")
		}
	}
	if r.s.Cpu() == nil {
		return errors.New("nothing loaded")
	}
	sp, err := r.s.Cpu().RegRead(r.s.Arch.SP)
	if err != nil {
		return err
	}
	size := uint64(words * r.s.Arch.Bits / 8)
	mem, err := r.s.Cpu().MemRead(sp, size)
	if err != nil {
		return err
	}
	for _, line := range models.HexDump(sp, mem, r.s.Arch.Bits) {
		r.printf("%s\n", line)
	}
	return nil
}

func (r *Repl) disCmd(args []string) error {
	if r.s.Cpu() == nil {
		return errors.New("nothing loaded")
	}
	var addr uint64
	size := uint64(32)
	var err error
	if len(args) > 0 {
		if addr, err = r.resolve(args[0]); err != nil {
			return err
		}
	} else if addr, err = r.s.Cpu().RegRead(r.s.Arch.PC); err != nil {
		return err
	}
	if len(args) > 1 {
		if size, err = strconv.ParseUint(args[1], 0, 32); err != nil {
			return errors.New("usage: dis [addr [len]]")
		}
	}
	mem, err := r.s.Cpu().MemRead(addr, size)
	if err != nil {
		return err
	}
	listing, err := models.Disas(r.s.Dis(), mem, addr, true)
	if err != nil {
		return err
	}
	r.printf("%s", listing)
	return nil
}

func (r *Repl) traceCmd() error {
	return r.withDebugger(func(d *exec.Debugger) error {
		for _, rec := range d.Trace().Records {
			if name := r.s.Funcs().Symbolicate(rec.Addr); name != "" {
				r.printf("%-24s %s\n", name, rec)
			} else {
				r.printf("%s\n", rec)
			}
		}
		return nil
	})
}

func (r *Repl) funcsCmd() error {
	for _, f := range r.s.Funcs().Funcs() {
		r.printf("%#x-%#x %s\n", f.Start, f.End, f.Name)
	}
	return nil
}

func (r *Repl) linesCmd() error {
	m := r.s.Lines()
	if m == nil || len(m.Ranges) == 0 {
		r.printf("no source correlation\n")
		return nil
	}
	r.printf("confidence: %s\n", m.Confidence)
	for _, lr := range m.Ranges {
		r.printf("%#x-%#x %s lines %d-%d\n", lr.Start, lr.End, lr.Name, lr.StartLine, lr.EndLine)
	}
	return nil
}

func (r *Repl) asmCmd(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: asm <addr> <code>")
	}
	if r.s.Asm() == nil {
		return errors.New("no assembler in this engine")
	}
	addr, err := r.resolve(args[0])
	if err != nil {
		return err
	}
	code, err := r.s.Asm().Asm(strings.Join(args[1:], " "), addr)
	if err != nil {
		return err
	}
	if r.s.Cpu() == nil {
		return errors.New("nothing loaded")
	}
	if err := r.s.Cpu().MemWrite(addr, code); err != nil {
		return err
	}
	r.printf("%d byte(s) written at %#x\n", len(code), addr)
	return nil
}
