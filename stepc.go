// Package stepc ties the pipeline together: compile C source with an
// external compiler, parse the artifact, resolve function boundaries,
// build the memory image, patch relocations and hand the result to the
// step debugger. All state is owned by a Session; there are no globals.
package stepc

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/danielrmenzel/online-assembly-debugger/compile"
	engine "github.com/danielrmenzel/online-assembly-debugger/cpu"
	"github.com/danielrmenzel/online-assembly-debugger/cpu/unicorn"
	"github.com/danielrmenzel/online-assembly-debugger/cpu/x86sim"
	"github.com/danielrmenzel/online-assembly-debugger/exec"
	"github.com/danielrmenzel/online-assembly-debugger/image"
	"github.com/danielrmenzel/online-assembly-debugger/loader"
	"github.com/danielrmenzel/online-assembly-debugger/models"
	"github.com/danielrmenzel/online-assembly-debugger/models/cpu"
	"github.com/danielrmenzel/online-assembly-debugger/srcmap"
)

// Engines bundles the pluggable machine collaborators behind their
// narrow interfaces. The session never reaches past them.
type Engines struct {
	Cpu func() (cpu.Cpu, error)
	Dis models.Dis
	Asm models.Asm
}

// NativeEngines wires the hardware-accurate backends: unicorn for
// execution, capstone for disassembly, keystone for the asm command.
func NativeEngines(a *models.Arch) Engines {
	b := &unicorn.Builder{Arch: a.UC_ARCH, Mode: a.UC_MODE}
	return Engines{
		Cpu: b.New,
		Dis: &engine.Capstr{Arch: a.CS_ARCH, Mode: a.CS_MODE},
		Asm: &engine.Keystone{Arch: a.KS_ARCH, Mode: a.KS_MODE},
	}
}

// SimEngines wires the pure-Go interpreter, which doubles as its own
// disassembler. No assembler is available in this mode.
func SimEngines() Engines {
	b := &x86sim.Builder{}
	return Engines{Cpu: b.New, Dis: &x86sim.Dis{}}
}

// Session owns one loaded artifact end to end: the engine instance, the
// image, the function map and the debugger. Loading a new artifact tears
// the previous one down first.
type Session struct {
	Arch   *models.Arch
	Config *models.Config

	eng Engines
	cc  compile.Compiler

	c       cpu.Cpu
	file    *loader.File
	img     *image.Image
	funcs   *models.FuncMap
	dbg     *exec.Debugger
	lines   *srcmap.Mapping
	patched int
	diags   []string
}

func NewSession(a *models.Arch, eng Engines, conf *models.Config) *Session {
	if conf == nil {
		conf = &models.Config{}
	}
	conf.Init()
	return &Session{
		Arch:   a,
		Config: conf,
		eng:    eng,
		cc:     &compile.CC{Path: conf.Compiler},
	}
}

func (s *Session) diag(msg string) {
	s.diags = append(s.diags, msg)
	if s.Config.Verbose {
		os.Stderr.WriteString("session: " + msg + "\n")
	}
}

// CompileAndLoad compiles source as a freestanding static executable and
// loads it. When the link step fails (the usual case without a support
// library), it falls back to a relocatable object, whose missing link
// step the image builder and relocation resolver make up for.
func (s *Session) CompileAndLoad(ctx context.Context, source string) error {
	args := append(compile.LinkArgs(s.Arch.Bits), s.Config.CompilerArgs...)
	res, err := s.cc.Compile(ctx, source, args)
	if err != nil {
		return err
	}
	linkLog := ""
	if res.ExitCode != 0 {
		linkLog = strings.TrimSpace(res.Log)
		args = append(compile.ObjectArgs(s.Arch.Bits), s.Config.CompilerArgs...)
		if res, err = s.cc.Compile(ctx, source, args); err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return errors.Errorf("compile failed (exit %d):\n%s", res.ExitCode, res.Log)
		}
	}
	if err := s.Load(res.Output, nil); err != nil {
		return err
	}
	if linkLog != "" {
		s.diag("link failed, loaded as object: " + linkLog)
	}
	s.lines = srcmap.Correlate(source, s.funcs)
	return nil
}

// Load parses and maps an artifact and prepares the debugger at its
// entry. prior optionally carries function names from an earlier load of
// the same program, filling in names a stripped artifact lost. It is an
// optional cache, never required.
func (s *Session) Load(p []byte, prior *models.FuncMap) error {
	f, err := loader.Parse(p)
	if err != nil {
		return err
	}
	if f.Machine != s.Arch.Name {
		return errors.Errorf("artifact is %s, session is %s", f.Machine, s.Arch.Name)
	}
	s.teardown()

	c, err := s.eng.Cpu()
	if err != nil {
		return err
	}
	strategy := image.AsExec
	if f.Kind == loader.Object {
		strategy = image.AsObject
	}
	img, err := image.Build(c, f, strategy, s.Config)
	if err != nil {
		c.Close()
		return err
	}

	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		s.diag("symbol table unusable: " + err.Error())
	}
	if funcs.Len() == 0 {
		funcs = s.scanBoundaries(f, img)
	}
	if prior != nil {
		funcs = carryNames(funcs, prior)
	}

	patched := 0
	if f.Kind == loader.Object {
		if patched, err = img.Relocate(funcs); err != nil {
			img.Teardown()
			c.Close()
			return err
		}
	}

	// objects start at main when the symbol survives; linked executables
	// always enter at the header entry point
	entry := img.Entry
	if f.Kind == loader.Object {
		if addr, ok := funcs.Lookup("main"); ok {
			entry = addr
		}
	}
	dbg := exec.New(c, s.eng.Dis, s.Arch, f.Order, s.Config.StepLimit)
	if err := dbg.Init(entry, img.InitialSP); err != nil {
		img.Teardown()
		c.Close()
		return err
	}

	s.c, s.file, s.img, s.funcs, s.dbg = c, f, img, funcs, dbg
	s.patched = patched
	s.lines = nil
	return nil
}

// LoadFile is Load for an on-disk artifact.
func (s *Session) LoadFile(path string, prior *models.FuncMap) error {
	p, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.Load(p, prior)
}

// scanBoundaries is the fallback when no symbol table survived: detect
// frame-pointer prologues in the mapped text.
func (s *Session) scanBoundaries(f *loader.File, img *image.Image) *models.FuncMap {
	text := f.Section(".text")
	if text == nil {
		return nil
	}
	data, err := f.SectionData(text)
	if err != nil {
		return nil
	}
	funcs, err := loader.ScanPrologues(s.eng.Dis, data, img.TextBase)
	if err != nil {
		s.diag("prologue scan failed: " + err.Error())
		return nil
	}
	return funcs
}

// carryNames replaces synthetic sub_ labels with names from a prior load
// of the same program, paired by ordinal position.
func carryNames(funcs, prior *models.FuncMap) *models.FuncMap {
	if funcs.Len() == 0 {
		return funcs
	}
	old := prior.Funcs()
	out := make([]models.Symbol, 0, funcs.Len())
	for i, f := range funcs.Funcs() {
		if strings.HasPrefix(f.Name, "sub_") && i < len(old) {
			f.Name = old[i].Name
		}
		out = append(out, f)
	}
	return models.NewFuncMap(out)
}

func (s *Session) teardown() {
	if s.img != nil {
		s.img.Teardown()
	}
	if s.c != nil {
		s.c.Close()
	}
	s.c, s.file, s.img, s.funcs, s.dbg = nil, nil, nil, nil, nil
	s.patched = 0
	s.lines = nil
	s.diags = nil
}

// Close releases the engine and every mapping of the current load.
func (s *Session) Close() {
	s.teardown()
}

func (s *Session) Debugger() *exec.Debugger { return s.dbg }

func (s *Session) File() *loader.File { return s.file }

func (s *Session) Image() *image.Image { return s.img }

func (s *Session) Funcs() *models.FuncMap { return s.funcs }

func (s *Session) Lines() *srcmap.Mapping { return s.lines }

func (s *Session) Asm() models.Asm { return s.eng.Asm }

func (s *Session) Dis() models.Dis { return s.eng.Dis }

func (s *Session) Cpu() cpu.Cpu { return s.c }

// Patched reports how many relocation sites the last load rewrote.
func (s *Session) Patched() int { return s.patched }

// Diags returns everything recoverable that went wrong during the last
// load, session first, then image builder.
func (s *Session) Diags() []string {
	if s.img == nil {
		return s.diags
	}
	return append(append([]string{}, s.diags...), s.img.Diags...)
}
