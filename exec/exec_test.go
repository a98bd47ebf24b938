package exec

import (
	"context"
	"testing"

	"github.com/danielrmenzel/online-assembly-debugger/arch/x86_64"
	"github.com/danielrmenzel/online-assembly-debugger/cpu/x86sim"
	"github.com/danielrmenzel/online-assembly-debugger/image"
	"github.com/danielrmenzel/online-assembly-debugger/loader"
	"github.com/danielrmenzel/online-assembly-debugger/loader/elfgen"
)

var addText = []byte{
	0x55, 0x48, 0x89, 0xe5,
	0x89, 0x7d, 0xfc,
	0x89, 0x75, 0xf8,
	0x8b, 0x55, 0xfc,
	0x8b, 0x45, 0xf8,
	0x01, 0xd0,
	0x5d, 0xc3,
	0x55, 0x48, 0x89, 0xe5,
	0xbe, 0x19, 0x00, 0x00, 0x00,
	0xbf, 0x0f, 0x00, 0x00, 0x00,
	0xe8, 0x00, 0x00, 0x00, 0x00,
	0x5d, 0xc3,
}

// loads the add object into a fresh sim engine and returns a debugger
// paused at main
func setup(t *testing.T, limit int) (*Debugger, *image.Image) {
	b := &elfgen.Builder{
		Text: addText,
		Syms: []elfgen.Sym{
			{Name: "add", Value: 0, Size: 20, Func: true},
			{Name: "main", Value: 20, Size: 21, Func: true},
		},
		Relocs: []elfgen.Rel{{Off: 35, Sym: 1, Type: 4, Addend: -4}},
	}
	return setupProgram(t, b, "main", limit)
}

func setupProgram(t *testing.T, b *elfgen.Builder, entryName string, limit int) (*Debugger, *image.Image) {
	p, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	f, err := loader.Parse(p)
	if err != nil {
		t.Fatal(err)
	}
	c, err := (&x86sim.Builder{}).New()
	if err != nil {
		t.Fatal(err)
	}
	img, err := image.Build(c, f, image.AsObject, nil)
	if err != nil {
		t.Fatal(err)
	}
	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		t.Fatal(err)
	}
	if funcs.Len() > 0 {
		if _, err := img.Relocate(funcs); err != nil {
			t.Fatal(err)
		}
	}
	entry := img.Entry
	if addr, ok := funcs.Lookup(entryName); ok {
		entry = addr
	}
	d := New(c, &x86sim.Dis{}, x86_64.Arch, f.Order, limit)
	if err := d.Init(entry, img.InitialSP); err != nil {
		t.Fatal(err)
	}
	return d, img
}

func TestInitState(t *testing.T) {
	d, img := setup(t, 0)
	if d.Status() != Paused {
		t.Fatalf("expected paused after init, got %s", d.Status())
	}
	pc, err := d.PC()
	if err != nil {
		t.Fatal(err)
	}
	if pc != img.TextBase+20 {
		t.Fatalf("pc %#x is not main", pc)
	}
	sp, err := d.c.RegRead(x86_64.RSP)
	if err != nil {
		t.Fatal(err)
	}
	if sp != img.InitialSP {
		t.Fatalf("sp %#x is not the initial sp %#x", sp, img.InitialSP)
	}
}

func TestStepRecordsSnapshots(t *testing.T) {
	d, img := setup(t, 0)
	if err := d.Step(); err != nil {
		t.Fatal(err)
	}
	if d.Steps() != 1 || d.Trace().Len() != 1 {
		t.Fatalf("step not recorded: %d steps, %d records", d.Steps(), d.Trace().Len())
	}
	rec := d.Trace().Records[0]
	if rec.Mnemonic != "push" {
		t.Fatalf("first instruction of main should be push, got %s", rec.Mnemonic)
	}
	if rec.Pre.PC != img.TextBase+20 {
		t.Fatalf("pre-snapshot pc wrong: %#x", rec.Pre.PC)
	}
	if rec.Post.PC != rec.Pre.PC+uint64(len(rec.Bytes)) {
		t.Fatalf("post-snapshot pc wrong: %#x", rec.Post.PC)
	}
	if rec.Post.SP != rec.Pre.SP-8 {
		t.Fatal("push did not move the stack pointer in the snapshots")
	}
}

func TestRunToCompletion(t *testing.T) {
	d, _ := setup(t, 0)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Status() != Halted || d.Reason() != Completed {
		t.Fatalf("expected clean completion, got %s/%s", d.Status(), d.Reason())
	}
	acc, err := d.Acc()
	if err != nil {
		t.Fatal(err)
	}
	if acc != 40 {
		t.Fatalf("add(15, 25) returned %d", acc)
	}
}

func TestRunCeiling(t *testing.T) {
	// a two-byte infinite loop
	b := &elfgen.Builder{Text: []byte{0xeb, 0xfe}}
	d, _ := setupProgram(t, b, "", 50)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Reason() != LimitReached {
		t.Fatalf("expected the ceiling, got %s", d.Reason())
	}
	if d.Steps() != 50 {
		t.Fatalf("ran %d steps past a limit of 50", d.Steps())
	}
}

func TestBreakpoint(t *testing.T) {
	d, img := setup(t, 0)
	addAddr := img.TextBase // add is the first function
	d.AddBreak(addAddr)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Reason() != Breakpoint {
		t.Fatalf("expected a breakpoint, got %s", d.Reason())
	}
	pc, err := d.PC()
	if err != nil {
		t.Fatal(err)
	}
	if pc != addAddr {
		t.Fatalf("halted at %#x, not the breakpoint %#x", pc, addAddr)
	}
}

func TestBreakpointOnTrampoline(t *testing.T) {
	d, img := setup(t, 0)
	d.AddBreak(img.Trampoline)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// reaching the halt byte is completion even with a breakpoint on it
	if d.Reason() != Completed {
		t.Fatalf("expected completion, got %s", d.Reason())
	}
}

func TestResumeAfterBreakpoint(t *testing.T) {
	d, img := setup(t, 0)
	d.AddBreak(img.TextBase)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Reason() != Completed {
		t.Fatalf("second run should complete, got %s", d.Reason())
	}
	if acc, _ := d.Acc(); acc != 40 {
		t.Fatalf("wrong result %d after resume", acc)
	}
}

func TestStepOutsidePaused(t *testing.T) {
	d, _ := setup(t, 0)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Step(); err == nil {
		t.Fatal("step while halted should fail")
	}
}

func TestReset(t *testing.T) {
	d, img := setup(t, 0)
	d.AddBreak(img.TextBase)
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	if d.Status() != Paused || d.Steps() != 0 || d.Trace().Len() != 0 {
		t.Fatal("reset did not clear the run state")
	}
	pc, err := d.PC()
	if err != nil {
		t.Fatal(err)
	}
	if pc != img.TextBase+20 {
		t.Fatalf("reset left pc at %#x", pc)
	}
	if len(d.Breaks()) != 1 {
		t.Fatal("breakpoints should survive a reset")
	}
	// the program replays identically
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Reason() != Breakpoint {
		t.Fatalf("replay diverged: %s", d.Reason())
	}
}

func TestCancelledContext(t *testing.T) {
	d, _ := setup(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if d.Status() != Paused {
		t.Fatalf("cancelled run should pause, got %s", d.Status())
	}
	if d.Steps() != 0 {
		t.Fatalf("cancelled before start but ran %d steps", d.Steps())
	}
}

func TestFault(t *testing.T) {
	// call into unmapped memory: e8 with a large displacement
	b := &elfgen.Builder{Text: []byte{0xe8, 0x00, 0x10, 0x00, 0x00}}
	d, _ := setupProgram(t, b, "", 0)
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected a fault error")
	}
	if d.Status() != Halted || d.Reason() != Fault {
		t.Fatalf("expected a fault halt, got %s/%s", d.Status(), d.Reason())
	}
	if d.FaultAddr() == 0 {
		t.Fatal("fault address not recorded")
	}
}
