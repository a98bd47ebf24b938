package main

import (
	"flag"
	"fmt"
	"os"

	stepc "github.com/danielrmenzel/online-assembly-debugger"
	"github.com/danielrmenzel/online-assembly-debugger/arch"
	"github.com/danielrmenzel/online-assembly-debugger/models"
	"github.com/danielrmenzel/online-assembly-debugger/repl"
)

func main() {
	fs := flag.NewFlagSet("stepc", flag.ExitOnError)
	archName := fs.String("arch", "x86_64", "target architecture (x86, x86_64)")
	engineName := fs.String("engine", "native", "execution engine (native, sim)")
	cc := fs.String("cc", "cc", "C compiler binary")
	verbose := fs.Bool("v", false, "verbose diagnostics")
	color := fs.Bool("color", true, "colored register diffs")
	limit := fs.Int("limit", models.DefaultStepLimit, "instruction ceiling per run")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [artifact]\n", os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	a, err := arch.GetArch(*archName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	conf := (&models.Config{
		Color:     *color,
		Verbose:   *verbose,
		Compiler:  *cc,
		StepLimit: *limit,
	}).Init()

	var eng stepc.Engines
	switch *engineName {
	case "native":
		eng = stepc.NativeEngines(a)
	case "sim":
		if a.Bits != 64 {
			fmt.Fprintln(os.Stderr, "Error: the sim engine is x86_64 only")
			os.Exit(1)
		}
		eng = stepc.SimEngines()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown engine %q\n", *engineName)
		os.Exit(1)
	}

	s := stepc.NewSession(a, eng, conf)
	defer s.Close()

	if fs.NArg() > 0 {
		if err := s.LoadFile(fs.Arg(0), nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	r, err := repl.New(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := r.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
