// Package compile wraps the external C compiler. The compiler is an
// opaque collaborator: source text in, exit code and output bytes out.
package compile

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

type Result struct {
	// the collaborator's process exit code; zero means success
	ExitCode int
	// the produced object or executable bytes, valid when ExitCode == 0
	Output []byte
	// compiler diagnostics, for display on failure
	Log string
}

type Compiler interface {
	Compile(ctx context.Context, source string, args []string) (*Result, error)
}

// CC drives a command-line C compiler in a throwaway workspace.
type CC struct {
	// compiler binary, "cc" when empty
	Path string
}

func (c *CC) Compile(ctx context.Context, source string, args []string) (*Result, error) {
	path := c.Path
	if path == "" {
		path = "cc"
	}
	dir, err := os.MkdirTemp("", "oadbg")
	if err != nil {
		return nil, errors.Wrap(err, "workspace failed")
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.c")
	if err := os.WriteFile(src, []byte(source), 0644); err != nil {
		return nil, errors.Wrap(err, "source write failed")
	}
	out := filepath.Join(dir, "out.bin")

	argv := append(append([]string{}, args...), "-o", out, src)
	cmd := exec.CommandContext(ctx, path, argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	res := &Result{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Log = stderr.String()
			return res, nil
		}
		return nil, errors.Wrapf(err, "running %s failed", path)
	}
	res.Log = stderr.String()
	res.Output, err = os.ReadFile(out)
	if err != nil {
		return nil, errors.Wrap(err, "output read failed")
	}
	return res, nil
}

func machFlag(bits int) string {
	if bits == 32 {
		return "-m32"
	}
	return "-m64"
}

// ObjectArgs compiles to a relocatable object, the artifact the fallback
// load path expects.
func ObjectArgs(bits int) []string {
	return []string{"-c", "-O0", machFlag(bits)}
}

// LinkArgs produces a freestanding static executable entered at main, so
// execution needs no runtime support.
func LinkArgs(bits int) []string {
	return []string{"-nostdlib", "-static", "-O0", machFlag(bits), "-Wl,-e,main"}
}
