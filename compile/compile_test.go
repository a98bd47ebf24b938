package compile

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writes an executable stand-in for the compiler
func stubCC(t *testing.T, script string) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	path := filepath.Join(t.TempDir(), "cc")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompileSuccess(t *testing.T) {
	// copy the source to the output so the result is observable
	cc := &CC{Path: stubCC(t, `
while [ $# -gt 1 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
cp "$1" "$out"
`)}
	res, err := cc.Compile(context.Background(), "int main() { return 0; }", ObjectArgs(64))
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit %d: %s", res.ExitCode, res.Log)
	}
	if string(res.Output) != "int main() { return 0; }" {
		t.Fatalf("wrong output %q", res.Output)
	}
}

func TestCompileFailure(t *testing.T) {
	cc := &CC{Path: stubCC(t, `
echo "input.c:1: error: expected expression" >&2
exit 1
`)}
	res, err := cc.Compile(context.Background(), "int main() {", ObjectArgs(64))
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 1 {
		t.Fatalf("expected exit 1, got %d", res.ExitCode)
	}
	if res.Log == "" {
		t.Fatal("compiler diagnostics lost")
	}
	if res.Output != nil {
		t.Fatal("failed compile produced output")
	}
}

func TestCompileMissingBinary(t *testing.T) {
	cc := &CC{Path: filepath.Join(t.TempDir(), "no-such-cc")}
	if _, err := cc.Compile(context.Background(), "int main() { return 0; }", ObjectArgs(64)); err == nil {
		t.Fatal("expected an error for a missing compiler")
	}
}

func TestCompileCancelled(t *testing.T) {
	cc := &CC{Path: stubCC(t, "sleep 10\n")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cc.Compile(ctx, "int main() { return 0; }", ObjectArgs(64)); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestArgPresets(t *testing.T) {
	obj := ObjectArgs(32)
	if obj[0] != "-c" || obj[len(obj)-1] != "-m32" {
		t.Fatalf("wrong object args %v", obj)
	}
	link := LinkArgs(64)
	hasEntry := false
	for _, a := range link {
		if a == "-Wl,-e,main" {
			hasEntry = true
		}
	}
	if !hasEntry {
		t.Fatalf("link args missing the entry override: %v", link)
	}
}
