package image

import (
	"encoding/binary"
	"testing"

	"github.com/danielrmenzel/online-assembly-debugger/loader"
	"github.com/danielrmenzel/online-assembly-debugger/loader/elfgen"
)

// five functions where p1 calls p2 calls ... calls p5; each adds 5 to the
// callee's return and p5 returns 5, so the chain computes 25 through
// exactly four patched call sites.
func chainBuilder() *elfgen.Builder {
	link := []byte{
		0x55, 0x48, 0x89, 0xe5, // push rbp; mov rbp, rsp
		0xe8, 0x00, 0x00, 0x00, 0x00, // call next
		0x83, 0xc0, 0x05, // add eax, 5
		0x5d, 0xc3, // pop rbp; ret
	}
	leaf := []byte{
		0x55, 0x48, 0x89, 0xe5,
		0xb8, 0x05, 0x00, 0x00, 0x00, // mov eax, 5
		0x5d, 0xc3,
	}
	var text []byte
	for i := 0; i < 4; i++ {
		text = append(text, link...)
	}
	text = append(text, leaf...)

	b := &elfgen.Builder{Text: text}
	names := []string{"p1", "p2", "p3", "p4", "p5"}
	for i, name := range names {
		size := uint64(len(link))
		if i == 4 {
			size = uint64(len(leaf))
		}
		b.Syms = append(b.Syms, elfgen.Sym{
			Name: name, Value: uint64(i * len(link)), Size: size, Func: true,
		})
	}
	for i := 0; i < 4; i++ {
		b.Relocs = append(b.Relocs, elfgen.Rel{
			Off:    uint64(i*len(link) + 5),
			Sym:    uint32(i + 2), // p(i+2) in the symbol table
			Type:   4,             // R_X86_64_PLT32
			Addend: -4,
		})
	}
	return b
}

func buildObject(t *testing.T, b *elfgen.Builder) (*Image, *loader.File) {
	f := loadFixture(t, b)
	img, err := Build(newCpu(t), f, AsObject, nil)
	if err != nil {
		t.Fatal(err)
	}
	return img, f
}

func TestRelocateChain(t *testing.T) {
	img, f := buildObject(t, chainBuilder())
	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		t.Fatal(err)
	}
	patched, err := img.Relocate(funcs)
	if err != nil {
		t.Fatal(err)
	}
	if patched != 4 {
		t.Fatalf("expected exactly 4 patches, got %d", patched)
	}
	// first call site: displacement to p2 measured from the field end
	buf, err := img.c.MemRead(img.TextBase+5, 4)
	if err != nil {
		t.Fatal(err)
	}
	disp := int32(binary.LittleEndian.Uint32(buf))
	p2, _ := funcs.Lookup("p2")
	if target := img.TextBase + 9 + uint64(int64(disp)); target != p2 {
		t.Fatalf("patched call lands at %#x, p2 is %#x", target, p2)
	}
}

func TestRelocateIdempotent(t *testing.T) {
	img, f := buildObject(t, chainBuilder())
	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := img.Relocate(funcs); err != nil {
		t.Fatal(err)
	}
	before, err := img.c.MemRead(img.TextBase, uint64(len(chainBuilder().Text)))
	if err != nil {
		t.Fatal(err)
	}
	again, err := img.Relocate(funcs)
	if err != nil {
		t.Fatal(err)
	}
	if again != 4 {
		t.Fatalf("second pass patched %d sites", again)
	}
	after, err := img.c.MemRead(img.TextBase, uint64(len(before)))
	if err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("byte %d changed on the second pass", i)
		}
	}
}

func TestRelocateUnresolved(t *testing.T) {
	b := addBuilder()
	b.Syms = append(b.Syms, elfgen.Sym{Name: "printf", Func: true, Undef: true})
	b.Relocs = append(b.Relocs, elfgen.Rel{Off: callDisp, Sym: 3, Type: 4, Addend: -4})
	img, f := buildObject(t, b)
	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		t.Fatal(err)
	}
	patched, err := img.Relocate(funcs)
	if err != nil {
		t.Fatal(err)
	}
	if patched != 1 {
		t.Fatalf("expected 1 patch with the unresolved entry skipped, got %d", patched)
	}
	if len(img.Diags) == 0 {
		t.Fatal("unresolved symbol produced no diagnostic")
	}
}

func TestRelocateUnsupportedType(t *testing.T) {
	b := addBuilder()
	b.Relocs = []elfgen.Rel{{Off: callDisp, Sym: 1, Type: 9, Addend: -4}} // R_X86_64_GOTPCREL
	img, f := buildObject(t, b)
	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		t.Fatal(err)
	}
	patched, err := img.Relocate(funcs)
	if err != nil {
		t.Fatal(err)
	}
	if patched != 0 {
		t.Fatalf("unsupported type was patched %d times", patched)
	}
	if len(img.Diags) == 0 {
		t.Fatal("unsupported type produced no diagnostic")
	}
}

func TestRelocateAbs32(t *testing.T) {
	b := addBuilder()
	b.Relocs = []elfgen.Rel{{Off: callDisp, Sym: 1, Type: 10}} // R_X86_64_32
	img, f := buildObject(t, b)
	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		t.Fatal(err)
	}
	patched, err := img.Relocate(funcs)
	if err != nil {
		t.Fatal(err)
	}
	if patched != 1 {
		t.Fatalf("expected 1 patch, got %d", patched)
	}
	buf, err := img.c.MemRead(img.TextBase+callDisp, 4)
	if err != nil {
		t.Fatal(err)
	}
	addr, _ := funcs.Lookup("add")
	if got := uint64(binary.LittleEndian.Uint32(buf)); got != addr {
		t.Fatalf("absolute patch wrote %#x, add is %#x", got, addr)
	}
}

func TestRelocateNoSection(t *testing.T) {
	b := addBuilder()
	b.Relocs = nil
	img, f := buildObject(t, b)
	funcs, err := loader.Functions(f, img.TextBase)
	if err != nil {
		t.Fatal(err)
	}
	patched, err := img.Relocate(funcs)
	if err != nil {
		t.Fatal(err)
	}
	if patched != 0 {
		t.Fatalf("patched %d sites with no relocation section", patched)
	}
}
