package srcmap

import (
	"testing"

	"github.com/danielrmenzel/online-assembly-debugger/models"
)

const addSource = `int add(int a, int b) {
    int sum = a + b;
    return sum;
}

int main() {
    int result = add(15, 25);
    return result;
}
`

func TestScanSource(t *testing.T) {
	funcs := ScanSource(addSource)
	if len(funcs) != 2 {
		t.Fatalf("expected 2 functions, got %d: %+v", len(funcs), funcs)
	}
	if funcs[0].Name != "add" || funcs[0].StartLine != 1 || funcs[0].EndLine != 4 {
		t.Fatalf("add scanned wrong: %+v", funcs[0])
	}
	if funcs[1].Name != "main" || funcs[1].StartLine != 6 || funcs[1].EndLine != 9 {
		t.Fatalf("main scanned wrong: %+v", funcs[1])
	}
}

func TestScanSourceSkipsControlFlow(t *testing.T) {
	src := `int count(int n) {
    int total = 0;
    while (n > 0) {
        total += n;
        n--;
    }
    for (int i = 0; i < 3; i++) {
        total++;
    }
    return total;
}
`
	funcs := ScanSource(src)
	if len(funcs) != 1 || funcs[0].Name != "count" {
		t.Fatalf("control flow mistaken for a function: %+v", funcs)
	}
	if funcs[0].EndLine != 11 {
		t.Fatalf("nested braces closed early: %+v", funcs[0])
	}
}

func TestScanSourceKeywordPrefix(t *testing.T) {
	// "iffy" contains "if" but is an identifier
	src := `int iffy(int x) {
    return x;
}
`
	funcs := ScanSource(src)
	if len(funcs) != 1 || funcs[0].Name != "iffy" {
		t.Fatalf("identifier with keyword prefix rejected: %+v", funcs)
	}
}

func TestCorrelate(t *testing.T) {
	fm := models.NewFuncMap([]models.Symbol{
		{Name: "add", Start: 0x100000, End: 0x100014},
		{Name: "main", Start: 0x100014, End: 0x100029},
	})
	m := Correlate(addSource, fm)
	if m.Confidence != Confidence {
		t.Fatalf("wrong confidence %q", m.Confidence)
	}
	if len(m.Ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(m.Ranges))
	}
	lr, ok := m.Lookup(0x100016)
	if !ok {
		t.Fatal("address inside main not mapped")
	}
	if lr.Name != "main" || lr.StartLine != 6 || lr.EndLine != 9 {
		t.Fatalf("wrong range: %+v", lr)
	}
	if _, ok := m.Lookup(0x200000); ok {
		t.Fatal("address outside every function mapped")
	}
}

func TestCorrelateMismatchedCounts(t *testing.T) {
	fm := models.NewFuncMap([]models.Symbol{
		{Name: "sub_100000", Start: 0x100000, End: 0x100014},
	})
	m := Correlate(addSource, fm)
	if len(m.Ranges) != 1 {
		t.Fatalf("should pair up to the shorter count, got %d", len(m.Ranges))
	}
}

func TestLookupNil(t *testing.T) {
	var m *Mapping
	if _, ok := m.Lookup(0x100000); ok {
		t.Fatal("nil mapping resolved an address")
	}
}
