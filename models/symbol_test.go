package models

import "testing"

func testMap() *FuncMap {
	return NewFuncMap([]Symbol{
		{Name: "main", Start: 0x100014, End: 0x100029},
		{Name: "add", Start: 0x100000, End: 0x100014},
	})
}

func TestFuncMapOrdering(t *testing.T) {
	fm := testMap()
	funcs := fm.Funcs()
	if funcs[0].Name != "add" || funcs[1].Name != "main" {
		t.Fatalf("not address ordered: %+v", funcs)
	}
}

func TestFuncMapAt(t *testing.T) {
	fm := testMap()
	f, ok := fm.At(0x100016)
	if !ok || f.Name != "main" {
		t.Fatalf("wrong containment: %+v %v", f, ok)
	}
	if _, ok := fm.At(0x100030); ok {
		t.Fatal("address past the last function contained")
	}
	if _, ok := fm.At(0xff); ok {
		t.Fatal("address before the first function contained")
	}
}

func TestFuncMapOpenEnd(t *testing.T) {
	fm := NewFuncMap([]Symbol{{Name: "loop", Start: 0x1000}})
	f, ok := fm.At(0x2000)
	if !ok || f.Name != "loop" {
		t.Fatal("zero end should contain everything after start")
	}
}

func TestSymbolicate(t *testing.T) {
	fm := testMap()
	if s := fm.Symbolicate(0x100014); s != "main" {
		t.Fatalf("start address: %q", s)
	}
	if s := fm.Symbolicate(0x100018); s != "main+0x4" {
		t.Fatalf("offset address: %q", s)
	}
	if s := fm.Symbolicate(0x900000); s != "" {
		t.Fatalf("unknown address: %q", s)
	}
}

func TestFuncMapNil(t *testing.T) {
	var fm *FuncMap
	if fm.Len() != 0 {
		t.Fatal("nil map has entries")
	}
	if _, ok := fm.Lookup("main"); ok {
		t.Fatal("nil map resolved a name")
	}
	if _, ok := fm.At(0); ok {
		t.Fatal("nil map contained an address")
	}
}
