package lua

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestToGoValueScalars(t *testing.T) {
	s := NewState()
	defer s.Close()
	b := NewBridge(s.L)

	tests := []struct {
		in   lua.LValue
		want any
	}{
		{lua.LNil, nil},
		{lua.LBool(true), true},
		{lua.LNumber(3), int64(3)},
		{lua.LNumber(3.5), 3.5},
		{lua.LString("hi"), "hi"},
	}

	for _, tt := range tests {
		if got := b.ToGoValue(tt.in); got != tt.want {
			t.Errorf("ToGoValue(%v) = %v (%T), want %v", tt.in, got, got, tt.want)
		}
	}
}

func TestToGoValueArrayTable(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`arr = {"a", "b", "c"}`); err != nil {
		t.Fatal(err)
	}
	b := NewBridge(s.L)

	got := b.ToGoValue(s.GetGlobal("arr"))
	want := []any{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGoValue(arr) = %v, want %v", got, want)
	}
}

func TestToGoValueMapTable(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`m = {name = "toc", installed = true, n = 2}`); err != nil {
		t.Fatal(err)
	}
	b := NewBridge(s.L)

	got, ok := b.ToGoValue(s.GetGlobal("m")).(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue(m) is %T, want map", got)
	}
	if got["name"] != "toc" || got["installed"] != true || got["n"] != int64(2) {
		t.Errorf("ToGoValue(m) = %v", got)
	}
}

func TestToGoValueCircularTable(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`c = {}; c.self = c`); err != nil {
		t.Fatal(err)
	}
	b := NewBridge(s.L)

	got, ok := b.ToGoValue(s.GetGlobal("c")).(map[string]any)
	if !ok {
		t.Fatal("circular table did not convert to map")
	}
	if got["self"] != nil {
		t.Errorf("circular reference = %v, want nil", got["self"])
	}
}

func TestToLuaValueRoundTrip(t *testing.T) {
	s := NewState()
	defer s.Close()
	b := NewBridge(s.L)

	in := map[string]any{
		"name":  "pdf_export",
		"count": int64(3),
		"tags":  []any{"export", "pdf"},
		"ok":    true,
	}

	out, ok := b.ToGoValue(b.ToLuaValue(in)).(map[string]any)
	if !ok {
		t.Fatal("round trip did not yield a map")
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestTableAccessors(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`
		d = {
			name = "toc",
			installed = false,
			meta = {extension = "pdf"},
			transform = function(c) return c end,
		}
	`); err != nil {
		t.Fatal(err)
	}
	b := NewBridge(s.L)
	tbl := s.GetGlobal("d").(*lua.LTable)

	if v, ok := b.TableString(tbl, "name"); !ok || v != "toc" {
		t.Errorf("TableString(name) = %q, %v", v, ok)
	}
	if _, ok := b.TableString(tbl, "missing"); ok {
		t.Error("TableString(missing) = ok")
	}
	if v, ok := b.TableBool(tbl, "installed"); !ok || v {
		t.Errorf("TableBool(installed) = %v, %v", v, ok)
	}
	if _, ok := b.TableFunc(tbl, "transform"); !ok {
		t.Error("TableFunc(transform) = !ok")
	}
	if _, ok := b.TableTable(tbl, "meta"); !ok {
		t.Error("TableTable(meta) = !ok")
	}
}
