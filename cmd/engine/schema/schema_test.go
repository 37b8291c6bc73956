package schema

import (
	"regexp"
	"testing"
)

func TestObject_RequiredAndNested(t *testing.T) {
	s := Object{Fields: map[string]Field{
		"to":      {Schema: String{MinLen: 1}, Required: true},
		"headers": {Schema: Map{Values: String{}}},
		"retries": {Schema: MinMax(1, 10)},
	}}

	errs := s.Validate(map[string]any{
		"headers": map[string]any{"X-Token": 42},
		"retries": 20,
	}, "")

	wantPaths := map[string]bool{"to": false, "headers.X-Token": false, "retries": false}
	for _, e := range errs {
		if _, known := wantPaths[e.Path]; !known {
			t.Errorf("unexpected error at %q: %s", e.Path, e.Message)
			continue
		}
		wantPaths[e.Path] = true
	}
	for path, seen := range wantPaths {
		if !seen {
			t.Errorf("expected an error at %q", path)
		}
	}
}

func TestObject_UnknownKeysTolerated(t *testing.T) {
	s := Object{Fields: map[string]Field{
		"message": {Schema: String{MinLen: 1}, Required: true},
	}}
	errs := s.Validate(map[string]any{"message": "hi", "ui_color": "#fff"}, "")
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %+v", errs)
	}
}

func TestObject_ApplyDefaults(t *testing.T) {
	s := Object{Fields: map[string]Field{
		"method":  {Schema: String{}, Default: "GET"},
		"timeout": {Schema: Min(1), Default: float64(30000)},
		"url":     {Schema: String{MinLen: 1}, Required: true},
	}}

	out := s.ApplyDefaults(map[string]any{"url": "https://example.com", "method": "POST"})
	if out["method"] != "POST" {
		t.Errorf("explicit value overwritten: %v", out["method"])
	}
	if out["timeout"] != float64(30000) {
		t.Errorf("default not applied: %v", out["timeout"])
	}

	// The input map is not mutated.
	in := map[string]any{"url": "https://example.com"}
	s.ApplyDefaults(in)
	if _, ok := in["method"]; ok {
		t.Error("ApplyDefaults mutated its input")
	}
}

func TestString_Constraints(t *testing.T) {
	if errs := (String{MinLen: 3}).Validate("ab", ""); len(errs) != 1 {
		t.Errorf("minlen: %+v", errs)
	}
	if errs := (String{Enum: []string{"fixed", "sliding"}}).Validate("leaky", ""); len(errs) != 1 {
		t.Errorf("enum: %+v", errs)
	}
	if errs := (String{Pattern: regexp.MustCompile(`^/`)}).Validate("no-slash", ""); len(errs) != 1 {
		t.Errorf("pattern: %+v", errs)
	}
	if errs := (String{}).Validate(42, "x"); len(errs) != 1 || errs[0].Path != "x" {
		t.Errorf("type: %+v", errs)
	}
}

func TestNumber_AcceptsIntsAndFloats(t *testing.T) {
	n := MinMax(1, 10)
	for _, v := range []any{1, int64(5), float64(10), float32(2)} {
		if errs := n.Validate(v, ""); len(errs) != 0 {
			t.Errorf("%T(%v): %+v", v, v, errs)
		}
	}
	if errs := n.Validate(0, ""); len(errs) != 1 {
		t.Errorf("below min: %+v", errs)
	}
	if errs := n.Validate(11.5, ""); len(errs) != 1 {
		t.Errorf("above max: %+v", errs)
	}
	if errs := n.Validate("7", ""); len(errs) != 1 {
		t.Errorf("string: %+v", errs)
	}
}

func TestArray_ElementsAndMinLen(t *testing.T) {
	a := Array{Elem: String{}, MinLen: 1}
	if errs := a.Validate([]any{}, "cases"); len(errs) != 1 {
		t.Errorf("minlen: %+v", errs)
	}
	errs := a.Validate([]any{"ok", 3}, "cases")
	if len(errs) != 1 || errs[0].Path != "cases[1]" {
		t.Errorf("expected error at cases[1], got %+v", errs)
	}
}
