package template

import (
	"testing"

	"github.com/telflow/telflow/common/models"
)

func TestRender_DottedPaths(t *testing.T) {
	scope := map[string]any{
		"user": map[string]any{
			"name":  "Asha",
			"phone": "+254700000001",
		},
		"amount": 250.5,
	}

	tests := []struct {
		tmpl string
		want string
	}{
		{"Hello {{user.name}}", "Hello Asha"},
		{"{{user.phone}}", "+254700000001"},
		{"pay {{amount}}", "pay 250.5"},
		{"{{ user.name }} pays {{amount}}", "Asha pays 250.5"},
		{"no placeholders", "no placeholders"},
	}
	for _, tc := range tests {
		if got := Render(tc.tmpl, scope); got != tc.want {
			t.Errorf("Render(%q): expected %q, got %q", tc.tmpl, tc.want, got)
		}
	}
}

func TestRender_UnresolvedStaysVerbatim(t *testing.T) {
	scope := map[string]any{"present": "yes", "nothing": nil}

	got := Render("{{present}} {{missing.path}} {{nothing}}", scope)
	want := "yes {{missing.path}} {{nothing}}"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	// Rendering the result again must not change it.
	if again := Render(got, scope); again != got {
		t.Errorf("render is not idempotent: %q became %q", got, again)
	}
}

func TestRender_ObjectValue(t *testing.T) {
	scope := map[string]any{"meta": map[string]any{"k": "v"}}
	got := Render("{{meta}}", scope)
	if got != `{"k":"v"}` {
		t.Errorf("expected raw JSON, got %q", got)
	}
}

func TestRenderMap_Recursive(t *testing.T) {
	scope := map[string]any{"name": "Asha"}
	in := map[string]any{
		"greeting": "Hi {{name}}",
		"count":    3,
		"nested":   map[string]any{"inner": "{{name}}"},
		"list":     []any{"{{name}}", 1},
	}

	out := RenderMap(in, scope)
	if out["greeting"] != "Hi Asha" {
		t.Errorf("greeting: got %v", out["greeting"])
	}
	if out["count"] != 3 {
		t.Errorf("count should pass through, got %v", out["count"])
	}
	nested := out["nested"].(map[string]any)
	if nested["inner"] != "Asha" {
		t.Errorf("nested.inner: got %v", nested["inner"])
	}
	list := out["list"].([]any)
	if list[0] != "Asha" || list[1] != 1 {
		t.Errorf("list: got %v", list)
	}
	if in["nested"].(map[string]any)["inner"] != "{{name}}" {
		t.Error("RenderMap must not mutate its input")
	}
}

func TestEvaluatePredicate(t *testing.T) {
	scope := map[string]any{
		"amount": 150,
		"status": "active",
		"digits": "1",
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"{{amount}} > 100", true},
		{"{{amount}} > 200", false},
		{"{{amount}} >= 150", true},
		{"{{amount}} <= 149", false},
		{"{{amount}} < 151", true},
		{"{{status}} == active", true},
		{"{{status}} == 'active'", true},
		{"{{status}} != active", false},
		{"{{digits}} == 1", true},
		// Ordering on a non-numeric side fails closed.
		{"{{status}} > 5", false},
		// Unresolved placeholder on one side of == compares textually.
		{"{{missing}} == active", false},
		// No operator: truthiness of the rendered value.
		{"{{status}}", true},
		{"{{missing}}", false},
	}
	for _, tc := range tests {
		if got := EvaluatePredicate(tc.expr, scope); got != tc.want {
			t.Errorf("EvaluatePredicate(%q): expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestFindOperator_MultiCharFirst(t *testing.T) {
	op, pos := findOperator("a >= b")
	if op != ">=" || pos != 2 {
		t.Errorf("expected >= at 2, got %q at %d", op, pos)
	}
	op, _ = findOperator("a != b")
	if op != "!=" {
		t.Errorf("expected !=, got %q", op)
	}
	op, pos = findOperator("no comparison here")
	if op != "" || pos != -1 {
		t.Errorf("expected no operator, got %q at %d", op, pos)
	}
}

func TestTruthy(t *testing.T) {
	truthy := []string{"yes", "1", "true", "TRUE", "anything"}
	falsy := []string{"", "false", "False", "0", "null", "undefined", "  ", "{{unresolved}}"}

	for _, s := range truthy {
		if !Truthy(s) {
			t.Errorf("expected %q to be truthy", s)
		}
	}
	for _, s := range falsy {
		if Truthy(s) {
			t.Errorf("expected %q to be falsy", s)
		}
	}
}

func TestBuildScope_SessionAndPrecedence(t *testing.T) {
	ec := &models.ExecutionContext{
		Variables: map[string]any{"from": "+254700000001", "shadowed": "context"},
		Session: &models.SessionRecord{
			SessionID:  "s-1",
			Channel:    models.ChannelUSSD,
			Subscriber: "+254700000001",
			Data:       map[string]any{"step": "menu"},
		},
	}

	scope := BuildScope(ec, map[string]any{"shadowed": "input"})
	if scope["from"] != "+254700000001" {
		t.Errorf("expected context variable, got %v", scope["from"])
	}
	if scope["shadowed"] != "input" {
		t.Errorf("node input must shadow context variables, got %v", scope["shadowed"])
	}

	if got := Render("{{session.data.step}}", scope); got != "menu" {
		t.Errorf("expected session data via scope, got %q", got)
	}
	if got := Render("{{session.channel}}", scope); got != "ussd" {
		t.Errorf("expected channel ussd, got %q", got)
	}
}
