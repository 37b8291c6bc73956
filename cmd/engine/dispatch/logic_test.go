package dispatch

import (
	"context"
	"testing"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/condition"
	"github.com/telflow/telflow/common/models"
)

func logicNode(nodeType string, config map[string]any) *compiler.Node {
	return &compiler.Node{ID: "n1", Type: nodeType, Config: config}
}

func inputOf(merged map[string]any) *Input {
	return &Input{Merged: merged, Upstream: []map[string]any{merged}}
}

func TestConditionHandler_TemplateLanguage(t *testing.T) {
	h := conditionHandler(condition.NewEvaluator())
	ec := &models.ExecutionContext{Variables: map[string]any{}}

	node := logicNode(catalog.TypeCondition, map[string]any{
		"expression": "{{amount}} > 100",
		"language":   "template",
	})

	out, nerr := h(context.Background(), node, ec, inputOf(map[string]any{"amount": 250}))
	if nerr != nil {
		t.Fatalf("unexpected error: %+v", nerr)
	}
	if out.Handle != catalog.HandleTrue {
		t.Errorf("expected true handle, got %q", out.Handle)
	}
	if out.Output["condition_result"] != true || out.Output["amount"] != 250 {
		t.Errorf("unexpected output: %+v", out.Output)
	}

	out, _ = h(context.Background(), node, ec, inputOf(map[string]any{"amount": 50}))
	if out.Handle != catalog.HandleFalse {
		t.Errorf("expected false handle, got %q", out.Handle)
	}
}

func TestConditionHandler_CELLanguage(t *testing.T) {
	h := conditionHandler(condition.NewEvaluator())
	ec := &models.ExecutionContext{Variables: map[string]any{}}

	node := logicNode(catalog.TypeCondition, map[string]any{
		"expression": `input.status == "active" && input.amount >= 100.0`,
		"language":   "cel",
	})

	out, nerr := h(context.Background(), node, ec, inputOf(map[string]any{"status": "active", "amount": 150.0}))
	if nerr != nil {
		t.Fatalf("unexpected error: %+v", nerr)
	}
	if out.Handle != catalog.HandleTrue {
		t.Errorf("expected true handle, got %q", out.Handle)
	}

	bad := logicNode(catalog.TypeCondition, map[string]any{
		"expression": "this is not CEL",
		"language":   "cel",
	})
	_, nerr = h(context.Background(), bad, ec, inputOf(map[string]any{}))
	if nerr == nil || nerr.Type != models.ErrorPermanent {
		t.Fatalf("expected a permanent error for an invalid expression, got %+v", nerr)
	}
}

func TestSwitchHandler(t *testing.T) {
	ec := &models.ExecutionContext{Variables: map[string]any{}}
	node := logicNode(catalog.TypeSwitch, map[string]any{
		"value": "{{lang}}",
		"cases": []any{
			map[string]any{"value": "en"},
			map[string]any{"value": "sw"},
		},
	})

	out, nerr := switchHandler(context.Background(), node, ec, inputOf(map[string]any{"lang": "sw"}))
	if nerr != nil {
		t.Fatalf("unexpected error: %+v", nerr)
	}
	if out.Handle != "sw" {
		t.Errorf("expected sw handle, got %q", out.Handle)
	}
	if out.Output["switch_value"] != "sw" {
		t.Errorf("unexpected output: %+v", out.Output)
	}

	out, _ = switchHandler(context.Background(), node, ec, inputOf(map[string]any{"lang": "fr"}))
	if out.Handle != catalog.HandleDefault {
		t.Errorf("expected default handle for unmatched value, got %q", out.Handle)
	}
}

func TestDelayHandler_CancelledContext(t *testing.T) {
	node := logicNode(catalog.TypeDelay, map[string]any{"duration_ms": float64(60000)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, nerr := delayHandler(ctx, node, nil, inputOf(map[string]any{}))
	if nerr == nil || nerr.Code != models.CodeNodeTimeout {
		t.Fatalf("expected node_timeout, got %+v", nerr)
	}
	if nerr.Type != models.ErrorTransient {
		t.Errorf("expected transient classification, got %s", nerr.Type)
	}
}

func TestMergeHandler_Strategies(t *testing.T) {
	ec := &models.ExecutionContext{Variables: map[string]any{}}
	first := map[string]any{"a": 1, "shared": "first"}
	second := map[string]any{"b": 2, "shared": "second"}
	in := &Input{
		Merged:   map[string]any{"a": 1, "b": 2, "shared": "second"},
		Upstream: []map[string]any{first, second},
	}

	tests := []struct {
		strategy string
		check    func(t *testing.T, out map[string]any)
	}{
		{"first", func(t *testing.T, out map[string]any) {
			if out["a"] != 1 || out["shared"] != "first" {
				t.Errorf("first: %+v", out)
			}
		}},
		{"last", func(t *testing.T, out map[string]any) {
			if out["b"] != 2 || out["shared"] != "second" {
				t.Errorf("last: %+v", out)
			}
		}},
		{"all", func(t *testing.T, out map[string]any) {
			branches, ok := out["branches"].([]any)
			if !ok || len(branches) != 2 {
				t.Errorf("all: %+v", out)
			}
		}},
		{"merge", func(t *testing.T, out map[string]any) {
			if out["a"] != 1 || out["b"] != 2 || out["shared"] != "second" {
				t.Errorf("merge: %+v", out)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.strategy, func(t *testing.T) {
			node := logicNode(catalog.TypeMerge, map[string]any{"strategy": tc.strategy})
			out, nerr := mergeHandler(context.Background(), node, ec, in)
			if nerr != nil {
				t.Fatalf("unexpected error: %+v", nerr)
			}
			tc.check(t, out.Output)
		})
	}
}

func TestRetryHandler_Passthrough(t *testing.T) {
	node := logicNode(catalog.TypeRetry, map[string]any{"max_attempts": float64(3)})
	out, nerr := retryHandler(context.Background(), node, nil, inputOf(map[string]any{"k": "v"}))
	if nerr != nil {
		t.Fatalf("unexpected error: %+v", nerr)
	}
	if out.Handle != catalog.HandleSuccess || out.Output["k"] != "v" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestRegister_DuplicateFails(t *testing.T) {
	d := NewDispatcher()
	noop := func(_ context.Context, _ *compiler.Node, _ *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		return &Outcome{Output: passthrough(in)}, nil
	}
	if err := d.Register("x", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := d.Register("x", noop); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if _, ok := d.Get("x"); !ok {
		t.Fatal("registered handler not found")
	}
	if _, ok := d.Get("missing"); ok {
		t.Fatal("unexpected handler for unregistered type")
	}
}
