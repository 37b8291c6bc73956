package dispatch

import (
	"context"
	"time"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/condition"
	"github.com/telflow/telflow/cmd/engine/template"
	"github.com/telflow/telflow/common/models"
)

// RegisterLogic wires the pure control-flow handlers.
func RegisterLogic(d *Dispatcher, cel *condition.Evaluator) error {
	handlers := map[string]Handler{
		catalog.TypeCondition: conditionHandler(cel),
		catalog.TypeSwitch:    switchHandler,
		catalog.TypeDelay:     delayHandler,
		catalog.TypeRetry:     retryHandler,
		catalog.TypeMerge:     mergeHandler,
	}
	for nodeType, h := range handlers {
		if err := d.Register(nodeType, h); err != nil {
			return err
		}
	}
	return nil
}

func conditionHandler(cel *condition.Evaluator) Handler {
	return func(_ context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		expr := cfgString(node.Config, "expression")
		scope := template.BuildScope(ec, in.Merged)

		var result bool
		switch cfgString(node.Config, "language") {
		case "cel":
			ok, err := cel.Evaluate(expr, scope, in.Merged)
			if err != nil {
				return nil, models.NewNodeError(models.CodeNodeExecutionError, "evaluating condition: "+err.Error(), models.ErrorPermanent)
			}
			result = ok
		default:
			result = template.EvaluatePredicate(expr, scope)
		}

		handle := catalog.HandleFalse
		if result {
			handle = catalog.HandleTrue
		}
		out := passthrough(in)
		out["condition_result"] = result
		return &Outcome{Output: out, Handle: handle}, nil
	}
}

func switchHandler(_ context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
	scope := template.BuildScope(ec, in.Merged)
	value := template.Render(cfgString(node.Config, "value"), scope)

	handle := catalog.HandleDefault
	for _, raw := range cfgSlice(node.Config, "cases") {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		candidate, _ := c["value"].(string)
		if template.Render(candidate, scope) == value {
			handle = candidate
			break
		}
	}

	out := passthrough(in)
	out["switch_value"] = value
	return &Outcome{Output: out, Handle: handle}, nil
}

func delayHandler(ctx context.Context, node *compiler.Node, _ *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
	duration := time.Duration(cfgNumber(node.Config, "duration_ms")) * time.Millisecond
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, models.NewNodeError(models.CodeNodeTimeout, "delay interrupted: "+ctx.Err().Error(), models.ErrorTransient)
	case <-timer.C:
	}
	return &Outcome{Output: passthrough(in), Handle: catalog.HandleSuccess}, nil
}

// retryHandler passes its input through. The node's retry policy is applied
// by the engine; the max_retries handle fires only on exhaustion, which the
// engine routes directly.
func retryHandler(_ context.Context, _ *compiler.Node, _ *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
	return &Outcome{Output: passthrough(in), Handle: catalog.HandleSuccess}, nil
}

func mergeHandler(_ context.Context, node *compiler.Node, _ *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
	var out map[string]any
	switch cfgString(node.Config, "strategy") {
	case "first":
		if len(in.Upstream) > 0 {
			out = copyMap(in.Upstream[0])
		}
	case "last":
		if len(in.Upstream) > 0 {
			out = copyMap(in.Upstream[len(in.Upstream)-1])
		}
	case "all":
		branches := make([]any, 0, len(in.Upstream))
		for _, b := range in.Upstream {
			branches = append(branches, b)
		}
		out = map[string]any{"branches": branches}
	default: // merge
		out = passthrough(in)
	}
	if out == nil {
		out = map[string]any{}
	}
	return &Outcome{Output: out, Handle: catalog.HandleSuccess}, nil
}

func passthrough(in *Input) map[string]any {
	return copyMap(in.Merged)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
