package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/template"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/ratelimit"
)

// RegisterRateLimit wires the rate_limit node against a limiter backend.
func RegisterRateLimit(d *Dispatcher, limiter ratelimit.Limiter) error {
	return d.Register(catalog.TypeRateLimit, rateLimitHandler(limiter))
}

func rateLimitHandler(limiter ratelimit.Limiter) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		key := cfgString(node.Config, "key")
		if key == "" {
			// Default budget key: one counter per workflow node.
			key = fmt.Sprintf("%s:%s", ec.WorkflowID, node.ID)
		} else {
			key = template.Render(key, template.BuildScope(ec, in.Merged))
		}

		limit := int64(cfgNumber(node.Config, "max_requests"))
		window := time.Duration(cfgNumber(node.Config, "window_ms")) * time.Millisecond
		strategy := cfgString(node.Config, "strategy")

		res, err := limiter.Allow(ctx, "node:"+key, limit, window, strategy)
		if err != nil {
			return nil, models.NewNodeError(models.CodeNodeExecutionError, "checking rate limit: "+err.Error(), models.ErrorTransient)
		}
		if !res.Allowed {
			return nil, &models.NodeError{
				Code:    models.CodeRateLimit,
				Message: fmt.Sprintf("rate limit exceeded: %d of %d in window", res.CurrentCount, res.Limit),
				Type:    models.ErrorRateLimit,
				Details: map[string]any{
					"retry_after_ms": res.RetryAfter.Milliseconds(),
					"limit":          res.Limit,
				},
			}
		}

		out := passthrough(in)
		out["rate_limit_remaining"] = res.Limit - res.CurrentCount
		return &Outcome{Output: out, Handle: catalog.HandleSuccess}, nil
	}
}
