// Package execlog records what every invocation did, node by node.
package execlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telflow/telflow/common/models"
)

// Store is the execution log contract. The engine appends as it runs;
// End is idempotent so a late append after a terminal transition is a no-op.
type Store interface {
	Start(ctx context.Context, executionID string, workflowID uuid.UUID, version int, startedAt time.Time) error
	AppendNode(ctx context.Context, executionID string, result models.NodeResult) error
	End(ctx context.Context, executionID string, state models.ExecutionState, output map[string]any, finalErr *models.NodeError) error
	// Get returns nil, nil when the execution id is unknown.
	Get(ctx context.Context, executionID string) (*models.ExecutionLog, error)
	// Query returns logs newest first.
	Query(ctx context.Context, filter models.LogFilter) ([]*models.ExecutionLog, error)
}

// query limits, shared with the Postgres-backed store.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// EffectiveLimit clamps a requested page size into [1, MaxQueryLimit],
// falling back to DefaultQueryLimit when unset.
func EffectiveLimit(requested int) int {
	switch {
	case requested <= 0:
		return DefaultQueryLimit
	case requested > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return requested
	}
}
