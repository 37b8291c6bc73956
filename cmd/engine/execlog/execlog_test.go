package execlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telflow/telflow/common/models"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	wfID := uuid.New()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.Start(ctx, "exec-1", wfID, 2, started); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.AppendNode(ctx, "exec-1", models.NodeResult{NodeID: "a", Status: models.StatusSuccess}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.End(ctx, "exec-1", models.StateCompleted, map[string]any{"done": true}, nil); err != nil {
		t.Fatalf("end: %v", err)
	}

	log, err := store.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if log.State != models.StateCompleted || log.WorkflowVersion != 2 {
		t.Fatalf("unexpected log: %+v", log)
	}
	if len(log.NodeResults) != 1 || log.NodeResults[0].NodeID != "a" {
		t.Fatalf("unexpected node results: %+v", log.NodeResults)
	}
	if log.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestMemoryStore_EndIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Start(ctx, "exec-1", uuid.New(), 1, time.Now())
	store.End(ctx, "exec-1", models.StateFailed, nil, &models.NodeError{Code: models.CodeNodeExecutionError})

	// A second End must not overwrite the terminal state.
	store.End(ctx, "exec-1", models.StateCompleted, map[string]any{"late": true}, nil)
	// Nor may nodes append after the fact.
	store.AppendNode(ctx, "exec-1", models.NodeResult{NodeID: "late"})

	log, _ := store.Get(ctx, "exec-1")
	if log.State != models.StateFailed {
		t.Errorf("terminal state was overwritten: %s", log.State)
	}
	if log.Output != nil {
		t.Errorf("output overwritten after end: %+v", log.Output)
	}
	if len(log.NodeResults) != 0 {
		t.Errorf("node appended after end: %+v", log.NodeResults)
	}
}

func TestMemoryStore_GetUnknownReturnsNil(t *testing.T) {
	store := NewMemoryStore()
	log, err := store.Get(context.Background(), "nope")
	if err != nil || log != nil {
		t.Fatalf("expected nil, nil, got %+v, %v", log, err)
	}
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	wfA, wfB := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store.Start(ctx, "e1", wfA, 1, base)
	store.End(ctx, "e1", models.StateCompleted, nil, nil)
	store.Start(ctx, "e2", wfA, 1, base.Add(time.Minute))
	store.End(ctx, "e2", models.StateFailed, nil, nil)
	store.Start(ctx, "e3", wfB, 1, base.Add(2*time.Minute))

	byWorkflow, _ := store.Query(ctx, models.LogFilter{WorkflowID: &wfA})
	if len(byWorkflow) != 2 {
		t.Fatalf("expected 2 logs for workflow A, got %d", len(byWorkflow))
	}
	// Newest first.
	if byWorkflow[0].ExecutionID != "e2" || byWorkflow[1].ExecutionID != "e1" {
		t.Errorf("expected newest-first order, got %s, %s", byWorkflow[0].ExecutionID, byWorkflow[1].ExecutionID)
	}

	failed, _ := store.Query(ctx, models.LogFilter{State: models.StateFailed})
	if len(failed) != 1 || failed[0].ExecutionID != "e2" {
		t.Errorf("state filter: got %+v", failed)
	}

	from := base.Add(30 * time.Second)
	to := base.Add(90 * time.Second)
	windowed, _ := store.Query(ctx, models.LogFilter{From: &from, To: &to})
	if len(windowed) != 1 || windowed[0].ExecutionID != "e2" {
		t.Errorf("time window filter: got %+v", windowed)
	}

	limited, _ := store.Query(ctx, models.LogFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ExecutionID != "e3" {
		t.Errorf("limit: got %+v", limited)
	}
}

func TestEffectiveLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultQueryLimit},
		{-5, DefaultQueryLimit},
		{50, 50},
		{MaxQueryLimit, MaxQueryLimit},
		{MaxQueryLimit + 1, MaxQueryLimit},
	}
	for _, tc := range tests {
		if got := EffectiveLimit(tc.in); got != tc.want {
			t.Errorf("EffectiveLimit(%d): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}
