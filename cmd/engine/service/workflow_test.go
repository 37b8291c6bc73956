package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/repository"
)

func validDescription() *models.WorkflowDescription {
	trigger := models.WorkflowNode{ID: "t", Type: models.TriggerSMSReceived, Config: map[string]any{}}
	send := models.WorkflowNode{ID: "send", Type: catalog.TypeSendSMS, Config: map[string]any{
		"to":      "{{from}}",
		"message": "Thanks for registering",
	}}
	return &models.WorkflowDescription{
		Metadata: models.WorkflowMetadata{Name: "welcome"},
		Trigger:  trigger,
		Nodes:    []models.WorkflowNode{trigger, send},
		Edges:    []models.WorkflowEdge{{ID: "e1", Source: "t", Target: "send"}},
	}
}

func newWorkflowService() (*WorkflowService, *repository.MemoryWorkflowStore) {
	store := repository.NewMemoryWorkflowStore()
	return NewWorkflowService(store, catalog.Builtin(), logger.NewNop()), store
}

func TestWorkflowService_Create(t *testing.T) {
	svc, _ := newWorkflowService()

	desc, result, err := svc.Create(context.Background(), validDescription())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid compile, got %+v", result.Errors)
	}
	if desc.Metadata.ID == uuid.Nil || desc.Metadata.Version != 1 {
		t.Errorf("unexpected metadata: %+v", desc.Metadata)
	}
	if desc.Metadata.CreatedAt.IsZero() {
		t.Error("expected a creation timestamp")
	}

	stored, err := svc.Get(context.Background(), desc.Metadata.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Metadata.Name != "welcome" {
		t.Errorf("unexpected stored workflow: %+v", stored.Metadata)
	}
}

func TestWorkflowService_CreateInvalidNotPersisted(t *testing.T) {
	svc, store := newWorkflowService()

	bad := validDescription()
	bad.Edges = nil // send is now unreachable

	desc, result, err := svc.Create(context.Background(), bad)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if desc != nil || result.Valid {
		t.Fatalf("expected a rejected compile, got desc=%+v valid=%v", desc, result.Valid)
	}

	if all, _ := store.List(context.Background()); len(all) != 0 {
		t.Errorf("invalid workflow was persisted: %+v", all)
	}
}

func TestWorkflowService_UpdateBumpsVersion(t *testing.T) {
	svc, _ := newWorkflowService()
	ctx := context.Background()

	created, _, err := svc.Create(ctx, validDescription())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	createdAt := created.Metadata.CreatedAt

	replacement := validDescription()
	replacement.Metadata.Name = "welcome v2"
	updated, result, err := svc.Update(ctx, created.Metadata.ID, replacement)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid compile, got %+v", result.Errors)
	}
	if updated.Metadata.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Metadata.Version)
	}
	if !updated.Metadata.CreatedAt.Equal(createdAt) {
		t.Errorf("creation timestamp changed: %v -> %v", createdAt, updated.Metadata.CreatedAt)
	}
}

func TestWorkflowService_MergePatch(t *testing.T) {
	svc, _ := newWorkflowService()
	ctx := context.Background()

	created, _, _ := svc.Create(ctx, validDescription())

	patched, result, err := svc.Patch(ctx, created.Metadata.ID,
		[]byte(`{"metadata":{"name":"renamed"}}`), true)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid compile, got %+v", result.Errors)
	}
	if patched.Metadata.Name != "renamed" || patched.Metadata.Version != 2 {
		t.Errorf("unexpected patched metadata: %+v", patched.Metadata)
	}
}

func TestWorkflowService_JSONPatchOps(t *testing.T) {
	svc, _ := newWorkflowService()
	ctx := context.Background()

	created, _, _ := svc.Create(ctx, validDescription())

	ops := []byte(`[{"op":"replace","path":"/nodes/1/config/message","value":"Karibu!"}]`)
	patched, result, err := svc.Patch(ctx, created.Metadata.ID, ops, false)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid compile, got %+v", result.Errors)
	}
	if patched.Nodes[1].Config["message"] != "Karibu!" {
		t.Errorf("patch not applied: %+v", patched.Nodes[1].Config)
	}
}

func TestWorkflowService_PatchBreakingWorkflowNotCommitted(t *testing.T) {
	svc, _ := newWorkflowService()
	ctx := context.Background()

	created, _, _ := svc.Create(ctx, validDescription())

	// Emptying the edges strands the send node.
	_, result, err := svc.Patch(ctx, created.Metadata.ID, []byte(`{"edges":[]}`), true)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if result.Valid {
		t.Fatal("expected the patched workflow to fail compilation")
	}

	stored, _ := svc.Get(ctx, created.Metadata.ID)
	if stored.Metadata.Version != 1 || len(stored.Edges) != 1 {
		t.Errorf("broken patch was committed: %+v", stored.Metadata)
	}
}

func TestWorkflowService_DeleteAndMissing(t *testing.T) {
	svc, _ := newWorkflowService()
	ctx := context.Background()

	created, _, _ := svc.Create(ctx, validDescription())
	if err := svc.Delete(ctx, created.Metadata.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.Metadata.ID); !errors.Is(err, repository.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, uuid.New()); !errors.Is(err, repository.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound on double delete, got %v", err)
	}
}
