package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/repository"
)

// WorkflowService owns the stored-workflow lifecycle. Every write compiles
// first; a description that does not compile is never persisted.
type WorkflowService struct {
	store    repository.WorkflowStore
	registry *catalog.Registry
	log      *logger.Logger
}

func NewWorkflowService(store repository.WorkflowStore, registry *catalog.Registry, log *logger.Logger) *WorkflowService {
	return &WorkflowService{store: store, registry: registry, log: log}
}

// Create persists a new workflow at version 1. The compile result is
// returned either way; the description is saved only when it is valid.
func (s *WorkflowService) Create(ctx context.Context, desc *models.WorkflowDescription) (*models.WorkflowDescription, *compiler.Result, error) {
	if desc.Metadata.ID == uuid.Nil {
		desc.Metadata.ID = uuid.New()
	}
	desc.Metadata.Version = 1
	if desc.Metadata.CreatedAt.IsZero() {
		desc.Metadata.CreatedAt = time.Now().UTC()
	}

	result := compiler.Compile(desc, s.registry)
	if !result.Valid {
		return nil, result, nil
	}
	if err := s.store.Save(ctx, desc); err != nil {
		return nil, nil, err
	}
	s.log.Info("workflow created", "workflow_id", desc.Metadata.ID, "name", desc.Metadata.Name)
	return desc, result, nil
}

// Update replaces a stored workflow wholesale and bumps its version.
func (s *WorkflowService) Update(ctx context.Context, id uuid.UUID, desc *models.WorkflowDescription) (*models.WorkflowDescription, *compiler.Result, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	desc.Metadata.ID = id
	desc.Metadata.Version = existing.Metadata.Version + 1
	desc.Metadata.CreatedAt = existing.Metadata.CreatedAt

	result := compiler.Compile(desc, s.registry)
	if !result.Valid {
		return nil, result, nil
	}
	if err := s.store.Save(ctx, desc); err != nil {
		return nil, nil, err
	}
	return desc, result, nil
}

// Patch applies an RFC 6902 patch (or RFC 7386 merge patch) to a stored
// workflow, recompiles the outcome and commits only when it is valid.
func (s *WorkflowService) Patch(ctx context.Context, id uuid.UUID, patch []byte, merge bool) (*models.WorkflowDescription, *compiler.Result, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	original, err := json.Marshal(existing)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding workflow: %w", err)
	}

	var patched []byte
	if merge {
		patched, err = jsonpatch.MergePatch(original, patch)
	} else {
		var ops jsonpatch.Patch
		ops, err = jsonpatch.DecodePatch(patch)
		if err == nil {
			patched, err = ops.Apply(original)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("applying patch: %w", err)
	}

	var desc models.WorkflowDescription
	if err := json.Unmarshal(patched, &desc); err != nil {
		return nil, nil, fmt.Errorf("patched workflow is not a valid description: %w", err)
	}
	desc.Metadata.ID = id
	desc.Metadata.Version = existing.Metadata.Version + 1
	desc.Metadata.CreatedAt = existing.Metadata.CreatedAt

	result := compiler.Compile(&desc, s.registry)
	if !result.Valid {
		return nil, result, nil
	}
	if err := s.store.Save(ctx, &desc); err != nil {
		return nil, nil, err
	}
	s.log.Info("workflow patched", "workflow_id", id, "version", desc.Metadata.Version)
	return &desc, result, nil
}

func (s *WorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.WorkflowDescription, error) {
	return s.store.Get(ctx, id)
}

func (s *WorkflowService) List(ctx context.Context) ([]*models.WorkflowDescription, error) {
	return s.store.List(ctx)
}

func (s *WorkflowService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}
