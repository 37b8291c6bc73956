package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/telflow/telflow/common/db"
	"github.com/telflow/telflow/common/models"
)

// WorkflowStore persists workflow descriptions. The engine treats it as a
// replaceable repository; memory and Postgres implementations are provided.
type WorkflowStore interface {
	Save(ctx context.Context, desc *models.WorkflowDescription) error
	Get(ctx context.Context, id uuid.UUID) (*models.WorkflowDescription, error)
	List(ctx context.Context) ([]*models.WorkflowDescription, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ErrWorkflowNotFound is returned when a workflow id is not stored
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowRepository is the Postgres-backed workflow store
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Save inserts or updates a workflow description by id
func (r *WorkflowRepository) Save(ctx context.Context, desc *models.WorkflowDescription) error {
	body, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	query := `
		INSERT INTO workflow (workflow_id, version, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id) DO UPDATE
		SET version = EXCLUDED.version,
		    name = EXCLUDED.name,
		    description = EXCLUDED.description
	`

	_, err = r.db.Exec(
		ctx,
		query,
		desc.Metadata.ID,
		desc.Metadata.Version,
		desc.Metadata.Name,
		body,
		desc.Metadata.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// Get retrieves a workflow description by id
func (r *WorkflowRepository) Get(ctx context.Context, id uuid.UUID) (*models.WorkflowDescription, error) {
	query := `SELECT description FROM workflow WHERE workflow_id = $1`

	var body []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	desc := &models.WorkflowDescription{}
	if err := json.Unmarshal(body, desc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return desc, nil
}

// List retrieves all stored workflow descriptions
func (r *WorkflowRepository) List(ctx context.Context) ([]*models.WorkflowDescription, error) {
	query := `SELECT description FROM workflow ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.WorkflowDescription
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		desc := &models.WorkflowDescription{}
		if err := json.Unmarshal(body, desc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		workflows = append(workflows, desc)
	}

	return workflows, rows.Err()
}

// Delete removes a workflow description
func (r *WorkflowRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflow WHERE workflow_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// MemoryWorkflowStore is the in-process workflow store used for development
// and tests.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]*models.WorkflowDescription
}

// NewMemoryWorkflowStore creates an empty in-memory workflow store
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{
		workflows: make(map[uuid.UUID]*models.WorkflowDescription),
	}
}

// Save inserts or updates a workflow description by id
func (s *MemoryWorkflowStore) Save(ctx context.Context, desc *models.WorkflowDescription) error {
	// Round-trip through JSON so stored state cannot alias caller maps
	body, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	cp := &models.WorkflowDescription{}
	if err := json.Unmarshal(body, cp); err != nil {
		return fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[desc.Metadata.ID] = cp
	return nil
}

// Get retrieves a workflow description by id
func (s *MemoryWorkflowStore) Get(ctx context.Context, id uuid.UUID) (*models.WorkflowDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desc, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return desc, nil
}

// List retrieves all stored workflow descriptions, newest first
func (s *MemoryWorkflowStore) List(ctx context.Context) ([]*models.WorkflowDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.WorkflowDescription, 0, len(s.workflows))
	for _, desc := range s.workflows {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.CreatedAt.After(out[j].Metadata.CreatedAt)
	})
	return out, nil
}

// Delete removes a workflow description
func (s *MemoryWorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	return nil
}
