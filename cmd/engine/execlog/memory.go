package execlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telflow/telflow/common/models"
)

// MemoryStore is the in-process log store used by default and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*models.ExecutionLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*models.ExecutionLog)}
}

func (s *MemoryStore) Start(_ context.Context, executionID string, workflowID uuid.UUID, version int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[executionID]; ok {
		return nil
	}
	s.logs[executionID] = &models.ExecutionLog{
		ExecutionID:     executionID,
		WorkflowID:      workflowID,
		WorkflowVersion: version,
		State:           models.StateRunning,
		StartedAt:       startedAt,
	}
	return nil
}

func (s *MemoryStore) AppendNode(_ context.Context, executionID string, result models.NodeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[executionID]
	if !ok || log.State != models.StateRunning {
		return nil
	}
	log.NodeResults = append(log.NodeResults, result)
	return nil
}

func (s *MemoryStore) End(_ context.Context, executionID string, state models.ExecutionState, output map[string]any, finalErr *models.NodeError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[executionID]
	if !ok || log.State != models.StateRunning {
		return nil
	}
	now := time.Now()
	log.State = state
	log.CompletedAt = &now
	log.Output = output
	log.Error = finalErr
	return nil
}

func (s *MemoryStore) Get(_ context.Context, executionID string) (*models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[executionID]
	if !ok {
		return nil, nil
	}
	return cloneLog(log), nil
}

func (s *MemoryStore) Query(_ context.Context, filter models.LogFilter) ([]*models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.ExecutionLog, 0)
	for _, log := range s.logs {
		if filter.WorkflowID != nil && log.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.State != "" && log.State != filter.State {
			continue
		}
		if filter.From != nil && log.StartedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && log.StartedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, cloneLog(log))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	limit := EffectiveLimit(filter.Limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func cloneLog(log *models.ExecutionLog) *models.ExecutionLog {
	out := *log
	out.NodeResults = append([]models.NodeResult(nil), log.NodeResults...)
	return &out
}
