// Package service holds the application services the HTTP layer calls into.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/execlog"
	"github.com/telflow/telflow/cmd/engine/runtime"
	"github.com/telflow/telflow/cmd/engine/session"
	"github.com/telflow/telflow/common/cache"
	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/repository"
)

// ErrWorkflowInvalid is returned when a stored workflow no longer compiles.
var ErrWorkflowInvalid = errors.New("workflow does not compile")

// ErrSessionConflict surfaces the session store conflict to the HTTP layer.
var ErrSessionConflict = session.ErrConflict

// ExecutionService compiles and runs workflows. Compiled graphs are
// immutable, so they are cached by (workflow id, version).
type ExecutionService struct {
	registry   *catalog.Registry
	engine     *runtime.Engine
	workflows  repository.WorkflowStore
	sessions   session.Store
	logs       execlog.Store
	graphCache cache.Cache
	cacheTTL   time.Duration
	sessionTTL time.Duration
	log        *logger.Logger
}

func NewExecutionService(
	registry *catalog.Registry,
	engine *runtime.Engine,
	workflows repository.WorkflowStore,
	sessions session.Store,
	logs execlog.Store,
	graphCache cache.Cache,
	cacheTTL time.Duration,
	sessionTTL time.Duration,
	log *logger.Logger,
) *ExecutionService {
	return &ExecutionService{
		registry:   registry,
		engine:     engine,
		workflows:  workflows,
		sessions:   sessions,
		logs:       logs,
		graphCache: graphCache,
		cacheTTL:   cacheTTL,
		sessionTTL: sessionTTL,
		log:        log,
	}
}

// Compile validates and compiles a description without running it.
func (s *ExecutionService) Compile(desc *models.WorkflowDescription) *compiler.Result {
	return compiler.Compile(desc, s.registry)
}

// GraphFor returns the compiled graph of a stored workflow, from cache when
// the version matches.
func (s *ExecutionService) GraphFor(ctx context.Context, id uuid.UUID) (*compiler.Graph, error) {
	desc, err := s.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("graph:%s:%d", id, desc.Metadata.Version)
	if s.graphCache != nil {
		if cached, ok, err := s.graphCache.Get(ctx, key); err == nil && ok {
			if graph, isGraph := cached.(*compiler.Graph); isGraph {
				return graph, nil
			}
		}
	}

	result := compiler.Compile(desc, s.registry)
	if !result.Valid {
		return nil, fmt.Errorf("%w: workflow %s version %d", ErrWorkflowInvalid, id, desc.Metadata.Version)
	}
	if s.graphCache != nil {
		if err := s.graphCache.Set(ctx, key, result.Graph, s.cacheTTL); err != nil {
			s.log.Error("caching compiled graph", "workflow_id", id, "error", err)
		}
	}
	return result.Graph, nil
}

// ExecuteRequest carries one invocation request.
type ExecuteRequest struct {
	TriggerPayload map[string]any
	// SessionID resumes or opens a session under a provider-owned id.
	SessionID string
	// Subscriber overrides the subscriber derived from the payload.
	Subscriber string
	// Options tune this invocation only.
	Options *runtime.InvokeOptions
}

// ExecuteDescription compiles an inline description and runs it. The
// compile result comes back alongside so callers can surface issues.
func (s *ExecutionService) ExecuteDescription(ctx context.Context, desc *models.WorkflowDescription, req ExecuteRequest) (*runtime.Result, *compiler.Result, error) {
	result := compiler.Compile(desc, s.registry)
	if !result.Valid {
		return nil, result, nil
	}
	run, err := s.run(ctx, result.Graph, desc.Trigger.Type, req)
	return run, result, err
}

// ExecuteStored runs a stored workflow by id.
func (s *ExecutionService) ExecuteStored(ctx context.Context, id uuid.UUID, req ExecuteRequest) (*runtime.Result, error) {
	desc, err := s.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	graph, err := s.GraphFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, graph, desc.Trigger.Type, req)
}

// RunScheduled satisfies the scheduler's Runner contract.
func (s *ExecutionService) RunScheduled(ctx context.Context, workflowID uuid.UUID, firedAt time.Time) error {
	res, err := s.ExecuteStored(ctx, workflowID, ExecuteRequest{
		TriggerPayload: map[string]any{
			"fired_at": firedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return err
	}
	s.log.Info("scheduled run finished",
		"workflow_id", workflowID, "execution_id", res.ExecutionID, "status", res.Status)
	return nil
}

func (s *ExecutionService) GetExecution(ctx context.Context, executionID string) (*models.ExecutionLog, error) {
	return s.logs.Get(ctx, executionID)
}

func (s *ExecutionService) QueryExecutions(ctx context.Context, filter models.LogFilter) ([]*models.ExecutionLog, error) {
	return s.logs.Query(ctx, filter)
}

func (s *ExecutionService) run(ctx context.Context, graph *compiler.Graph, triggerType string, req ExecuteRequest) (*runtime.Result, error) {
	ec := &models.ExecutionContext{
		WorkflowID:      graph.WorkflowID,
		WorkflowVersion: graph.WorkflowVersion,
		TriggerPayload:  req.TriggerPayload,
		Variables:       map[string]any{},
	}

	if graph.Metadata.RequiresSession {
		rec, err := s.resolveSession(ctx, triggerType, req)
		if err != nil {
			return nil, err
		}
		ec.Session = rec
	}
	return s.engine.Execute(ctx, graph, ec, req.Options)
}

// resolveSession opens or resumes the session an interactive invocation runs
// under. Provider-owned ids (USSD, voice) resume the existing record.
func (s *ExecutionService) resolveSession(ctx context.Context, triggerType string, req ExecuteRequest) (*models.SessionRecord, error) {
	channel := ChannelForTrigger(triggerType)
	subscriber := req.Subscriber
	if subscriber == "" {
		subscriber = subscriberFromPayload(req.TriggerPayload)
	}

	if req.SessionID != "" {
		rec, err := s.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			if err := s.sessions.Touch(ctx, rec.SessionID); err != nil {
				return nil, err
			}
			return rec, nil
		}
		return s.sessions.CreateWithID(ctx, req.SessionID, channel, subscriber, nil, s.sessionTTL)
	}
	return s.sessions.Create(ctx, channel, subscriber, nil, s.sessionTTL)
}

// ChannelForTrigger maps session-bearing trigger types to their channel.
func ChannelForTrigger(triggerType string) models.Channel {
	switch triggerType {
	case models.TriggerUSSDSessionStart:
		return models.ChannelUSSD
	case models.TriggerIncomingCall:
		return models.ChannelVoice
	case models.TriggerSMSReceived:
		return models.ChannelSMS
	case models.TriggerPaymentCallback:
		return models.ChannelPayment
	}
	return models.ChannelUSSD
}

func subscriberFromPayload(payload map[string]any) string {
	for _, key := range []string{"phone_number", "caller_number", "msisdn", "from", "subscriber"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return "unknown"
}
