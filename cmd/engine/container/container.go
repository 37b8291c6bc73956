// Package container wires every engine component once, singleton style.
package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/condition"
	"github.com/telflow/telflow/cmd/engine/dispatch"
	"github.com/telflow/telflow/cmd/engine/execlog"
	"github.com/telflow/telflow/cmd/engine/runtime"
	"github.com/telflow/telflow/cmd/engine/scheduler"
	"github.com/telflow/telflow/cmd/engine/service"
	"github.com/telflow/telflow/cmd/engine/session"
	"github.com/telflow/telflow/cmd/engine/telecom"
	"github.com/telflow/telflow/common/bootstrap"
	"github.com/telflow/telflow/common/ratelimit"
	"github.com/telflow/telflow/common/repository"
)

// Container holds all initialized services and stores.
type Container struct {
	Components *bootstrap.Components

	Registry   *catalog.Registry
	Dispatcher *dispatch.Dispatcher
	Engine     *runtime.Engine

	Sessions  session.Store
	Workflows repository.WorkflowStore
	Logs      execlog.Store
	Limiter   ratelimit.Limiter
	Provider  telecom.Provider

	ExecutionService *service.ExecutionService
	WorkflowService  *service.WorkflowService
	EventService     *service.EventService
	Scheduler        *scheduler.Scheduler
}

// NewContainer initializes every component once, bottom-up.
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	var sessions session.Store
	switch cfg.Session.Backend {
	case "redis":
		if components.Redis == nil {
			return nil, fmt.Errorf("session backend is redis but redis is not configured")
		}
		sessions = session.NewRedisStore(components.Redis)
	default:
		sessions = session.NewMemoryStore()
	}

	var workflows repository.WorkflowStore
	if cfg.Stores.WorkflowBackend == "postgres" {
		if components.DB == nil {
			return nil, fmt.Errorf("workflow backend is postgres but the database is not configured")
		}
		workflows = repository.NewWorkflowRepository(components.DB)
	} else {
		workflows = repository.NewMemoryWorkflowStore()
	}

	var logs execlog.Store
	if cfg.Stores.LogBackend == "postgres" {
		if components.DB == nil {
			return nil, fmt.Errorf("log backend is postgres but the database is not configured")
		}
		logs = repository.NewExecutionLogRepository(components.DB)
	} else {
		logs = execlog.NewMemoryStore()
	}

	var limiter ratelimit.Limiter
	if components.Redis != nil {
		limiter = ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), log)
	} else {
		limiter = ratelimit.NewMemoryLimiter()
	}

	provider := telecom.NewATClient(cfg.Telecom, log)

	registry := catalog.Builtin()
	dispatcher := dispatch.NewDispatcher()
	if err := dispatch.RegisterLogic(dispatcher, condition.NewEvaluator()); err != nil {
		return nil, err
	}
	if err := dispatch.RegisterState(dispatcher, sessions); err != nil {
		return nil, err
	}
	if err := dispatch.RegisterRateLimit(dispatcher, limiter); err != nil {
		return nil, err
	}
	if err := dispatch.RegisterTelecom(dispatcher, provider); err != nil {
		return nil, err
	}
	if err := dispatch.RegisterHTTP(dispatcher, &http.Client{}); err != nil {
		return nil, err
	}

	engine := runtime.NewEngine(dispatcher, logs, log)

	graphCache := components.Cache
	if !cfg.Cache.Enabled {
		graphCache = nil
	}
	execService := service.NewExecutionService(
		registry, engine, workflows, sessions, logs,
		graphCache, cfg.Cache.GraphTTL, cfg.Session.TTL, log,
	)
	workflowService := service.NewWorkflowService(workflows, registry, log)
	eventService := service.NewEventService(workflows, execService, log)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(workflows, components.Queue, execService, log, cfg.Scheduler.Tick)
	}

	return &Container{
		Components:       components,
		Registry:         registry,
		Dispatcher:       dispatcher,
		Engine:           engine,
		Sessions:         sessions,
		Workflows:        workflows,
		Logs:             logs,
		Limiter:          limiter,
		Provider:         provider,
		ExecutionService: execService,
		WorkflowService:  workflowService,
		EventService:     eventService,
		Scheduler:        sched,
	}, nil
}

// StartBackground launches the scheduler and the session sweeper. Both stop
// when the context is cancelled.
func (c *Container) StartBackground(ctx context.Context) error {
	if c.Scheduler != nil {
		if err := c.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	interval := c.Components.Config.Session.Sweep
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ended, err := c.Sessions.Sweep(ctx); err != nil {
					c.Components.Logger.Error("session sweep failed", "error", err)
				} else if ended > 0 {
					c.Components.Logger.Info("session sweep", "ended", ended)
				}
			}
		}
	}()
	return nil
}

// Stop halts background work.
func (c *Container) Stop() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
}
