// Package scheduler fires workflows with scheduled triggers. A ticker scans
// the workflow store, computes due cron slots and publishes run requests to
// the queue; a consumer picks them up and invokes the engine.
package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/queue"
	"github.com/telflow/telflow/common/repository"
)

// TopicScheduledRuns carries RunRequest messages from the ticker to the
// consumer.
const TopicScheduledRuns = "scheduled-runs"

// RunRequest is one due firing of a scheduled workflow.
type RunRequest struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	FiredAt    time.Time `json:"fired_at"`
	Cron       string    `json:"cron"`
}

// Runner executes one scheduled firing. The container wires this to the
// engine so the scheduler stays free of execution concerns.
type Runner interface {
	RunScheduled(ctx context.Context, workflowID uuid.UUID, firedAt time.Time) error
}

type Scheduler struct {
	store  repository.WorkflowStore
	queue  queue.Queue
	runner Runner
	log    *logger.Logger
	tick   time.Duration
	now    func() time.Time

	mu sync.Mutex
	// lastScan bounds the window each tick checks so a slot fires once.
	lastScan time.Time

	stop    chan struct{}
	stopped sync.Once
}

func New(store repository.WorkflowStore, q queue.Queue, runner Runner, log *logger.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{
		store:  store,
		queue:  q,
		runner: runner,
		log:    log,
		tick:   tick,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Start launches the ticker and the queue consumer. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.lastScan = s.now()
	s.mu.Unlock()

	if err := s.queue.Subscribe(ctx, TopicScheduledRuns, s.consume); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
	return nil
}

func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
}

// scan publishes a run request for every scheduled workflow with a cron slot
// inside (lastScan, now].
func (s *Scheduler) scan(ctx context.Context) {
	s.mu.Lock()
	from := s.lastScan
	to := s.now()
	s.lastScan = to
	s.mu.Unlock()

	workflows, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("listing workflows for schedule scan", "error", err)
		return
	}

	for _, wf := range workflows {
		expr, ok := scheduledCron(wf)
		if !ok {
			continue
		}
		sched, err := parseCron(expr)
		if err != nil {
			s.log.Error("skipping workflow with bad cron", "workflow_id", wf.Metadata.ID, "error", err)
			continue
		}
		next := sched.Next(from)
		if next.After(to) {
			continue
		}

		req := RunRequest{WorkflowID: wf.Metadata.ID, FiredAt: next, Cron: expr}
		payload, err := json.Marshal(req)
		if err != nil {
			continue
		}
		if err := s.queue.Publish(ctx, TopicScheduledRuns, wf.Metadata.ID.String(), payload); err != nil {
			s.log.Error("publishing scheduled run", "workflow_id", wf.Metadata.ID, "error", err)
		}
	}
}

func (s *Scheduler) consume(ctx context.Context, _ string, value []byte) error {
	var req RunRequest
	if err := json.Unmarshal(value, &req); err != nil {
		s.log.Error("dropping malformed run request", "error", err)
		return nil
	}
	if err := s.runner.RunScheduled(ctx, req.WorkflowID, req.FiredAt); err != nil {
		s.log.Error("scheduled run failed", "workflow_id", req.WorkflowID, "error", err)
	}
	return nil
}

// scheduledCron extracts the cron expression when the workflow's trigger is
// the scheduled type.
func scheduledCron(wf *models.WorkflowDescription) (string, bool) {
	trigger := wf.Trigger
	if trigger.Type != models.TriggerScheduled || trigger.Disabled {
		return "", false
	}
	expr, _ := trigger.Config["cron_expression"].(string)
	return expr, expr != ""
}

func parseCron(expr string) (cron.Schedule, error) {
	if len(strings.Fields(expr)) == 6 {
		return cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(expr)
	}
	return cron.ParseStandard(expr)
}
