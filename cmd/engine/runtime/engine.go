// Package runtime walks compiled graphs: gating, input assembly, retries,
// timeouts and branch routing live here.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/dispatch"
	"github.com/telflow/telflow/cmd/engine/execlog"
	"github.com/telflow/telflow/cmd/engine/template"
	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
)

// DefaultInvocationTimeout bounds one whole invocation end to end.
const DefaultInvocationTimeout = 5 * time.Minute

// Engine executes compiled graphs sequentially in topological order. One
// Engine instance serves concurrent invocations; all mutable state is
// per-invocation.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	log        execlog.Store
	logger     *logger.Logger

	invocationTimeout time.Duration
	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// InvokeOptions tune a single invocation. Zero values fall back to the
// engine-wide defaults.
type InvokeOptions struct {
	// MaxExecutionMS caps the whole invocation; 0 keeps the engine default.
	MaxExecutionMS int `json:"max_execution_ms"`
	// EnableRetries disables per-node retries when explicitly false.
	EnableRetries *bool `json:"enable_retries"`
}

func (o *InvokeOptions) retriesEnabled() bool {
	return o == nil || o.EnableRetries == nil || *o.EnableRetries
}

type Option func(*Engine)

func WithInvocationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.invocationTimeout = d
		}
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

func NewEngine(dispatcher *dispatch.Dispatcher, log execlog.Store, lg *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		dispatcher:        dispatcher,
		log:               log,
		logger:            lg,
		invocationTimeout: DefaultInvocationTimeout,
		sleep:             sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is what one invocation produced.
type Result struct {
	ExecutionID string                `json:"execution_id"`
	Status      models.ExecutionState `json:"status"`
	Output      map[string]any        `json:"output,omitempty"`
	Error       *models.NodeError     `json:"error,omitempty"`
	NodeResults []models.NodeResult   `json:"node_results"`
	DurationMS  int64                 `json:"duration_ms"`
	SessionID   string                `json:"session_id,omitempty"`
}

// settle is the per-invocation record of what one node produced.
type settle struct {
	processed bool
	ran       bool
	skipped   bool
	output    map[string]any
	// handles that fired: outgoing edges whose source_handle is in this
	// set (or is empty) deliver downstream. An empty set on a ran node
	// means every edge fires.
	handles map[string]bool
	result  *models.NodeResult
}

func (s *settle) fired(handle string) bool {
	if !s.processed || s.skipped {
		return false
	}
	if handle == "" || len(s.handles) == 0 {
		return true
	}
	return s.handles[handle]
}

// Execute runs one invocation of a compiled graph. The returned error covers
// infrastructure faults only; workflow-level failures come back in Result.
func (e *Engine) Execute(ctx context.Context, graph *compiler.Graph, ec *models.ExecutionContext, opts *InvokeOptions) (*Result, error) {
	if ec.ExecutionID == "" {
		ec.ExecutionID = uuid.NewString()
	}
	if ec.Variables == nil {
		ec.Variables = map[string]any{}
	}
	started := time.Now()
	ec.StartedAt = started

	lg := e.logger.WithExecutionID(ec.ExecutionID)
	if err := e.log.Start(ctx, ec.ExecutionID, graph.WorkflowID, graph.WorkflowVersion, started); err != nil {
		return nil, fmt.Errorf("recording execution start: %w", err)
	}

	budget := e.invocationTimeout
	if opts != nil && opts.MaxExecutionMS > 0 {
		budget = time.Duration(opts.MaxExecutionMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	settles := make(map[string]*settle, len(graph.Order))
	for _, id := range graph.Order {
		settles[id] = &settle{}
	}

	// The trigger settles synthetically with the trigger payload; every
	// outgoing edge fires. The payload seeds the context variables so
	// templates anywhere in the graph resolve its keys.
	trigger := settles[graph.TriggerID]
	trigger.processed = true
	trigger.ran = true
	trigger.output = ec.TriggerPayload
	for k, v := range ec.TriggerPayload {
		ec.Variables[k] = v
	}
	ec.Variables["node_"+graph.TriggerID] = ec.TriggerPayload

	run := &invocation{
		engine:  e,
		graph:   graph,
		ec:      ec,
		settles: settles,
		logger:  lg,
		retries: opts.retriesEnabled(),
	}
	status, finalErr := run.walk(ctx)

	output := run.finalOutput()
	results := run.collectResults(ctx)

	if err := e.log.End(ctx, ec.ExecutionID, status, output, finalErr); err != nil {
		lg.Error("recording execution end", "error", err)
	}

	res := &Result{
		ExecutionID: ec.ExecutionID,
		Status:      status,
		Output:      output,
		Error:       finalErr,
		NodeResults: results,
		DurationMS:  time.Since(started).Milliseconds(),
	}
	if ec.Session != nil {
		res.SessionID = ec.Session.SessionID
	}
	return res, nil
}

// invocation holds one Execute call's working state.
type invocation struct {
	engine  *Engine
	graph   *compiler.Graph
	ec      *models.ExecutionContext
	settles map[string]*settle
	logger  *logger.Logger
	retries bool

	halted bool // a session_end node ran
	order  []string
}

// walk processes nodes in execution order. A pass may reopen skipped nodes
// when a retry guard reroutes to its max_retries branch, so it loops until a
// full pass makes no progress.
func (inv *invocation) walk(ctx context.Context) (models.ExecutionState, *models.NodeError) {
	for {
		progressed := false
		for _, id := range inv.graph.Order {
			if id == inv.graph.TriggerID {
				continue
			}
			s := inv.settles[id]
			if s.processed || inv.halted {
				continue
			}
			if err := ctx.Err(); err != nil {
				return timeoutState(err)
			}

			node := inv.graph.Nodes[id]
			status, nerr := inv.processNode(ctx, node, s)
			progressed = true
			if nerr != nil {
				return status, nerr
			}
		}
		if !progressed || inv.halted {
			return models.StateCompleted, nil
		}
	}
}

// processNode gates, assembles input and runs one node. A non-nil NodeError
// return fails the whole invocation.
func (inv *invocation) processNode(ctx context.Context, node *compiler.Node, s *settle) (models.ExecutionState, *models.NodeError) {
	in, delivered := inv.assembleInput(node)
	if !delivered {
		s.processed = true
		s.skipped = true
		s.result = &models.NodeResult{
			NodeID:     node.ID,
			Status:     models.StatusSkipped,
			Reason:     models.SkipUnselectedBranch,
			ExecutedAt: time.Now(),
		}
		return models.StateRunning, nil
	}

	if node.Disabled {
		// A disabled node passes its input through; all edges fire.
		s.processed = true
		s.ran = true
		s.output = in.Merged
		s.result = &models.NodeResult{
			NodeID:     node.ID,
			Status:     models.StatusSkipped,
			Reason:     models.SkipDisabled,
			Output:     in.Merged,
			ExecutedAt: time.Now(),
		}
		inv.ec.Variables["node_"+node.ID] = in.Merged
		return models.StateRunning, nil
	}

	outcome, nerr := inv.runWithRetries(ctx, node, in)
	if nerr != nil {
		if fallback := inv.routeFallback(node, nerr); fallback != "" {
			s.processed = true
			s.ran = true
			s.handles = map[string]bool{fallback: true}
			s.output = map[string]any{"error": nerr}
			s.result = lastAttemptResult(node, nerr)
			inv.ec.Variables["node_"+node.ID] = s.output
			return models.StateRunning, nil
		}
		if guard := inv.rerouteRetryGuard(node); guard {
			s.processed = true
			s.skipped = false
			s.ran = false
			s.result = lastAttemptResult(node, nerr)
			return models.StateRunning, nil
		}
		s.processed = true
		s.result = lastAttemptResult(node, nerr)
		if ctx.Err() != nil {
			st, _ := timeoutState(ctx.Err())
			return st, nerr
		}
		return models.StateFailed, nerr
	}

	s.processed = true
	s.ran = true
	s.output = outcome.Output
	if outcome.Handle != "" {
		s.handles = map[string]bool{outcome.Handle: true}
	}
	// A successful node's output merges into the context variables and is
	// also addressable as node_<id>.<key> from later templates.
	for k, v := range outcome.Output {
		inv.ec.Variables[k] = v
	}
	inv.ec.Variables["node_"+node.ID] = outcome.Output

	if node.EndsSession {
		inv.halted = true
	}
	return models.StateRunning, nil
}

// assembleInput gathers contributions from settled upstream edges. An edge
// contributes when its source fired the edge's handle and the edge condition
// (if any) holds against the source output.
func (inv *invocation) assembleInput(node *compiler.Node) (*dispatch.Input, bool) {
	in := &dispatch.Input{Merged: map[string]any{}}

	if len(node.Incoming) == 0 {
		return in, true
	}
	delivered := false
	for _, edge := range node.Incoming {
		src, ok := inv.settles[edge.Source]
		if !ok || !src.fired(edge.SourceHandle) {
			continue
		}
		if edge.Condition != "" {
			scope := template.BuildScope(inv.ec, src.output)
			if !template.EvaluatePredicate(edge.Condition, scope) {
				continue
			}
		}
		delivered = true
		in.Upstream = append(in.Upstream, src.output)
		for k, v := range src.output {
			in.Merged[k] = v
		}
	}
	return in, delivered
}

// runWithRetries executes the node under its effective retry policy, logging
// every attempt. The attempt counter in results starts at zero.
func (inv *invocation) runWithRetries(ctx context.Context, node *compiler.Node, in *dispatch.Input) (*dispatch.Outcome, *models.NodeError) {
	handler, ok := inv.engine.dispatcher.Get(node.Type)
	if !ok {
		return nil, models.NewNodeError(models.CodeUnknownNodeType,
			fmt.Sprintf("no handler for node type %q", node.Type), models.ErrorPermanent)
	}

	policy := inv.effectiveRetry(node)
	attempts := policy.MaxAttempts
	if attempts < 1 || !inv.retries {
		attempts = 1
	}

	var nerr *models.NodeError
	for attempt := 0; attempt < attempts; attempt++ {
		outcome, attemptErr := inv.runAttempt(ctx, node, handler, in, attempt)
		if attemptErr == nil {
			return outcome, nil
		}
		nerr = attemptErr

		last := attempt == attempts-1
		if last || !retryable(policy, nerr) || ctx.Err() != nil {
			break
		}
		if err := inv.engine.sleep(ctx, backoff(policy, attempt)); err != nil {
			break
		}
	}
	return nil, nerr
}

func (inv *invocation) runAttempt(ctx context.Context, node *compiler.Node, handler dispatch.Handler, in *dispatch.Input, attempt int) (*dispatch.Outcome, *models.NodeError) {
	nodeCtx, cancel := context.WithTimeout(ctx, node.Timeout)
	defer cancel()

	start := time.Now()
	outcome, nerr := handler(nodeCtx, node, inv.ec, in)
	duration := time.Since(start).Milliseconds()

	if nerr == nil && nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		nerr = models.NewNodeError(models.CodeNodeTimeout,
			fmt.Sprintf("node exceeded %s budget", node.Timeout), models.ErrorTransient)
	}

	result := models.NodeResult{
		NodeID:     node.ID,
		DurationMS: duration,
		ExecutedAt: start,
		Attempt:    attempt,
	}
	if nerr != nil {
		result.Status = models.StatusError
		if nerr.Code == models.CodeNodeTimeout {
			result.Status = models.StatusTimeout
		}
		result.Error = nerr
		inv.appendResult(ctx, result)
		return nil, nerr
	}

	result.Status = models.StatusSuccess
	result.Output = outcome.Output
	result.Handle = outcome.Handle
	inv.appendResult(ctx, result)
	return outcome, nil
}

// effectiveRetry prefers a retry guard feeding this node over the node's own
// policy. A retry node's config protects its direct successors.
func (inv *invocation) effectiveRetry(node *compiler.Node) models.RetryPolicy {
	for _, edge := range node.Incoming {
		src := inv.graph.Nodes[edge.Source]
		if src == nil || src.Type != catalog.TypeRetry {
			continue
		}
		if edge.SourceHandle != "" && edge.SourceHandle != catalog.HandleSuccess {
			continue
		}
		return models.RetryPolicy{
			MaxAttempts:       int(numberCfg(src.Config, "max_attempts")),
			InitialDelayMS:    int(numberCfg(src.Config, "initial_delay_ms")),
			MaxDelayMS:        int(numberCfg(src.Config, "max_delay_ms")),
			BackoffMultiplier: numberCfg(src.Config, "backoff_multiplier"),
			RetryableErrors:   stringsCfg(src.Config, "retryable_errors"),
		}
	}
	return node.Retry
}

// routeFallback picks the error branch for an unrecovered node error:
// timeout edges win for timeouts, then a plain error edge, then max_retries.
func (inv *invocation) routeFallback(node *compiler.Node, nerr *models.NodeError) string {
	available := map[string]bool{}
	for _, edge := range node.Outgoing {
		switch edge.SourceHandle {
		case catalog.HandleError, catalog.HandleTimeout, catalog.HandleMaxRetries:
			available[edge.SourceHandle] = true
		}
	}
	if nerr.Code == models.CodeNodeTimeout && available[catalog.HandleTimeout] {
		return catalog.HandleTimeout
	}
	if available[catalog.HandleError] {
		return catalog.HandleError
	}
	if available[catalog.HandleMaxRetries] {
		return catalog.HandleMaxRetries
	}
	return ""
}

// rerouteRetryGuard fires the max_retries branch of a retry node guarding
// this node. Any successors skipped while that branch was dark are reopened
// so the next pass can run them.
func (inv *invocation) rerouteRetryGuard(node *compiler.Node) bool {
	for _, edge := range node.Incoming {
		src := inv.graph.Nodes[edge.Source]
		if src == nil || src.Type != catalog.TypeRetry {
			continue
		}
		guard := inv.settles[src.ID]
		if guard == nil || !guard.ran {
			continue
		}
		hasBranch := false
		for _, out := range src.Outgoing {
			if out.SourceHandle == catalog.HandleMaxRetries {
				hasBranch = true
			}
		}
		if !hasBranch {
			continue
		}
		if guard.handles == nil {
			guard.handles = map[string]bool{}
		}
		guard.handles[catalog.HandleMaxRetries] = true
		inv.reopenSkipped(src.ID)
		return true
	}
	return false
}

// reopenSkipped clears skip marks downstream of a node so the walk loop
// reconsiders them.
func (inv *invocation) reopenSkipped(nodeID string) {
	node := inv.graph.Nodes[nodeID]
	if node == nil {
		return
	}
	for _, edge := range node.Outgoing {
		s := inv.settles[edge.Target]
		if s == nil || !s.processed || !s.skipped {
			continue
		}
		s.processed = false
		s.skipped = false
		s.result = nil
		inv.reopenSkipped(edge.Target)
	}
}

func (inv *invocation) appendResult(ctx context.Context, result models.NodeResult) {
	if err := inv.engine.log.AppendNode(ctx, inv.ec.ExecutionID, result); err != nil {
		inv.logger.Error("recording node result", "node_id", result.NodeID, "error", err)
	}
	inv.order = append(inv.order, result.NodeID)
}

// collectResults flushes skip records into the log and returns the full
// per-node history in execution order.
func (inv *invocation) collectResults(ctx context.Context) []models.NodeResult {
	var results []models.NodeResult
	appended := map[string]bool{}
	for _, id := range inv.graph.Order {
		s := inv.settles[id]
		if s.result == nil || id == inv.graph.TriggerID {
			continue
		}
		if s.result.Status == models.StatusSkipped && !appended[id] {
			if err := inv.engine.log.AppendNode(ctx, inv.ec.ExecutionID, *s.result); err != nil {
				inv.logger.Error("recording skip result", "node_id", id, "error", err)
			}
			appended[id] = true
		}
	}
	log, err := inv.engine.log.Get(ctx, inv.ec.ExecutionID)
	if err == nil && log != nil {
		results = log.NodeResults
	}
	return results
}

// finalOutput merges the outputs of ran nodes whose selected edges all lead
// nowhere further, which makes it the output of the graph's leaves. When
// nothing beyond the trigger ran, the trigger payload is the output.
func (inv *invocation) finalOutput() map[string]any {
	out := map[string]any{}
	ranAny := false
	for _, id := range inv.graph.Order {
		s := inv.settles[id]
		if !s.ran || id == inv.graph.TriggerID {
			continue
		}
		ranAny = true
		leaf := true
		for _, edge := range inv.graph.Nodes[id].Outgoing {
			target := inv.settles[edge.Target]
			if target != nil && target.ran && s.fired(edge.SourceHandle) {
				leaf = false
				break
			}
		}
		if leaf {
			for k, v := range s.output {
				out[k] = v
			}
		}
	}
	if !ranAny {
		for k, v := range inv.settles[inv.graph.TriggerID].output {
			out[k] = v
		}
	}
	return out
}

func lastAttemptResult(node *compiler.Node, nerr *models.NodeError) *models.NodeResult {
	status := models.StatusError
	if nerr.Code == models.CodeNodeTimeout {
		status = models.StatusTimeout
	}
	return &models.NodeResult{
		NodeID:     node.ID,
		Status:     status,
		Error:      nerr,
		ExecutedAt: time.Now(),
	}
}

func retryable(policy models.RetryPolicy, nerr *models.NodeError) bool {
	if len(policy.RetryableErrors) > 0 {
		for _, code := range policy.RetryableErrors {
			if code == nerr.Code || code == string(nerr.Type) {
				return true
			}
		}
		return false
	}
	return nerr.Retryable()
}

// backoff computes the delay before the next attempt, capped at the policy
// maximum.
func backoff(policy models.RetryPolicy, attempt int) time.Duration {
	initial := float64(policy.InitialDelayMS)
	if initial <= 0 {
		initial = 1000
	}
	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= multiplier
	}
	if max := float64(policy.MaxDelayMS); max > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay) * time.Millisecond
}

func numberCfg(config map[string]any, key string) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func stringsCfg(config map[string]any, key string) []string {
	raw, _ := config[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func timeoutState(err error) (models.ExecutionState, *models.NodeError) {
	if err == context.DeadlineExceeded {
		return models.StateFailed, models.NewNodeError(models.CodeExecutionTimeout,
			"invocation exceeded its time budget", models.ErrorTransient)
	}
	return models.StateCancelled, models.NewNodeError(models.CodeExecutionTimeout,
		"invocation cancelled", models.ErrorTransient)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
