package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/on-par/agent-ops/internal/domain"
)

// Status is an observational snapshot of the driver loop. Safe to read
// concurrently with running cycles.
type Status struct {
	Running           bool
	CycleCount        int64
	LastCycleAt       time.Time
	LastCycleDuration time.Duration
	QueueLength       int
	ActiveAssignments int
	PendingRetries    int
	LedgerGlobal      int
}

// Orchestrator is the driver loop composing the queue, scorer, progress
// tracker, retry engine, and concurrency ledger. One logical scheduler
// runs each cycle; executions are submitted asynchronously and their
// continuations run on their own goroutines.
type Orchestrator struct {
	store    WorkStore
	pool     WorkerPool
	workflow Workflow
	executor Executor

	queue    *Queue
	scorer   *Scorer
	progress *Tracker
	retries  *RetryEngine
	ledger   *Ledger

	preHooks   []PreExecutionHook
	postHooks  []PostExecutionHook
	errorHooks []ErrorHook

	// collected by options before the components are built
	progressOpts    []TrackerOption
	escalationHooks []EscalationHook

	sessionID string

	mu                sync.Mutex
	cfg               Config
	running           bool
	done              chan struct{}
	cycleCount        int64
	lastCycleAt       time.Time
	lastCycleDuration time.Duration

	wg  sync.WaitGroup
	now func() time.Time

	cyclesTotal     metric.Int64Counter
	dispatchesTotal metric.Int64Counter
	cycleDuration   metric.Float64Histogram
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithSink attaches the observability sink for work-item updates.
func WithSink(sink UpdateSink) Option {
	return func(o *Orchestrator) { o.progressOpts = append(o.progressOpts, WithUpdateSink(sink)) }
}

// WithProgressPublisher attaches the external progress-event publisher.
func WithProgressPublisher(p ProgressPublisher) Option {
	return func(o *Orchestrator) { o.progressOpts = append(o.progressOpts, WithPublisher(p)) }
}

// WithPreExecutionHook appends a pre-execution hook.
func WithPreExecutionHook(h PreExecutionHook) Option {
	return func(o *Orchestrator) { o.preHooks = append(o.preHooks, h) }
}

// WithPostExecutionHook appends a post-execution hook.
func WithPostExecutionHook(h PostExecutionHook) Option {
	return func(o *Orchestrator) { o.postHooks = append(o.postHooks, h) }
}

// WithErrorHook appends an error hook.
func WithErrorHook(h ErrorHook) Option {
	return func(o *Orchestrator) { o.errorHooks = append(o.errorHooks, h) }
}

// WithEscalationHook registers a hook invoked on every escalation.
func WithEscalationHook(h EscalationHook) Option {
	return func(o *Orchestrator) { o.escalationHooks = append(o.escalationHooks, h) }
}

// New creates an orchestrator over the given external collaborators.
func New(store WorkStore, pool WorkerPool, templates TemplateSource, workflow Workflow, executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		pool:      pool,
		workflow:  workflow,
		executor:  executor,
		cfg:       DefaultConfig(),
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.queue = NewQueue(store)
	o.scorer = NewScorer(pool, templates, o.cfg.ScoringWeights)
	o.progress = NewTracker(workflow, o.progressOpts...)
	o.retries = NewRetryEngine(o.cfg.MaxRetryAttempts, o.cfg.RetryBaseDelay, o.cfg.RetryMaxDelay)
	o.ledger = NewLedger(o.cfg.MaxGlobalWorkers, o.cfg.MaxWorkersPerRepo, o.cfg.MaxWorkersPerUser)

	for _, h := range o.escalationHooks {
		o.retries.RegisterEscalationHook(h)
	}

	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	meter := otel.Meter("github.com/on-par/agent-ops/internal/orchestrator")

	var err error
	if o.cyclesTotal, err = meter.Int64Counter("orchestrator.cycles",
		metric.WithDescription("Completed scheduling cycles")); err != nil {
		slog.Warn("failed to create cycle counter", "error", err)
	}
	if o.dispatchesTotal, err = meter.Int64Counter("orchestrator.dispatches",
		metric.WithDescription("Execution dispatches by outcome")); err != nil {
		slog.Warn("failed to create dispatch counter", "error", err)
	}
	if o.cycleDuration, err = meter.Float64Histogram("orchestrator.cycle.duration",
		metric.WithDescription("Cycle duration in seconds"),
		metric.WithUnit("s")); err != nil {
		slog.Warn("failed to create cycle duration histogram", "error", err)
	}
}

// Queue exposes the priority queue for observation.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// Scorer exposes the assignment scorer.
func (o *Orchestrator) Scorer() *Scorer { return o.scorer }

// Progress exposes the progress tracker.
func (o *Orchestrator) Progress() *Tracker { return o.progress }

// Retries exposes the retry engine.
func (o *Orchestrator) Retries() *RetryEngine { return o.retries }

// Ledger exposes the concurrency ledger.
func (o *Orchestrator) Ledger() *Ledger { return o.ledger }

// Start runs the first cycle immediately, then schedules cycles at the
// configured interval until Stop is called or the context is cancelled.
// Cycles never overlap: a late cycle delays the next one.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	o.running = true
	o.done = make(chan struct{})
	done := o.done
	interval := o.cfg.CycleInterval
	o.mu.Unlock()

	slog.InfoContext(ctx, "orchestrator started",
		"session_id", o.sessionID,
		"cycle_interval", interval)

	o.runCycle(ctx)

	timer := time.NewTimer(o.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "orchestrator context cancelled, shutting down")
			o.setStopped()
			o.wg.Wait()
			return ctx.Err()
		case <-done:
			slog.InfoContext(ctx, "orchestrator stopped")
			o.setStopped()
			o.wg.Wait()
			return nil
		case <-timer.C:
			o.runCycle(ctx)
			timer.Reset(o.currentInterval())
		}
	}
}

func (o *Orchestrator) currentInterval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.CycleInterval
}

func (o *Orchestrator) setStopped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
}

// Stop ends the loop. A cycle in progress finishes; in-flight executions
// are not cancelled.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.done == nil {
		return
	}
	select {
	case <-o.done:
	default:
		close(o.done)
	}
}

// ForceCycle runs a single scheduling cycle synchronously. Exposed for
// tests and manual triggering; must not run concurrently with Start's loop.
func (o *Orchestrator) ForceCycle(ctx context.Context) {
	o.runCycle(ctx)
}

// runCycle executes one scheduling cycle: refresh the queue, promote ready
// retries, then drain by assigning and dispatching. A failing cycle is
// logged and tolerated; the next cycle retries.
func (o *Orchestrator) runCycle(ctx context.Context) {
	start := o.now()

	if err := o.refreshQueue(ctx); err != nil {
		slog.ErrorContext(ctx, "cycle aborted: queue refresh failed", "error", err)
		o.finishCycle(ctx, start)
		return
	}

	o.promoteRetries(ctx)
	o.drainQueue(ctx)
	o.finishCycle(ctx, start)
}

func (o *Orchestrator) finishCycle(ctx context.Context, start time.Time) {
	elapsed := o.now().Sub(start)

	o.mu.Lock()
	o.cycleCount++
	o.lastCycleAt = start
	o.lastCycleDuration = elapsed
	o.mu.Unlock()

	if o.cyclesTotal != nil {
		o.cyclesTotal.Add(ctx, 1)
	}
	if o.cycleDuration != nil {
		o.cycleDuration.Record(ctx, elapsed.Seconds())
	}
}

func (o *Orchestrator) refreshQueue(ctx context.Context) error {
	opCtx, cancel := o.opContext(ctx)
	defer cancel()
	return o.queue.Refresh(opCtx)
}

// promoteRetries re-queues every retry whose wake time has passed. The item
// is re-fetched from the store so the queue holds a current snapshot.
func (o *Orchestrator) promoteRetries(ctx context.Context) {
	for _, rctx := range o.retries.ReadyRetries() {
		opCtx, cancel := o.opContext(ctx)
		item, err := o.store.FindByID(opCtx, rctx.WorkItemID)
		cancel()
		if err != nil {
			slog.ErrorContext(ctx, "failed to re-fetch work item for retry",
				"work_item_id", rctx.WorkItemID,
				"error", err)
			continue
		}
		if item == nil {
			slog.WarnContext(ctx, "work item scheduled for retry no longer exists",
				"work_item_id", rctx.WorkItemID)
			continue
		}

		o.queue.Insert(*item, retryPromotionPriority, rctx.RetryCount)
		slog.InfoContext(ctx, "retry promoted to queue",
			"work_item_id", rctx.WorkItemID,
			"retry_count", rctx.RetryCount,
			"category", rctx.Category)
	}
}

// drainQueue dispatches queued items until the queue is empty or every
// remaining item was deferred this cycle.
func (o *Orchestrator) drainQueue(ctx context.Context) {
	// Bound the drain to the items present when the cycle began so items
	// requeued by a capacity refusal are not retried in the same pass.
	for n := o.queue.Len(); n > 0; n-- {
		qi := o.queue.Next()
		if qi == nil {
			return
		}
		o.dispatch(ctx, qi)
	}
}

// dispatch runs the per-item assignment sequence: admission, scoring,
// ledger registration, hooks, and asynchronous submission to the executor.
func (o *Orchestrator) dispatch(ctx context.Context, qi *QueueItem) {
	item := qi.Item

	admission := o.ledger.MayStart(item)
	if !admission.Allowed {
		slog.DebugContext(ctx, "dispatch deferred by concurrency limit",
			"work_item_id", item.ID,
			"reason", admission.Reason)
		o.queue.Requeue(qi, admission.Reason)
		return
	}

	role := o.scorer.DetermineRole(item)

	opCtx, cancel := o.opContext(ctx)
	worker, err := o.scorer.FindBestWorker(opCtx, item, role)
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "worker scoring failed",
			"work_item_id", item.ID,
			"error", err)
		o.queue.Requeue(qi, fmt.Sprintf("worker scoring failed: %v", err))
		return
	}
	if worker == nil {
		o.queue.Requeue(qi, "no available workers")
		o.maybeSpawnWorker(ctx)
		return
	}

	o.ledger.RegisterStart(item, worker.ID)

	ec := ExecutionContext{
		ExecutionID: uuid.NewString(),
		WorkItem:    item,
		WorkerID:    worker.ID,
		Role:        role,
		StartedAt:   o.now(),
	}

	if err := o.assignWork(ctx, item, worker.ID, role); err != nil {
		slog.ErrorContext(ctx, "assignment failed",
			"work_item_id", item.ID,
			"worker_id", worker.ID,
			"error", err)
		o.ledger.RegisterComplete(item, worker.ID)
		o.queue.Requeue(qi, fmt.Sprintf("assignment failed: %v", err))
		return
	}

	if blocked, reason := o.runPreExecutionHooks(ctx, ec); blocked {
		o.ledger.RegisterComplete(item, worker.ID)
		o.handleExecutionError(ctx, qi, ec, errors.New(reason), domain.ErrorCategoryValidation)
		return
	}

	o.progress.MarkStarted(ctx, item.ID, worker.ID, ec.ExecutionID)

	// The executor call may outlive both the cycle and Stop; the
	// continuation owns slot release and queue cleanup.
	execCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.ledger.RegisterComplete(item, worker.ID)

		result, err := o.executor.Execute(execCtx, ec)
		if err != nil {
			result = ExecutionResult{
				ExecutionID: ec.ExecutionID,
				Status:      ExecutionError,
				Error:       err.Error(),
			}
		}
		o.handleExecutionResult(execCtx, qi, ec, result)
	}()
}

// assignWork informs the workflow and the pool of the assignment.
func (o *Orchestrator) assignWork(ctx context.Context, item domain.WorkItem, workerID string, role domain.Role) error {
	opCtx, cancel := o.opContext(ctx)
	defer cancel()

	if err := o.workflow.AssignWorkToAgent(opCtx, item.ID, workerID, role); err != nil {
		return fmt.Errorf("workflow assignment failed: %w", err)
	}
	if err := o.pool.AssignWork(opCtx, workerID, item.ID, role); err != nil {
		return fmt.Errorf("pool assignment failed: %w", err)
	}
	return nil
}

// runPreExecutionHooks invokes the pre-execution chain in registration
// order. Hook errors are logged and skipped; the first explicit block wins.
func (o *Orchestrator) runPreExecutionHooks(ctx context.Context, ec ExecutionContext) (blocked bool, reason string) {
	for _, hook := range o.preHooks {
		allow, err := o.invokePreHook(ctx, hook, ec)
		if err != nil {
			slog.WarnContext(ctx, "pre-execution hook failed",
				"work_item_id", ec.WorkItem.ID,
				"error", err)
			continue
		}
		if !allow {
			return true, "validation: blocked by pre-execution hook"
		}
	}
	return false, ""
}

func (o *Orchestrator) invokePreHook(ctx context.Context, hook PreExecutionHook, ec ExecutionContext) (allow bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			allow = true
			err = fmt.Errorf("pre-execution hook panicked: %v", r)
		}
	}()
	return hook(ctx, ec)
}

// maybeSpawnWorker asks the pool for a new worker when auto-spawn is
// enabled and a default template is configured.
func (o *Orchestrator) maybeSpawnWorker(ctx context.Context) {
	o.mu.Lock()
	autoSpawn := o.cfg.AutoSpawnWorkers
	templateID := o.cfg.DefaultTemplateID
	o.mu.Unlock()

	if !autoSpawn || templateID == "" {
		return
	}

	opCtx, cancel := o.opContext(ctx)
	defer cancel()

	if !o.pool.CanSpawnMore(opCtx) {
		return
	}
	if err := o.pool.Spawn(opCtx, templateID, o.sessionID); err != nil {
		slog.WarnContext(ctx, "auto-spawn failed",
			"template_id", templateID,
			"error", err)
		return
	}
	slog.InfoContext(ctx, "auto-spawned worker", "template_id", templateID)
}

// handleExecutionResult is the continuation invoked when the executor
// reports back.
func (o *Orchestrator) handleExecutionResult(ctx context.Context, qi *QueueItem, ec ExecutionContext, result ExecutionResult) {
	switch result.Status {
	case ExecutionSuccess:
		o.handleExecutionSuccess(ctx, qi, ec, result)
	case ExecutionCancelled:
		slog.InfoContext(ctx, "execution cancelled",
			"work_item_id", ec.WorkItem.ID,
			"execution_id", ec.ExecutionID)
		o.queue.Complete(ec.WorkItem.ID)
	default:
		execErr := errors.New(result.Error)
		o.handleExecutionError(ctx, qi, ec, execErr, o.retries.Categorize(result.Error))
	}

	if o.dispatchesTotal != nil {
		o.dispatchesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(result.Status))))
	}
}

func (o *Orchestrator) handleExecutionSuccess(ctx context.Context, qi *QueueItem, ec ExecutionContext, result ExecutionResult) {
	item := ec.WorkItem

	o.progress.MarkCompleted(ctx, item.ID, ec.WorkerID, ec.ExecutionID)

	opCtx, cancel := o.opContext(ctx)
	if err := o.workflow.CompleteWork(opCtx, item.ID, ec.WorkerID); err != nil {
		slog.ErrorContext(ctx, "workflow completion failed",
			"work_item_id", item.ID,
			"worker_id", ec.WorkerID,
			"error", err)
	}
	cancel()

	for _, hook := range o.postHooks {
		o.invokePostHook(ctx, hook, ec, result)
	}

	if item.RepositoryID != "" {
		o.scorer.RecordRepoExperience(ec.WorkerID, item.RepositoryID)
	}
	o.retries.ClearErrorHistory(item.ID)
	o.retries.CancelRetry(item.ID)
	o.queue.Complete(item.ID)

	slog.InfoContext(ctx, "execution completed",
		"work_item_id", item.ID,
		"worker_id", ec.WorkerID,
		"execution_id", ec.ExecutionID,
		"tokens_used", result.TokensUsed,
		"cost_usd", result.CostUSD)
}

func (o *Orchestrator) invokePostHook(ctx context.Context, hook PostExecutionHook, ec ExecutionContext, result ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "post-execution hook panicked",
				"work_item_id", ec.WorkItem.ID,
				"panic_value", r)
		}
	}()
	hook(ctx, ec, result)
}

// handleExecutionError is the error continuation: record, notify, schedule
// a retry, and escalate to backlog when the policy refuses one.
func (o *Orchestrator) handleExecutionError(ctx context.Context, qi *QueueItem, ec ExecutionContext, execErr error, category domain.ErrorCategory) {
	item := ec.WorkItem
	message := execErr.Error()

	o.retries.RecordError(item.ID, ec.WorkerID, message)
	slog.ErrorContext(ctx, "execution failed",
		"work_item_id", item.ID,
		"worker_id", ec.WorkerID,
		"execution_id", ec.ExecutionID,
		"category", category,
		"retry_count", qi.RetryCount,
		"error", message)

	o.progress.MarkFailed(ctx, item.ID, ec.WorkerID, ec.ExecutionID, message)

	for _, hook := range o.errorHooks {
		o.invokeErrorHook(ctx, hook, ec, execErr)
	}

	if rctx, ok := o.retries.ScheduleRetry(item.ID, message, qi.RetryCount); ok {
		slog.InfoContext(ctx, "retry scheduled",
			"work_item_id", item.ID,
			"retry_count", rctx.RetryCount,
			"next_retry_at", rctx.NextRetryAt)
	} else {
		o.retries.Escalate(ctx, item.ID, ec.WorkerID, message, category)

		opCtx, cancel := o.opContext(ctx)
		if err := o.workflow.Transition(opCtx, item.ID, domain.WorkItemStatusBacklog); err != nil {
			slog.ErrorContext(ctx, "failed to return escalated item to backlog",
				"work_item_id", item.ID,
				"error", err)
		}
		cancel()
	}

	o.queue.Complete(item.ID)

	opCtx, cancel := o.opContext(ctx)
	if err := o.pool.ReportError(opCtx, ec.WorkerID, message); err != nil {
		slog.WarnContext(ctx, "failed to report error to worker pool",
			"worker_id", ec.WorkerID,
			"error", err)
	}
	cancel()
}

func (o *Orchestrator) invokeErrorHook(ctx context.Context, hook ErrorHook, ec ExecutionContext, execErr error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "error hook panicked",
				"work_item_id", ec.WorkItem.ID,
				"panic_value", r)
		}
	}()
	hook(ctx, ec, execErr)
}

// UpdateConfig applies a partial configuration change. Component policies
// (caps, retry policy, scoring weights) take effect immediately; a changed
// cycle interval applies from the next scheduling of the timer.
func (o *Orchestrator) UpdateConfig(update ConfigUpdate) {
	o.mu.Lock()
	o.cfg.apply(update)
	cfg := o.cfg
	o.mu.Unlock()

	o.ledger.UpdateLimits(&cfg.MaxGlobalWorkers, &cfg.MaxWorkersPerRepo, &cfg.MaxWorkersPerUser)
	o.retries.SetPolicy(cfg.MaxRetryAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	o.scorer.SetWeights(cfg.ScoringWeights)
}

// Config returns a copy of the current configuration.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Status reports the loop's observational state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	running := o.running
	cycleCount := o.cycleCount
	lastCycleAt := o.lastCycleAt
	lastCycleDuration := o.lastCycleDuration
	o.mu.Unlock()

	return Status{
		Running:           running,
		CycleCount:        cycleCount,
		LastCycleAt:       lastCycleAt,
		LastCycleDuration: lastCycleDuration,
		QueueLength:       o.queue.Len(),
		ActiveAssignments: o.queue.ProcessingCount(),
		PendingRetries:    o.retries.PendingRetries(),
		LedgerGlobal:      o.ledger.GlobalCount(),
	}
}

func (o *Orchestrator) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	o.mu.Lock()
	timeout := o.cfg.OperationTimeout
	o.mu.Unlock()
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
