// Package orchestrator is the entry point for bulk downloads: it accepts
// submissions, owns the scheduler and rate limiter, and runs the worker
// pool until every queued task has reached a final state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"bulkgrab/internal/pool"
	"bulkgrab/pkg/downloader"
	errs "bulkgrab/pkg/errors"
	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/ratelimit"
	"bulkgrab/pkg/scheduler"
	"bulkgrab/pkg/task"
)

// Orchestrator coordinates submissions and dispatch. Safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	sched    *scheduler.PriorityScheduler
	limiter  *ratelimit.Limiter
	registry *downloader.Registry
	logger   logger.Logger
	now      func() time.Time
	stats    counters

	recorders []Recorder
	// limitsErr holds limits rejected by New; Run refuses to start with it set
	limitsErr error

	mu    sync.RWMutex
	tasks map[string]*task.Task

	running atomic.Bool
}

// QueueStatus describes the current load on the orchestrator
type QueueStatus struct {
	Queued  int
	Running int
	Stats   Statistics
	Sources []ratelimit.State
}

// New creates an orchestrator
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:   cfg,
		sched: scheduler.New(),
		tasks: make(map[string]*task.Task),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}
	if o.registry == nil {
		o.registry = downloader.NewRegistry()
	}
	if o.limiter == nil {
		o.limiter = ratelimit.NewLimiterWithClock(o.now)
	}

	var limitErrs []error
	if cfg.DefaultLimits != (ratelimit.Limits{}) {
		if err := o.limiter.SetDefaults(cfg.DefaultLimits); err != nil {
			limitErrs = append(limitErrs, fmt.Errorf("default limits: %w", err))
		}
	}
	for source, limits := range cfg.Limits() {
		if err := o.limiter.Configure(source, limits); err != nil {
			limitErrs = append(limitErrs, err)
		}
	}
	o.limitsErr = errors.Join(limitErrs...)

	return o
}

// Register binds a downloader to a source name
func (o *Orchestrator) Register(source string, d downloader.Downloader) error {
	return o.registry.Register(source, d)
}

// Sources returns the registered source names
func (o *Orchestrator) Sources() []string {
	return o.registry.Sources()
}

// ConfigureSource sets the rate limits for a source. Limits that could never
// admit a dispatch are a configuration error.
func (o *Orchestrator) ConfigureSource(source string, limits ratelimit.Limits) error {
	if err := o.limiter.Configure(source, limits); err != nil {
		return err
	}
	o.logger.DebugWithFields("Configured source limits", map[string]interface{}{
		"source":         source,
		"max_per_window": limits.MaxPerWindow,
		"min_spacing":    limits.MinSpacing,
	})
	return nil
}

// SubmitOne queues a single target and returns its task id. Sources are
// resolved at dispatch, so an unregistered source fails there, not here.
func (o *Orchestrator) SubmitOne(target, source string, opts downloader.Options, submitOpts ...SubmitOption) string {
	so := o.submitOptions(submitOpts)
	t := o.newTask(target, source, opts, so)
	o.enqueue(t)

	o.logger.DebugWithFields("Task submitted", map[string]interface{}{
		"task_id":  t.ID,
		"source":   source,
		"target":   target,
		"priority": t.Priority,
	})
	return t.ID
}

// SubmitBulk queues one task per target, all with the same priority and
// options, and returns their ids in input order
func (o *Orchestrator) SubmitBulk(targets []string, source string, opts downloader.Options, submitOpts ...SubmitOption) []string {
	so := o.submitOptions(submitOpts)
	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		t := o.newTask(target, source, opts, so)
		o.enqueue(t)
		ids = append(ids, t.ID)
	}

	o.logger.InfoWithFields("Bulk submission queued", map[string]interface{}{
		"source":   source,
		"count":    len(ids),
		"priority": o.priorityOf(so),
	})
	return ids
}

// SubmitCollection expands a collection through the source's downloader and
// queues every resulting target
func (o *Orchestrator) SubmitCollection(collection, source string, opts downloader.Options, submitOpts ...SubmitOption) ([]string, error) {
	d, ok := o.registry.Lookup(source)
	if !ok {
		return nil, errs.UnknownSource("", source)
	}
	expander, ok := d.(downloader.Expander)
	if !ok {
		return nil, errs.Configuration(fmt.Sprintf("source %q cannot expand collections", source))
	}

	targets, err := expander.Expand(collection, opts)
	if err != nil {
		return nil, fmt.Errorf("expand collection %q: %w", collection, err)
	}
	return o.SubmitBulk(targets, source, opts, submitOpts...), nil
}

// Run dispatches queued tasks with the given number of workers and blocks
// until the queue is empty and nothing is running. Individual task failures
// never surface here; only misconfiguration, cancellation of ctx, or an
// internal state error do.
func (o *Orchestrator) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		return errs.Configuration(fmt.Sprintf("worker count must be positive, got %d", workers))
	}
	if o.limitsErr != nil {
		return o.limitsErr
	}
	if !o.running.CompareAndSwap(false, true) {
		return errs.Configuration("orchestrator is already running")
	}
	defer o.running.Store(false)

	p, err := pool.New(pool.Config{
		Workers:     workers,
		MaxRetries:  o.cfg.MaxRetries,
		IdleBackoff: o.cfg.IdleBackoff,
	}, o.sched, o.limiter, o.registry, o.recorder(), o.logger)
	if err != nil {
		return err
	}

	logger.LogComponentStart(o.logger, "orchestrator", map[string]interface{}{
		"workers": workers,
		"queued":  o.sched.Len(),
	})

	start := o.now()
	err = p.Run(ctx)

	stats := o.Stats()
	reason := "drained"
	if err != nil {
		reason = err.Error()
	}
	o.logger.InfoWithFields("Run finished", map[string]interface{}{
		"completed": stats.TotalCompleted,
		"failed":    stats.TotalFailed,
		"cancelled": stats.TotalCancelled,
		"bytes":     stats.BytesDownloaded,
		"elapsed":   o.now().Sub(start),
	})
	logger.LogComponentStop(o.logger, "orchestrator", reason)

	return err
}

// Running reports whether Run is in progress
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Stats returns a snapshot of the aggregate counters
func (o *Orchestrator) Stats() Statistics {
	return o.stats.snapshot()
}

// ResetStats zeroes the aggregate counters
func (o *Orchestrator) ResetStats() {
	o.stats.reset()
}

// Cancel cancels a task that has not been dispatched yet. It returns false
// for running, finished or unknown tasks.
func (o *Orchestrator) Cancel(id string) bool {
	if !o.sched.Cancel(id) {
		return false
	}
	o.stats.cancelled.Add(1)

	if t := o.lookup(id); t != nil {
		o.logger.InfoWithFields("Task cancelled", map[string]interface{}{
			"task_id": id,
			"source":  t.Source,
		})
		if t.OnComplete != nil {
			t.OnComplete(t.Snapshot())
		}
	}
	return true
}

// CancelAll cancels every task still waiting in the queue
func (o *Orchestrator) CancelAll() int {
	drained := o.sched.Drain()
	o.stats.cancelled.Add(int64(len(drained)))
	for _, t := range drained {
		if t.OnComplete != nil {
			t.OnComplete(t.Snapshot())
		}
	}
	return len(drained)
}

// Task returns a snapshot of one task
func (o *Orchestrator) Task(id string) (task.Info, bool) {
	t := o.lookup(id)
	if t == nil {
		return task.Info{}, false
	}
	return t.Snapshot(), true
}

// Tasks returns snapshots of every tracked task in submission order
func (o *Orchestrator) Tasks() []task.Info {
	o.mu.RLock()
	infos := make([]task.Info, 0, len(o.tasks))
	for _, t := range o.tasks {
		infos = append(infos, t.Snapshot())
	}
	o.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].SubmittedAt.Equal(infos[j].SubmittedAt) {
			return infos[i].SubmittedAt.Before(infos[j].SubmittedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Clear forgets a finished task. Queued and running tasks are kept.
func (o *Orchestrator) Clear(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok || !t.Status().IsTerminal() {
		return false
	}
	delete(o.tasks, id)
	return true
}

// ClearFinished forgets every finished task and returns how many were removed
func (o *Orchestrator) ClearFinished() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for id, t := range o.tasks {
		if t.Status().IsTerminal() {
			delete(o.tasks, id)
			removed++
		}
	}
	return removed
}

// QueueStatus reports queued and running counts with per-source limiter state
func (o *Orchestrator) QueueStatus() QueueStatus {
	status := QueueStatus{
		Queued:  o.sched.Len(),
		Stats:   o.Stats(),
		Sources: o.limiter.States(),
	}

	o.mu.RLock()
	for _, t := range o.tasks {
		if t.Status().IsActive() {
			status.Running++
		}
	}
	o.mu.RUnlock()

	return status
}

// BatchProgress returns the percentage of the given tasks that have finished.
// Unknown ids are ignored.
func (o *Orchestrator) BatchProgress(ids []string) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	known, finished := 0, 0
	for _, id := range ids {
		t, ok := o.tasks[id]
		if !ok {
			continue
		}
		known++
		if t.Status().IsTerminal() {
			finished++
		}
	}
	if known == 0 {
		return 0
	}
	return float64(finished) * 100 / float64(known)
}

func (o *Orchestrator) recorder() pool.Recorder {
	if len(o.recorders) == 0 {
		return &o.stats
	}
	return append(fanout{&o.stats}, o.recorders...)
}

func (o *Orchestrator) submitOptions(opts []SubmitOption) submitOptions {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}
	return so
}

func (o *Orchestrator) priorityOf(so submitOptions) int {
	if so.hasPriority {
		return so.priority
	}
	return o.cfg.DefaultPriority
}

func (o *Orchestrator) newTask(target, source string, opts downloader.Options, so submitOptions) *task.Task {
	t := task.NewAt(target, source, opts, o.priorityOf(so), o.now())

	if so.progress != nil {
		hook, id := so.progress, t.ID
		t.OnProgress = func(percent int) {
			hook(id, percent)
		}
	}
	if so.completion != nil {
		t.OnComplete = so.completion
	}
	return t
}

func (o *Orchestrator) enqueue(t *task.Task) {
	o.mu.Lock()
	o.tasks[t.ID] = t
	o.mu.Unlock()

	o.stats.requested.Add(1)
	o.sched.Submit(t)
}

func (o *Orchestrator) lookup(id string) *task.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tasks[id]
}
