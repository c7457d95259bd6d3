// Package pool runs a fixed set of workers that pull eligible tasks from the
// scheduler, invoke the source's downloader and finalize the outcome.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bulkgrab/pkg/downloader"
	errs "bulkgrab/pkg/errors"
	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/ratelimit"
	"bulkgrab/pkg/retry"
	"bulkgrab/pkg/task"
)

// DefaultIdleBackoff is how long a worker sleeps when nothing is eligible
const DefaultIdleBackoff = 250 * time.Millisecond

// Config controls the size and retry behaviour of a pool
type Config struct {
	Workers     int
	MaxRetries  int
	IdleBackoff time.Duration
}

// Queue is the part of the scheduler the pool consumes
type Queue interface {
	NextEligible(admitter ratelimit.Admitter) *task.Task
	Requeue(t *task.Task)
	Len() int
}

// Registry resolves a source name to its downloader
type Registry interface {
	Lookup(source string) (downloader.Downloader, bool)
}

// Recorder receives terminal outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordCompleted(bytes int64)
	RecordFailed()
}

// Pool dispatches queued tasks to downloaders
type Pool struct {
	cfg      Config
	queue    Queue
	admitter ratelimit.Admitter
	registry Registry
	recorder Recorder
	policy   retry.Policy
	idle     retry.BackoffStrategy
	logger   logger.Logger

	// mu orders requeues against the drain check
	mu       sync.Mutex
	inflight int

	active atomic.Int32
}

// New creates a pool. Workers must be positive.
func New(cfg Config, queue Queue, admitter ratelimit.Admitter, registry Registry, recorder Recorder, log logger.Logger) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, errs.Configuration(fmt.Sprintf("worker count must be positive, got %d", cfg.Workers))
	}
	if cfg.MaxRetries < 0 {
		return nil, errs.Configuration(fmt.Sprintf("max retries cannot be negative, got %d", cfg.MaxRetries))
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = DefaultIdleBackoff
	}
	if log == nil {
		log = logger.GetLogger()
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries

	return &Pool{
		cfg:      cfg,
		queue:    queue,
		admitter: admitter,
		registry: registry,
		recorder: recorder,
		policy:   policy,
		idle:     &retry.ConstantBackoff{Delay: cfg.IdleBackoff},
		logger:   log.WithField("component", "pool"),
	}, nil
}

// Run starts the workers and blocks until the queue is empty with nothing in
// flight. It returns ctx's error if cancelled first, or an error if a task
// was driven through an illegal transition.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.cfg.Workers,
		"max_retries": p.cfg.MaxRetries,
		"queued":      p.queue.Len(),
	})

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			return p.worker(ctx, id)
		})
	}

	err := g.Wait()
	if err != nil {
		p.logger.WarnWithFields("Worker pool stopped", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	p.logger.Info("Worker pool drained")
	return nil
}

// Active returns the number of tasks currently inside a downloader
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// worker is the main worker routine
func (p *Pool) worker(ctx context.Context, id int) error {
	p.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	idleRounds := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, drained := p.pull()
		if drained {
			p.logger.DebugWithFields("Worker stopping - queue drained", map[string]interface{}{
				"worker_id": id,
			})
			return nil
		}

		if t == nil {
			idleRounds++
			if err := retry.Wait(ctx, p.idle.NextDelay(idleRounds)); err != nil {
				return err
			}
			continue
		}
		idleRounds = 0

		// Cancelled between the pull and the dispatch: put it back untouched
		if err := ctx.Err(); err != nil {
			p.release(t)
			return err
		}

		if err := p.process(id, t); err != nil {
			return err
		}
	}
}

// pull takes the next eligible task. drained is true when the queue is empty
// and no other worker holds a task that could still be requeued.
func (p *Pool) pull() (t *task.Task, drained bool) {
	p.mu.Lock()
	p.inflight++
	p.mu.Unlock()

	t = p.queue.NextEligible(p.admitter)
	if t != nil {
		return t, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	return nil, p.inflight == 0 && p.queue.Len() == 0
}

// release ends a worker's hold on a task, requeueing it first when non-nil
func (p *Pool) release(requeue *task.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if requeue != nil {
		p.queue.Requeue(requeue)
	}
	p.inflight--
}

// process handles a single pulled task
func (p *Pool) process(workerID int, t *task.Task) error {
	if err := t.MarkRunning(); err != nil {
		p.release(nil)
		return p.defect(t, err)
	}

	fields := map[string]interface{}{
		"worker_id": workerID,
		"task_id":   t.ID,
		"source":    t.Source,
		"target":    t.Target,
		"priority":  t.Priority,
	}
	p.logger.DebugWithFields("Dispatching task", fields)

	d, ok := p.registry.Lookup(t.Source)
	if !ok {
		cause := errs.UnknownSource(t.ID, t.Source)
		if err := t.MarkFailed(cause); err != nil {
			p.release(nil)
			return p.defect(t, err)
		}
		p.recorder.RecordFailed()
		p.release(nil)
		p.logger.ErrorWithFields("No downloader registered for source", fields)
		notify(t)
		return nil
	}

	p.active.Add(1)
	start := time.Now()
	result := invoke(d, t)
	p.active.Add(-1)
	fields["duration"] = time.Since(start)

	if result.Success {
		if err := t.MarkCompleted(result.FilesDownloaded, result.BytesDownloaded); err != nil {
			p.release(nil)
			return p.defect(t, err)
		}
		p.recorder.RecordCompleted(result.BytesDownloaded)
		p.release(nil)
		fields["files"] = result.FilesDownloaded
		fields["bytes"] = result.BytesDownloaded
		p.logger.InfoWithFields("Task completed", fields)
		notify(t)
		return nil
	}

	cause := errs.DownloaderFailure(t.ID, result.Error)
	if err := t.MarkFailed(cause); err != nil {
		p.release(nil)
		return p.defect(t, err)
	}
	fields["error"] = result.Error

	if p.policy.ShouldRetry(t.RetryCount(), cause) {
		if err := t.Retry(p.cfg.MaxRetries); err != nil {
			p.release(nil)
			return p.defect(t, err)
		}
		p.release(t)
		fields["retry"] = t.RetryCount()
		p.logger.WarnWithFields("Task failed, requeued for retry", fields)
		return nil
	}

	p.recorder.RecordFailed()
	p.release(nil)
	fields["retries"] = t.RetryCount()
	p.logger.ErrorWithFields("Task failed permanently", fields)
	notify(t)
	return nil
}

func (p *Pool) defect(t *task.Task, err error) error {
	p.logger.ErrorWithFields("Illegal task transition", map[string]interface{}{
		"task_id": t.ID,
		"status":  t.Status().String(),
		"error":   err.Error(),
	})
	return fmt.Errorf("task %s: %w", t.ID, err)
}

// invoke calls the downloader, turning a panic into a failed result
func invoke(d downloader.Downloader, t *task.Task) (result downloader.Result) {
	progress := newProgressAdapter(t.OnProgress)
	defer progress.close()
	defer func() {
		if r := recover(); r != nil {
			result = downloader.Failed("downloader panicked: %v", r)
		}
	}()

	result = d.Download(t.Target, t.Options.Clone(), progress.report)
	if !result.Success && result.Error == "" {
		result.Error = "downloader reported failure"
	}
	return result
}

func notify(t *task.Task) {
	if t.OnComplete != nil {
		t.OnComplete(t.Snapshot())
	}
}
