package orchestrator

import (
	"time"

	"bulkgrab/pkg/downloader"
	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/ratelimit"
	"bulkgrab/pkg/task"
)

// Option configures an Orchestrator at construction
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock sets the time source used for submission times and, unless a
// limiter is supplied, for rate limiting
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRegistry shares an existing downloader registry
func WithRegistry(r *downloader.Registry) Option {
	return func(o *Orchestrator) {
		o.registry = r
	}
}

// WithLimiter shares an existing rate limiter
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Orchestrator) {
		o.limiter = l
	}
}

// Recorder observes terminal task outcomes alongside the built-in statistics
type Recorder interface {
	RecordCompleted(bytes int64)
	RecordFailed()
}

// WithRecorder adds an observer of terminal outcomes, such as a metrics collector
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorders = append(o.recorders, r)
	}
}

// ProgressHook receives per-task progress in [0,100]
type ProgressHook func(taskID string, percent int)

// CompletionHook receives a task's final state once it is terminal
type CompletionHook func(info task.Info)

// SubmitOption configures a submission
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority    int
	hasPriority bool
	progress    ProgressHook
	completion  CompletionHook
}

// WithPriority overrides the default priority. Lower values run first.
func WithPriority(priority int) SubmitOption {
	return func(s *submitOptions) {
		s.priority = priority
		s.hasPriority = true
	}
}

// WithProgress attaches a progress hook to every submitted task
func WithProgress(hook ProgressHook) SubmitOption {
	return func(s *submitOptions) {
		s.progress = hook
	}
}

// WithCompletion attaches a hook called when each task reaches a final state
func WithCompletion(hook CompletionHook) SubmitOption {
	return func(s *submitOptions) {
		s.completion = hook
	}
}
