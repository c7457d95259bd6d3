// Package task holds the record describing one requested download and the
// only mutators allowed to move it through its lifecycle.
package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bulkgrab/pkg/downloader"
	errs "bulkgrab/pkg/errors"
)

// DefaultPriority is used when a submission does not specify one
const DefaultPriority = 5

// Task describes one requested download. Identity fields are fixed at
// creation; lifecycle state is only changed through the Mark* and Retry methods.
type Task struct {
	ID          string
	Target      string
	Source      string
	Options     downloader.Options
	Priority    int
	SubmittedAt time.Time

	// OnProgress and OnComplete are optional caller hooks, set before submission.
	OnProgress downloader.ProgressFunc
	OnComplete func(Info)

	mu              sync.Mutex
	status          Status
	retryCount      int
	attempts        int
	lastError       string
	startedAt       time.Time
	finishedAt      time.Time
	filesDownloaded int
	bytesDownloaded int64
}

// Info is a point-in-time copy of a task
type Info struct {
	ID              string
	Target          string
	Source          string
	Priority        int
	Status          Status
	RetryCount      int
	Attempts        int
	LastError       string
	SubmittedAt     time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
	FilesDownloaded int
	BytesDownloaded int64
}

// New creates a Scheduled task submitted now
func New(target, source string, options downloader.Options, priority int) *Task {
	return NewAt(target, source, options, priority, time.Now())
}

// NewAt creates a Scheduled task with an explicit submission time
func NewAt(target, source string, options downloader.Options, priority int, submittedAt time.Time) *Task {
	return &Task{
		ID:          NewID(source),
		Target:      target,
		Source:      source,
		Options:     options.Clone(),
		Priority:    priority,
		SubmittedAt: submittedAt,
		status:      StatusScheduled,
	}
}

// NewID generates a task identifier. UUIDv7 values sort by creation time,
// so ids from one source compare in submission order.
func NewID(source string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s_%s", source, id.String())
}

// Before reports whether t is served ahead of other:
// lower priority first, then earlier submission, then id.
func (t *Task) Before(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority < other.Priority
	}
	if !t.SubmittedAt.Equal(other.SubmittedAt) {
		return t.SubmittedAt.Before(other.SubmittedAt)
	}
	return t.ID < other.ID
}

// Status returns the current status
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// RetryCount returns how many retries have been granted
func (t *Task) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount
}

// MarkRunning moves a Scheduled task to Running
func (t *Task) MarkRunning() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transition(StatusRunning, StatusScheduled); err != nil {
		return err
	}
	t.attempts++
	t.startedAt = time.Now()
	t.lastError = ""
	return nil
}

// MarkCompleted moves a Running task to Completed
func (t *Task) MarkCompleted(files int, bytes int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transition(StatusCompleted, StatusRunning); err != nil {
		return err
	}
	t.filesDownloaded = files
	t.bytesDownloaded = bytes
	t.finishedAt = time.Now()
	return nil
}

// MarkFailed moves a Running task to Failed, recording why
func (t *Task) MarkFailed(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transition(StatusFailed, StatusRunning); err != nil {
		return err
	}
	if cause != nil {
		t.lastError = cause.Error()
	}
	t.finishedAt = time.Now()
	return nil
}

// MarkCancelled cancels a Scheduled or Running task
func (t *Task) MarkCancelled() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transition(StatusCancelled, StatusScheduled, StatusRunning); err != nil {
		return err
	}
	t.finishedAt = time.Now()
	return nil
}

// Retry returns a Failed task to Scheduled while retries remain, consuming one.
// Priority and submission time are untouched so the task keeps its place.
func (t *Task) Retry(maxRetries int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == StatusFailed && t.retryCount >= maxRetries {
		return &errs.Error{
			Type:    errs.ErrorTypeInvalidStateTransition,
			Message: fmt.Sprintf("retry budget exhausted (%d/%d)", t.retryCount, maxRetries),
			TaskID:  t.ID,
		}
	}
	if err := t.transition(StatusScheduled, StatusFailed); err != nil {
		return err
	}
	t.retryCount++
	t.finishedAt = time.Time{}
	return nil
}

// Snapshot returns a copy of the task's current state
func (t *Task) Snapshot() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Info{
		ID:              t.ID,
		Target:          t.Target,
		Source:          t.Source,
		Priority:        t.Priority,
		Status:          t.status,
		RetryCount:      t.retryCount,
		Attempts:        t.attempts,
		LastError:       t.lastError,
		SubmittedAt:     t.SubmittedAt,
		StartedAt:       t.startedAt,
		FinishedAt:      t.finishedAt,
		FilesDownloaded: t.filesDownloaded,
		BytesDownloaded: t.bytesDownloaded,
	}
}

// transition must be called with t.mu held
func (t *Task) transition(to Status, allowedFrom ...Status) error {
	for _, from := range allowedFrom {
		if t.status == from {
			t.status = to
			return nil
		}
	}
	return errs.InvalidTransition(t.ID, t.status.String(), to.String())
}
