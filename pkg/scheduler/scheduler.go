// Package scheduler keeps pending tasks ordered by priority and submission
// time and hands out the next one whose source is admitted to dispatch.
package scheduler

import (
	"sort"
	"sync"

	"bulkgrab/pkg/ratelimit"
	"bulkgrab/pkg/task"
)

// PriorityScheduler holds Scheduled tasks ordered by
// (priority asc, submittedAt asc, id asc). Safe for concurrent use.
type PriorityScheduler struct {
	mu    sync.Mutex
	queue []*task.Task
	index map[string]*task.Task
}

// New creates an empty scheduler
func New() *PriorityScheduler {
	return &PriorityScheduler{
		index: make(map[string]*task.Task),
	}
}

// Submit inserts a task at its ordered position. Submitting an id that is
// already queued is a no-op.
func (s *PriorityScheduler) Submit(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(t)
}

// Requeue reinserts a task that could not be dispatched. The task keeps its
// original priority and submission time, so it returns to the same place
// in line instead of the back of its priority bucket.
func (s *PriorityScheduler) Requeue(t *task.Task) {
	s.Submit(t)
}

// NextEligible removes and returns the first task, in priority order, whose
// source the admitter lets through. Each source is asked at most once per
// call, so throttled sources never lose budget. Returns nil when nothing is
// eligible.
func (s *PriorityScheduler) NextEligible(admitter ratelimit.Admitter) *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	denied := make(map[string]bool)
	for i, t := range s.queue {
		if denied[t.Source] {
			continue
		}
		if !admitter.Admit(t.Source) {
			denied[t.Source] = true
			continue
		}
		s.removeAt(i)
		return t
	}
	return nil
}

// Cancel marks a queued task Cancelled and removes it. It returns false if
// the task is not queued, which includes tasks already running.
func (s *PriorityScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.index[id]
	if !ok {
		return false
	}
	if err := t.MarkCancelled(); err != nil {
		return false
	}
	s.removeAt(s.position(t))
	return true
}

// Drain cancels and removes every queued task, returning them
func (s *PriorityScheduler) Drain() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := s.queue
	for _, t := range drained {
		_ = t.MarkCancelled()
	}
	s.queue = nil
	s.index = make(map[string]*task.Task)
	return drained
}

// Len returns the number of queued tasks
func (s *PriorityScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Contains reports whether id is queued
func (s *PriorityScheduler) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Pending returns snapshots of the queued tasks in dispatch order
func (s *PriorityScheduler) Pending() []task.Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]task.Info, len(s.queue))
	for i, t := range s.queue {
		infos[i] = t.Snapshot()
	}
	return infos
}

// insert must be called with s.mu held
func (s *PriorityScheduler) insert(t *task.Task) {
	if _, exists := s.index[t.ID]; exists {
		return
	}
	i := s.position(t)
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = t
	s.index[t.ID] = t
}

// position returns the first index whose task is not served before t.
// Must be called with s.mu held.
func (s *PriorityScheduler) position(t *task.Task) int {
	return sort.Search(len(s.queue), func(i int) bool {
		return !s.queue[i].Before(t)
	})
}

// removeAt must be called with s.mu held
func (s *PriorityScheduler) removeAt(i int) {
	t := s.queue[i]
	copy(s.queue[i:], s.queue[i+1:])
	s.queue[len(s.queue)-1] = nil
	s.queue = s.queue[:len(s.queue)-1]
	delete(s.index, t.ID)
}
