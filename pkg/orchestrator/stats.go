package orchestrator

import "sync/atomic"

// Statistics is a point-in-time copy of the aggregate counters
type Statistics struct {
	TotalRequested  int64 `json:"total_requested"`
	TotalCompleted  int64 `json:"total_completed"`
	TotalFailed     int64 `json:"total_failed"`
	TotalCancelled  int64 `json:"total_cancelled"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
}

// Finished returns the number of tasks that reached a final state
func (s Statistics) Finished() int64 {
	return s.TotalCompleted + s.TotalFailed + s.TotalCancelled
}

// counters is updated concurrently by workers
type counters struct {
	requested atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	bytes     atomic.Int64
}

func (c *counters) RecordCompleted(bytes int64) {
	c.completed.Add(1)
	if bytes > 0 {
		c.bytes.Add(bytes)
	}
}

func (c *counters) RecordFailed() {
	c.failed.Add(1)
}

func (c *counters) snapshot() Statistics {
	return Statistics{
		TotalRequested:  c.requested.Load(),
		TotalCompleted:  c.completed.Load(),
		TotalFailed:     c.failed.Load(),
		TotalCancelled:  c.cancelled.Load(),
		BytesDownloaded: c.bytes.Load(),
	}
}

func (c *counters) reset() {
	c.requested.Store(0)
	c.completed.Store(0)
	c.failed.Store(0)
	c.cancelled.Store(0)
	c.bytes.Store(0)
}

// fanout forwards outcomes to several recorders
type fanout []Recorder

func (f fanout) RecordCompleted(bytes int64) {
	for _, r := range f {
		r.RecordCompleted(bytes)
	}
}

func (f fanout) RecordFailed() {
	for _, r := range f {
		r.RecordFailed()
	}
}
