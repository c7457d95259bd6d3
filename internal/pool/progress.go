package pool

import (
	"sync"

	"bulkgrab/pkg/downloader"
)

// progressAdapter forwards downloader progress to the caller's hook, clamped
// to [0,100], never decreasing, and silenced once the downloader returns.
type progressAdapter struct {
	mu     sync.Mutex
	fn     downloader.ProgressFunc
	last   int
	closed bool
}

func newProgressAdapter(fn downloader.ProgressFunc) *progressAdapter {
	return &progressAdapter{fn: fn, last: -1}
}

func (a *progressAdapter) report(percent int) {
	if a.fn == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < a.last {
		return
	}
	a.last = percent
	a.fn(percent)
}

func (a *progressAdapter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
