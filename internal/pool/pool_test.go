package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkgrab/pkg/downloader"
	errs "bulkgrab/pkg/errors"
	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/ratelimit"
	"bulkgrab/pkg/scheduler"
	"bulkgrab/pkg/task"
)

// mockRecorder counts terminal outcomes
type mockRecorder struct {
	completed atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

func (m *mockRecorder) RecordCompleted(bytes int64) {
	m.completed.Add(1)
	m.bytes.Add(bytes)
}

func (m *mockRecorder) RecordFailed() {
	m.failed.Add(1)
}

// mockDownloader counts invocations and fails the first failFirst of them
type mockDownloader struct {
	calls     atomic.Int32
	failFirst int32
	delay     time.Duration

	mu    sync.Mutex
	order []string
}

func (m *mockDownloader) Download(target string, opts downloader.Options, progress downloader.ProgressFunc) downloader.Result {
	n := m.calls.Add(1)
	m.mu.Lock()
	m.order = append(m.order, target)
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if n <= m.failFirst {
		return downloader.Failed("attempt %d failed", n)
	}
	progress(100)
	return downloader.Succeeded(1, 100)
}

func (m *mockDownloader) dispatchOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

type fixture struct {
	sched    *scheduler.PriorityScheduler
	limiter  *ratelimit.Limiter
	registry *downloader.Registry
	recorder *mockRecorder
}

func newFixture() *fixture {
	limiter := ratelimit.NewLimiter()
	_ = limiter.SetDefaults(ratelimit.Limits{MaxPerWindow: 1000})
	return &fixture{
		sched:    scheduler.New(),
		limiter:  limiter,
		registry: downloader.NewRegistry(),
		recorder: &mockRecorder{},
	}
}

func (f *fixture) pool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.IdleBackoff == 0 {
		cfg.IdleBackoff = 5 * time.Millisecond
	}
	p, err := New(cfg, f.sched, f.limiter, f.registry, f.recorder, logger.NewNopLogger())
	require.NoError(t, err)
	return p
}

func (f *fixture) submit(target, source string, priority int) *task.Task {
	tk := task.New(target, source, nil, priority)
	f.sched.Submit(tk)
	return tk
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	f := newFixture()

	_, err := New(Config{Workers: 0}, f.sched, f.limiter, f.registry, f.recorder, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeConfiguration))

	_, err = New(Config{Workers: 2, MaxRetries: -1}, f.sched, f.limiter, f.registry, f.recorder, nil)
	assert.True(t, errs.Is(err, errs.ErrorTypeConfiguration))
}

func TestRunOnEmptyQueueReturnsImmediately(t *testing.T) {
	f := newFixture()
	p := f.pool(t, Config{Workers: 3})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return on an empty queue")
	}
}

func TestRunDrainsAllTasks(t *testing.T) {
	f := newFixture()
	d := &mockDownloader{delay: 5 * time.Millisecond}
	f.registry.MustRegister("alpha", d)

	var tasks []*task.Task
	for i := 0; i < 20; i++ {
		tasks = append(tasks, f.submit("file", "alpha", task.DefaultPriority))
	}

	p := f.pool(t, Config{Workers: 4, MaxRetries: 3})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, int32(20), d.calls.Load())
	assert.Equal(t, int64(20), f.recorder.completed.Load())
	assert.Equal(t, int64(2000), f.recorder.bytes.Load())
	assert.Equal(t, 0, f.sched.Len())
	assert.Equal(t, 0, p.Active())
	for _, tk := range tasks {
		info := tk.Snapshot()
		assert.Equal(t, task.StatusCompleted, info.Status)
		assert.Equal(t, 1, info.FilesDownloaded)
		assert.Equal(t, int64(100), info.BytesDownloaded)
	}
}

func TestAlwaysFailingTaskStopsAfterRetryBudget(t *testing.T) {
	f := newFixture()
	d := &mockDownloader{failFirst: 1 << 30}
	f.registry.MustRegister("alpha", d)
	tk := f.submit("broken", "alpha", task.DefaultPriority)

	p := f.pool(t, Config{Workers: 2, MaxRetries: 3})
	require.NoError(t, p.Run(context.Background()))

	// initial attempt plus three retries
	assert.Equal(t, int32(4), d.calls.Load())
	info := tk.Snapshot()
	assert.Equal(t, task.StatusFailed, info.Status)
	assert.Equal(t, 3, info.RetryCount)
	assert.Equal(t, 4, info.Attempts)
	assert.Contains(t, info.LastError, "attempt 4 failed")
	assert.Equal(t, int64(1), f.recorder.failed.Load())
	assert.Equal(t, int64(0), f.recorder.completed.Load())
}

func TestRetryEventuallySucceeds(t *testing.T) {
	f := newFixture()
	d := &mockDownloader{failFirst: 2}
	f.registry.MustRegister("alpha", d)
	tk := f.submit("flaky", "alpha", task.DefaultPriority)

	p := f.pool(t, Config{Workers: 1, MaxRetries: 3})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, int32(3), d.calls.Load())
	assert.Equal(t, task.StatusCompleted, tk.Status())
	assert.Equal(t, 2, tk.RetryCount())
	assert.Equal(t, int64(1), f.recorder.completed.Load())
	assert.Equal(t, int64(0), f.recorder.failed.Load())
}

func TestZeroRetriesFailsOnFirstError(t *testing.T) {
	f := newFixture()
	d := &mockDownloader{failFirst: 1}
	f.registry.MustRegister("alpha", d)
	tk := f.submit("once", "alpha", task.DefaultPriority)

	p := f.pool(t, Config{Workers: 1, MaxRetries: 0})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, int32(1), d.calls.Load())
	assert.Equal(t, task.StatusFailed, tk.Status())
}

func TestUnknownSourceFailsWithoutRetry(t *testing.T) {
	f := newFixture()
	tk := f.submit("somewhere", "nowhere", task.DefaultPriority)

	var completed []task.Info
	tk.OnComplete = func(info task.Info) { completed = append(completed, info) }

	p := f.pool(t, Config{Workers: 1, MaxRetries: 3})
	require.NoError(t, p.Run(context.Background()))

	info := tk.Snapshot()
	assert.Equal(t, task.StatusFailed, info.Status)
	assert.Equal(t, 0, info.RetryCount)
	assert.Contains(t, info.LastError, "nowhere")
	assert.Equal(t, int64(1), f.recorder.failed.Load())
	require.Len(t, completed, 1)
	assert.Equal(t, task.StatusFailed, completed[0].Status)
}

func TestDownloaderPanicBecomesFailure(t *testing.T) {
	f := newFixture()
	f.registry.MustRegister("alpha", downloader.Func(func(string, downloader.Options, downloader.ProgressFunc) downloader.Result {
		panic("boom")
	}))
	tk := f.submit("explodes", "alpha", task.DefaultPriority)

	p := f.pool(t, Config{Workers: 1, MaxRetries: 1})
	require.NoError(t, p.Run(context.Background()))

	info := tk.Snapshot()
	assert.Equal(t, task.StatusFailed, info.Status)
	assert.Equal(t, 2, info.Attempts)
	assert.Contains(t, info.LastError, "boom")
}

func TestProgressIsClampedMonotonicAndSilencedAfterReturn(t *testing.T) {
	f := newFixture()

	var leaked downloader.ProgressFunc
	f.registry.MustRegister("alpha", downloader.Func(func(_ string, _ downloader.Options, progress downloader.ProgressFunc) downloader.Result {
		progress(-5)
		progress(30)
		progress(20)
		progress(150)
		leaked = progress
		return downloader.Succeeded(1, 10)
	}))

	var mu sync.Mutex
	var seen []int
	tk := f.submit("file", "alpha", task.DefaultPriority)
	tk.OnProgress = func(percent int) {
		mu.Lock()
		seen = append(seen, percent)
		mu.Unlock()
	}

	p := f.pool(t, Config{Workers: 1})
	require.NoError(t, p.Run(context.Background()))

	require.NotNil(t, leaked)
	leaked(50)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 30, 100}, seen)
}

func TestSingleWorkerDispatchesInPriorityOrder(t *testing.T) {
	f := newFixture()
	d := &mockDownloader{}
	f.registry.MustRegister("alpha", d)

	base := time.Now()
	for i, tc := range []struct {
		target   string
		priority int
	}{
		{"low", 9},
		{"first-normal", 5},
		{"urgent", 1},
		{"second-normal", 5},
	} {
		f.sched.Submit(task.NewAt(tc.target, "alpha", nil, tc.priority, base.Add(time.Duration(i)*time.Millisecond)))
	}

	p := f.pool(t, Config{Workers: 1})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"urgent", "first-normal", "second-normal", "low"}, d.dispatchOrder())
}

func TestRunReturnsContextErrorWhileThrottled(t *testing.T) {
	f := newFixture()
	d := &mockDownloader{}
	f.registry.MustRegister("alpha", d)
	require.NoError(t, f.limiter.Configure("alpha", ratelimit.Limits{MaxPerWindow: 1}))
	require.True(t, f.limiter.Admit("alpha"))
	tk := f.submit("blocked", "alpha", task.DefaultPriority)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := f.pool(t, Config{Workers: 2})
	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), d.calls.Load())
	assert.Equal(t, task.StatusScheduled, tk.Status())
	assert.True(t, f.sched.Contains(tk.ID))
}

func TestActiveCountsTasksInsideDownloader(t *testing.T) {
	f := newFixture()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	f.registry.MustRegister("alpha", downloader.Func(func(string, downloader.Options, downloader.ProgressFunc) downloader.Result {
		started <- struct{}{}
		<-release
		return downloader.Succeeded(1, 1)
	}))
	f.submit("a", "alpha", task.DefaultPriority)
	f.submit("b", "alpha", task.DefaultPriority)

	p := f.pool(t, Config{Workers: 2})
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	<-started
	<-started
	assert.Equal(t, 2, p.Active())
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, 0, p.Active())
}
