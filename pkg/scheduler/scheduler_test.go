package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkgrab/pkg/task"
)

// admitFunc lets tests script admission decisions
type admitFunc func(source string) bool

func (f admitFunc) Admit(source string) bool { return f(source) }

func admitAll() admitFunc { return func(string) bool { return true } }

func TestPriorityOrdering(t *testing.T) {
	s := New()
	base := time.Now()

	low := task.NewAt("low", "src", nil, 9, base)
	mid := task.NewAt("mid", "src", nil, 5, base.Add(time.Millisecond))
	high := task.NewAt("high", "src", nil, 1, base.Add(2*time.Millisecond))

	s.Submit(low)
	s.Submit(mid)
	s.Submit(high)

	assert.Equal(t, "high", s.NextEligible(admitAll()).Target)
	assert.Equal(t, "mid", s.NextEligible(admitAll()).Target)
	assert.Equal(t, "low", s.NextEligible(admitAll()).Target)
	assert.Nil(t, s.NextEligible(admitAll()))
}

func TestFIFOWithinPriority(t *testing.T) {
	s := New()
	base := time.Now()

	for i, target := range []string{"a", "b", "c", "d"} {
		s.Submit(task.NewAt(target, "src", nil, 5, base.Add(time.Duration(i)*time.Millisecond)))
	}

	var order []string
	for tk := s.NextEligible(admitAll()); tk != nil; tk = s.NextEligible(admitAll()) {
		order = append(order, tk.Target)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestTieBreakByID(t *testing.T) {
	s := New()
	at := time.Now()

	b := task.NewAt("b", "src", nil, 5, at)
	a := task.NewAt("a", "src", nil, 5, at)
	b.ID, a.ID = "src_2", "src_1"

	s.Submit(b)
	s.Submit(a)

	assert.Equal(t, "src_1", s.NextEligible(admitAll()).ID)
}

func TestNextEligibleSkipsThrottledSources(t *testing.T) {
	s := New()
	base := time.Now()

	s.Submit(task.NewAt("a1", "alpha", nil, 1, base))
	s.Submit(task.NewAt("a2", "alpha", nil, 1, base.Add(time.Millisecond)))
	s.Submit(task.NewAt("b1", "beta", nil, 5, base.Add(2*time.Millisecond)))

	asked := make(map[string]int)
	admitter := admitFunc(func(source string) bool {
		asked[source]++
		return source == "beta"
	})

	tk := s.NextEligible(admitter)
	require.NotNil(t, tk)
	assert.Equal(t, "b1", tk.Target)
	assert.Equal(t, 1, asked["alpha"], "a throttled source is asked once per scan")
	assert.Equal(t, 2, s.Len())
}

func TestNextEligibleNoneAdmitted(t *testing.T) {
	s := New()
	s.Submit(task.New("a", "alpha", nil, 1))

	assert.Nil(t, s.NextEligible(admitFunc(func(string) bool { return false })))
	assert.Equal(t, 1, s.Len(), "nothing consumed when all sources are throttled")
}

func TestRequeueKeepsOriginalPlace(t *testing.T) {
	s := New()
	base := time.Now()

	first := task.NewAt("first", "src", nil, 5, base)
	second := task.NewAt("second", "src", nil, 5, base.Add(time.Millisecond))
	third := task.NewAt("third", "src", nil, 5, base.Add(2*time.Millisecond))
	s.Submit(first)
	s.Submit(second)
	s.Submit(third)

	pulled := s.NextEligible(admitAll())
	require.Equal(t, "first", pulled.Target)

	// Later arrivals at the same priority must not overtake the requeued task
	s.Submit(task.NewAt("late", "src", nil, 5, base.Add(time.Hour)))
	s.Requeue(pulled)

	pending := s.Pending()
	require.Len(t, pending, 4)
	assert.Equal(t, "first", pending[0].Target)
	assert.Equal(t, "late", pending[3].Target)
}

func TestSubmitSameTaskTwiceIsNoop(t *testing.T) {
	s := New()
	tk := task.New("a", "src", nil, 1)
	s.Submit(tk)
	s.Submit(tk)
	assert.Equal(t, 1, s.Len())
}

func TestCancel(t *testing.T) {
	s := New()
	queued := task.New("queued", "src", nil, 5)
	running := task.New("running", "src", nil, 5)
	s.Submit(queued)
	s.Submit(running)

	pulled := s.NextEligible(admitAll())
	require.NotNil(t, pulled)
	require.NoError(t, pulled.MarkRunning())

	remaining := queued
	if pulled == queued {
		remaining = running
	}

	assert.True(t, s.Cancel(remaining.ID))
	assert.Equal(t, task.StatusCancelled, remaining.Status())
	assert.Equal(t, 0, s.Len())

	assert.False(t, s.Cancel(pulled.ID), "running tasks cannot be cancelled")
	assert.Equal(t, task.StatusRunning, pulled.Status())

	assert.False(t, s.Cancel(remaining.ID), "second cancel has no effect")
	assert.False(t, s.Cancel("missing"))
}

func TestDrain(t *testing.T) {
	s := New()
	a := task.New("a", "src", nil, 1)
	b := task.New("b", "src", nil, 2)
	s.Submit(a)
	s.Submit(b)

	drained := s.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, task.StatusCancelled, a.Status())
	assert.Equal(t, task.StatusCancelled, b.Status())
}

func TestConcurrentSubmitAndPull(t *testing.T) {
	s := New()
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Submit(task.New("t", "src", nil, i%10))
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, s.Len())

	var mu sync.Mutex
	pulled := make(map[string]bool)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk := s.NextEligible(admitAll())
				if tk == nil {
					return
				}
				mu.Lock()
				pulled[tk.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, pulled, n, "every task is handed out exactly once")
	assert.Equal(t, 0, s.Len())
}
