package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	errs "bulkgrab/pkg/errors"
)

// Window is the accounting period for MaxPerWindow
const Window = time.Minute

// Defaults applied to sources that were never configured
const (
	DefaultMaxPerWindow = 30
	DefaultMinSpacing   = time.Second
)

// Admitter decides whether a dispatch for source may proceed now.
// A true answer consumes one unit of the source's budget.
type Admitter interface {
	Admit(source string) bool
}

// Limits is the static per-source configuration
type Limits struct {
	MaxPerWindow int           `yaml:"max_per_window" json:"max_per_window"`
	MinSpacing   time.Duration `yaml:"min_spacing" json:"min_spacing"`
}

// Validate rejects limits that could never admit a dispatch
func (l Limits) Validate() error {
	if l.MaxPerWindow <= 0 {
		return errs.Configuration(fmt.Sprintf("max per window must be positive, got %d", l.MaxPerWindow))
	}
	if l.MinSpacing < 0 {
		return errs.Configuration(fmt.Sprintf("min spacing cannot be negative, got %s", l.MinSpacing))
	}
	return nil
}

// DefaultLimits returns the limits used for unconfigured sources
func DefaultLimits() Limits {
	return Limits{MaxPerWindow: DefaultMaxPerWindow, MinSpacing: DefaultMinSpacing}
}

// Presets holds conservative limits for platforms known to throttle
var Presets = map[string]Limits{
	"youtube":   {MaxPerWindow: 30, MinSpacing: time.Second},
	"tiktok":    {MaxPerWindow: 20, MinSpacing: 2 * time.Second},
	"instagram": {MaxPerWindow: 15, MinSpacing: 3 * time.Second},
	"reddit":    {MaxPerWindow: 60, MinSpacing: 500 * time.Millisecond},
	"twitter":   {MaxPerWindow: 25, MinSpacing: 1500 * time.Millisecond},
}

// State is a snapshot of one source's accounting. WindowStart is the
// oldest dispatch still inside the window.
type State struct {
	Source             string
	Limits             Limits
	WindowStart        time.Time
	RequestsThisWindow int
	LastDispatch       time.Time
}

type sourceState struct {
	limits       Limits
	requests     []time.Time
	lastDispatch time.Time
}

// Limiter enforces a sliding one-minute request budget and a minimum
// spacing between dispatches, independently per source.
type Limiter struct {
	mu       sync.Mutex
	sources  map[string]*sourceState
	defaults Limits
	now      func() time.Time
}

// NewLimiter creates a limiter using the package defaults
func NewLimiter() *Limiter {
	return NewLimiterWithClock(time.Now)
}

// NewLimiterWithClock creates a limiter reading time from now
func NewLimiterWithClock(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		sources:  make(map[string]*sourceState),
		defaults: DefaultLimits(),
		now:      now,
	}
}

// SetDefaults changes the limits used for sources without explicit configuration
func (l *Limiter) SetDefaults(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaults = limits
	return nil
}

// Configure sets or overrides the limits for source, keeping its accounting.
// Invalid limits are rejected and leave the source untouched.
func (l *Limiter) Configure(source string, limits Limits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("source %s: %w", source, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.lookup(source)
	st.limits = limits
	return nil
}

// Admit reports whether a dispatch for source may proceed now. Budget is
// consumed only when it returns true.
func (l *Limiter) Admit(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.lookup(source)
	st.cleanOldRequests(now)

	if len(st.requests) >= st.limits.MaxPerWindow {
		return false
	}
	if !st.lastDispatch.IsZero() && now.Sub(st.lastDispatch) < st.limits.MinSpacing {
		return false
	}

	st.requests = append(st.requests, now)
	st.lastDispatch = now
	return true
}

// Limits returns the effective limits for source
func (l *Limiter) Limits(source string) Limits {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.sources[source]; ok {
		return st.limits
	}
	return l.defaults
}

// State returns a snapshot of source's accounting
func (l *Limiter) State(source string) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.lookup(source)
	st.cleanOldRequests(l.now())

	state := State{
		Source:             source,
		Limits:             st.limits,
		RequestsThisWindow: len(st.requests),
		LastDispatch:       st.lastDispatch,
	}
	if len(st.requests) > 0 {
		state.WindowStart = st.requests[0]
	}
	return state
}

// States returns snapshots for every known source, sorted by name
func (l *Limiter) States() []State {
	l.mu.Lock()
	names := make([]string, 0, len(l.sources))
	for name := range l.sources {
		names = append(names, name)
	}
	l.mu.Unlock()

	sort.Strings(names)
	states := make([]State, 0, len(names))
	for _, name := range names {
		states = append(states, l.State(name))
	}
	return states
}

// Reset clears all accounting but keeps configured limits
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, st := range l.sources {
		st.requests = st.requests[:0]
		st.lastDispatch = time.Time{}
	}
}

// lookup must be called with l.mu held; a miss initialises defaults
func (l *Limiter) lookup(source string) *sourceState {
	st, ok := l.sources[source]
	if !ok {
		st = &sourceState{limits: l.defaults}
		l.sources[source] = st
	}
	return st
}

// cleanOldRequests drops dispatches that fell out of the window
func (st *sourceState) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-Window)

	i := 0
	for i < len(st.requests) && !st.requests[i].After(cutoff) {
		i++
	}

	if i > 0 {
		copy(st.requests, st.requests[i:])
		st.requests = st.requests[:len(st.requests)-i]
	}
}
