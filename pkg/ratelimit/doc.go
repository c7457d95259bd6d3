// Package ratelimit keeps each download source within its request budget.
//
// Every source gets a Limits value: at most MaxPerWindow dispatches in any
// trailing one-minute window, and at least MinSpacing between two
// consecutive dispatches. Sources without their own entry use the limiter's
// defaults. Presets carries conservative budgets for platforms known to
// throttle aggressively.
//
// The limiter never blocks. Admit either records a dispatch and returns
// true, or returns false and leaves the accounting untouched, so a caller
// holding its own lock can test and record in one step:
//
//	limiter := ratelimit.NewLimiter()
//	limiter.Configure("youtube", ratelimit.Limits{MaxPerWindow: 30, MinSpacing: time.Second})
//
//	if limiter.Admit("youtube") {
//	    // dispatch one request
//	}
package ratelimit
