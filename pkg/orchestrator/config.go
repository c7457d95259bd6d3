package orchestrator

import (
	"time"

	"bulkgrab/pkg/config"
	"bulkgrab/pkg/ratelimit"
	"bulkgrab/pkg/retry"
	"bulkgrab/pkg/task"
)

// Config controls an Orchestrator
type Config struct {
	Workers         int
	MaxRetries      int
	DefaultPriority int
	IdleBackoff     time.Duration

	// DefaultLimits apply to every source without its own entry
	DefaultLimits ratelimit.Limits
	// UsePresets seeds the limiter with ratelimit.Presets before SourceLimits
	UsePresets   bool
	SourceLimits map[string]ratelimit.Limits
}

// DefaultConfig returns the configuration used when none is supplied
func DefaultConfig() Config {
	return Config{
		Workers:         3,
		MaxRetries:      retry.DefaultMaxRetries,
		DefaultPriority: task.DefaultPriority,
		IdleBackoff:     250 * time.Millisecond,
		DefaultLimits:   ratelimit.DefaultLimits(),
		SourceLimits:    map[string]ratelimit.Limits{},
	}
}

// ConfigFrom translates the file/env configuration into orchestrator settings
func ConfigFrom(cfg *config.Config) Config {
	out := Config{
		Workers:         cfg.Scheduler.Workers,
		MaxRetries:      cfg.Scheduler.MaxRetries,
		DefaultPriority: cfg.Scheduler.DefaultPriority,
		IdleBackoff:     cfg.Scheduler.IdleBackoff,
		DefaultLimits:   toLimits(cfg.RateLimit.Default),
		UsePresets:      cfg.RateLimit.UsePresets,
		SourceLimits:    make(map[string]ratelimit.Limits, len(cfg.RateLimit.Sources)),
	}
	for source, limit := range cfg.RateLimit.Sources {
		out.SourceLimits[source] = toLimits(limit)
	}
	return out
}

// Limits returns the per-source budgets: presets when enabled, overridden
// by SourceLimits. Sources not listed fall back to DefaultLimits.
func (c Config) Limits() map[string]ratelimit.Limits {
	out := make(map[string]ratelimit.Limits, len(ratelimit.Presets)+len(c.SourceLimits))
	if c.UsePresets {
		for source, limits := range ratelimit.Presets {
			out[source] = limits
		}
	}
	for source, limits := range c.SourceLimits {
		out[source] = limits
	}
	return out
}

func toLimits(l config.SourceLimit) ratelimit.Limits {
	return ratelimit.Limits{
		MaxPerWindow: l.RequestsPerMinute,
		MinSpacing:   l.MinSpacing,
	}
}
