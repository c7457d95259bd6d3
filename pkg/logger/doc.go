// Package logger provides the structured logging interface used across bulkgrab.
//
// It wraps zerolog with a small Logger interface supporting:
// - Debug, Info, Warn and Error levels
// - Structured fields
// - Pretty console output with colors
// - Optional file output
// - A global instance configured once at startup
//
// Basic Usage:
//
//	import "bulkgrab/pkg/logger"
//
//	cfg := &config.LoggingConfig{
//	    Level: "info",
//	    File:  "/var/log/bulkgrab.log",
//	}
//	err := logger.Initialize(cfg)
//
//	logger.WithField("source", "generic").Info("Source registered")
//	logger.WithError(err).Error("Failed to save file")
//
// Component loggers carry their own fields:
//
//	log := logger.GetLogger().WithField("component", "pool")
//	log.InfoWithFields("Task completed", map[string]interface{}{
//	    "task_id": id,
//	    "bytes":   n,
//	})
//
// Tests use NewTestLogger to capture entries or NewNopLogger to drop them.
package logger
