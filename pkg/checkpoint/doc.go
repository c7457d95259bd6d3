// Package checkpoint saves and resumes bulk download sessions.
//
// A session records which targets have already completed, so an interrupted
// fetch can be restarted without downloading them again. It tracks:
//   - Completed targets
//   - Targets that failed permanently, with the last error
//   - Overall progress counters
//
// Checkpoints are stored in platform-specific data directories:
//   - Linux: ~/.local/share/bulkgrab/checkpoints/
//   - macOS: ~/Library/Application Support/bulkgrab/checkpoints/
//   - Windows: %APPDATA%/bulkgrab/checkpoints/
//
// The checkpoint files are saved atomically to prevent corruption and include
// versioning for future compatibility.
package checkpoint
