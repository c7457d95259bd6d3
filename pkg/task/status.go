package task

// Status represents where a task is in its lifecycle.
//
// Scheduled -> Running -> Completed | Failed
// Failed -> Scheduled (explicit retry only)
// Scheduled | Running -> Cancelled
type Status string

const (
	// StatusScheduled means the task is waiting in the scheduler
	StatusScheduled Status = "Scheduled"

	// StatusRunning means a worker has dispatched the task to its downloader
	StatusRunning Status = "Running"

	// StatusCompleted means the downloader reported success
	StatusCompleted Status = "Completed"

	// StatusFailed means the last attempt failed
	StatusFailed Status = "Failed"

	// StatusCancelled means the caller cancelled the task before it finished
	StatusCancelled Status = "Cancelled"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsActive returns true while a worker owns the task
func (s Status) IsActive() bool {
	return s == StatusRunning
}

// IsTerminal returns true if no further transitions happen without an explicit retry
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
