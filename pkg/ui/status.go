package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Progress is the aggregate state shown on the status line
type Progress struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Bytes     int64
}

// Finished returns the number of tasks in a final state
func (p Progress) Finished() int {
	return p.Completed + p.Failed + p.Cancelled
}

// StatusLine renders batch progress. On a terminal it redraws a single line
// in place; otherwise it prints one line per update.
type StatusLine struct {
	mu          sync.Mutex
	w           io.Writer
	interactive bool
	start       time.Time
	last        string
	width       int
}

// NewStatusLine creates a status line on f, detecting whether f is a terminal
func NewStatusLine(f *os.File) *StatusLine {
	interactive := term.IsTerminal(int(f.Fd()))
	width := 100
	if interactive {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	return &StatusLine{w: f, interactive: interactive, start: time.Now(), width: width}
}

// NewPlainStatusLine creates a status line that never redraws in place
func NewPlainStatusLine(w io.Writer) *StatusLine {
	return &StatusLine{w: w, start: time.Now(), width: 100}
}

// Update renders p. Unchanged lines are not printed again.
func (s *StatusLine) Update(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := s.format(p)
	if line == s.last {
		return
	}
	s.last = line

	if s.interactive {
		pad := s.width - len(line)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(s.w, "\r%s%s", line, strings.Repeat(" ", pad))
		return
	}
	fmt.Fprintln(s.w, line)
}

// Done ends an in-place line so later output starts on a fresh line
func (s *StatusLine) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interactive && s.last != "" {
		fmt.Fprintln(s.w)
	}
}

func (s *StatusLine) format(p Progress) string {
	const barWidth = 20

	filled := 0
	if p.Total > 0 {
		filled = p.Finished() * barWidth / p.Total
		if filled > barWidth {
			filled = barWidth
		}
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("[%s] %d/%d • %d running • %d queued • %s",
		bar, p.Finished(), p.Total, p.Running, p.Queued, FormatBytes(p.Bytes))
	if p.Failed > 0 {
		line += fmt.Sprintf(" • %d failed", p.Failed)
	}
	if p.Cancelled > 0 {
		line += fmt.Sprintf(" • %d cancelled", p.Cancelled)
	}
	return line
}

// Summary prints the final batch summary
func Summary(w io.Writer, p Progress, elapsed time.Duration) {
	fmt.Fprintf(w, "\n%s Downloaded %d of %d targets\n", Green("✓"), p.Completed, p.Total)
	fmt.Fprintf(w, "  %s %s in %s\n", Dim("•"), FormatBytes(p.Bytes), FormatDuration(elapsed))
	if p.Failed > 0 {
		fmt.Fprintf(w, "  %s %s\n", Dim("•"), Red(fmt.Sprintf("%d failed", p.Failed)))
	}
	if p.Cancelled > 0 {
		fmt.Fprintf(w, "  %s %d cancelled\n", Dim("•"), p.Cancelled)
	}
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatBytes formats bytes in a human-readable way
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
