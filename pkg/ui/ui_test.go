package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 MB", FormatBytes(1536*1024))
	assert.Equal(t, "2.0 GB", FormatBytes(2<<30))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "3m5s", FormatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h10m", FormatDuration(2*time.Hour+10*time.Minute))
}

func TestPlainStatusLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewPlainStatusLine(&buf)

	s.Update(Progress{Total: 4, Queued: 3, Running: 1})
	s.Update(Progress{Total: 4, Queued: 3, Running: 1})
	s.Update(Progress{Total: 4, Completed: 3, Failed: 1, Bytes: 2048})
	s.Done()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "unchanged updates are not repeated")
	assert.Contains(t, lines[0], "0/4")
	assert.Contains(t, lines[1], "4/4")
	assert.Contains(t, lines[1], "1 failed")
	assert.Contains(t, lines[1], "2.0 KB")
	assert.NotContains(t, buf.String(), "\r")
}

type recordingSender struct {
	titles, messages []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func TestNotifierBatchFinished(t *testing.T) {
	var buf bytes.Buffer
	prev := Out
	Out = &buf
	defer func() { Out = prev }()

	sender := &recordingSender{}
	NewNotifierWithSender(sender).BatchFinished(Progress{Completed: 5, Failed: 2})

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "5 completed, 2 failed", sender.messages[0])
	assert.Contains(t, buf.String(), "5 completed, 2 failed")

	// no desktop delivery without a sender
	NewNotifierWithSender(nil).BatchFinished(Progress{Completed: 1})
	assert.Len(t, sender.messages, 1)
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	Summary(&buf, Progress{Total: 3, Completed: 2, Failed: 1, Bytes: 100}, 90*time.Second)

	out := buf.String()
	assert.Contains(t, out, "Downloaded 2 of 3 targets")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "1 failed")
}
