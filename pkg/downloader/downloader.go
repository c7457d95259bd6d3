// Package downloader defines the capability every content source implements
// and the registry the orchestrator resolves sources through.
package downloader

import (
	"fmt"
	"strconv"
)

// Options is an opaque configuration bag passed verbatim to a Downloader.
// The orchestrator never inspects it.
type Options map[string]any

// Clone returns a shallow copy so tasks never share a mutable bag
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// String returns the option as a string, or def when absent
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the option as an int, or def when absent or not numeric
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the option as a bool, or def when absent
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ProgressFunc receives a completion percentage in [0,100]
type ProgressFunc func(percent int)

// Result is what a Downloader reports when it returns
type Result struct {
	Success         bool
	FilesDownloaded int
	BytesDownloaded int64
	Error           string
}

// Succeeded builds a successful result
func Succeeded(files int, bytes int64) Result {
	return Result{Success: true, FilesDownloaded: files, BytesDownloaded: bytes}
}

// Failed builds a failed result
func Failed(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Downloader fetches one target for one content source.
//
// Implementations must only call progress with values in [0,100] and must
// not call it after Download returns. Download is expected to be bounded in
// duration; the orchestrator cannot interrupt it.
type Downloader interface {
	Download(target string, opts Options, progress ProgressFunc) Result
}

// Func adapts a plain function to the Downloader interface
type Func func(target string, opts Options, progress ProgressFunc) Result

// Download calls f
func (f Func) Download(target string, opts Options, progress ProgressFunc) Result {
	return f(target, opts, progress)
}

// Expander is implemented by downloaders that can turn a collection
// (a channel, a profile, a list) into individual targets.
type Expander interface {
	Expand(collection string, opts Options) ([]string, error)
}
