// Package storage writes downloaded files under an output root, optionally
// grouped by source, and remembers what is already on disk.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxFilenameLength caps sanitized file names
const MaxFilenameLength = 200

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Store handles file storage operations and duplicate detection
type Store struct {
	root             string
	organizeBySource bool

	mu         sync.RWMutex
	downloaded map[string]bool
}

// NewStore creates a store rooted at root, creating the directory if needed
func NewStore(root string, organizeBySource bool) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Store{
		root:             root,
		organizeBySource: organizeBySource,
		downloaded:       make(map[string]bool),
	}, nil
}

// SanitizeFilename makes name safe to use as a file name on common filesystems
func SanitizeFilename(name string) string {
	// Tabs and newlines are whitespace, not control characters to replace
	name = whitespace.ReplaceAllString(name, " ")
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.ToValidUTF8(name, "_")
	name = strings.Trim(name, ". ")

	if len(name) > MaxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		// MaxFilenameLength counts bytes; never cut inside a rune
		cut := MaxFilenameLength - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimRight(name[:cut], ". ") + ext
	}
	if name == "" {
		name = "download"
	}
	return name
}

// Root returns the output root
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory files for source are written to. A source may
// carry "/"-separated subfolders, e.g. "generic/wallpapers".
func (s *Store) Dir(source string) string {
	if !s.organizeBySource || source == "" {
		return s.root
	}

	parts := []string{s.root}
	for _, segment := range strings.Split(source, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		parts = append(parts, SanitizeFilename(segment))
	}
	return filepath.Join(parts...)
}

// Path returns where name for source is stored
func (s *Store) Path(source, name string) string {
	return filepath.Join(s.Dir(source), SanitizeFilename(name))
}

// Exists checks whether name for source has already been downloaded
func (s *Store) Exists(source, name string) bool {
	path := s.Path(source, name)

	s.mu.RLock()
	known := s.downloaded[path]
	s.mu.RUnlock()
	if known {
		return true
	}

	if _, err := os.Stat(path); err != nil {
		return false
	}

	s.mu.Lock()
	s.downloaded[path] = true
	s.mu.Unlock()
	return true
}

// Save writes r to name for source through a temporary file and an atomic
// rename, returning the number of bytes written
func (s *Store) Save(source, name string, r io.Reader) (int64, error) {
	path := s.Path(source, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return written, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return written, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	s.mu.Lock()
	s.downloaded[path] = true
	s.mu.Unlock()

	return written, nil
}

// DownloadedCount returns the number of files this store has seen on disk
// or written
func (s *Store) DownloadedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.downloaded)
}
