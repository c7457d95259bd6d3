// Package metadata writes a JSON sidecar next to each downloaded file.
package metadata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Extension is appended to a file's path to form its sidecar path
const Extension = ".meta.json"

// FileMetadata describes where a downloaded file came from
type FileMetadata struct {
	// Core identifiers
	Target   string `json:"target"`
	Source   string `json:"source"`
	FinalURL string `json:"final_url,omitempty"`
	TaskID   string `json:"task_id,omitempty"`

	// Response properties
	StatusCode    int    `json:"status_code"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	ETag          string `json:"etag,omitempty"`
	LastModified  string `json:"last_modified,omitempty"`

	// Result
	FileSize     int64     `json:"file_size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// FromResponse builds metadata for a file fetched with resp
func FromResponse(target, source string, resp *http.Response, fileSize int64) *FileMetadata {
	meta := &FileMetadata{
		Target:       target,
		Source:       source,
		StatusCode:   resp.StatusCode,
		FileSize:     fileSize,
		DownloadedAt: time.Now().UTC(),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if final := resp.Request.URL.String(); final != target {
			meta.FinalURL = final
		}
	}
	if resp.ContentLength > 0 {
		meta.ContentLength = resp.ContentLength
	}
	meta.ContentType = resp.Header.Get("Content-Type")
	meta.ETag = resp.Header.Get("ETag")
	meta.LastModified = resp.Header.Get("Last-Modified")
	return meta
}

// Path returns the sidecar path for filePath
func Path(filePath string) string {
	return filePath + Extension
}

// Save writes the metadata next to filePath
func (m *FileMetadata) Save(filePath string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(Path(filePath), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load reads the sidecar for filePath
func Load(filePath string) (*FileMetadata, error) {
	data, err := os.ReadFile(Path(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var meta FileMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &meta, nil
}

// Exists checks if a sidecar exists for filePath
func Exists(filePath string) bool {
	_, err := os.Stat(Path(filePath))
	return err == nil
}

// CleanOrphaned removes sidecars whose file is gone and returns how many
func CleanOrphaned(directory string) (int, error) {
	removed := 0
	err := filepath.Walk(directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, Extension) {
			return nil
		}

		filePath := strings.TrimSuffix(path, Extension)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove orphaned metadata %s: %w", path, err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}
