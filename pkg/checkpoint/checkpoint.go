package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/storage"
)

// Version is the current checkpoint format
const Version = 1

// Checkpoint represents the state of a download session
type Checkpoint struct {
	Session        string            `json:"session"`
	Source         string            `json:"source"`
	Completed      map[string]string `json:"completed"` // target -> finished at (RFC 3339)
	Failed         map[string]string `json:"failed"`    // target -> last error
	TotalSubmitted int               `json:"total_submitted"`
	TotalCompleted int               `json:"total_completed"`
	TotalFailed    int               `json:"total_failed"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Version        int               `json:"version"`
}

// IsCompleted checks if target finished in an earlier run
func (cp *Checkpoint) IsCompleted(target string) bool {
	_, exists := cp.Completed[target]
	return exists
}

// Pending returns the targets that have not completed yet, in input order
func (cp *Checkpoint) Pending(targets []string) []string {
	pending := make([]string, 0, len(targets))
	for _, target := range targets {
		if !cp.IsCompleted(target) {
			pending = append(pending, target)
		}
	}
	return pending
}

// Manager handles checkpoint operations for one session. Record methods may
// be called from several goroutines.
type Manager struct {
	mu             sync.Mutex
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a checkpoint manager in the user data directory
func NewManager(session string) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	return NewManagerInDir(filepath.Join(dataDir, "checkpoints"), session)
}

// NewManagerInDir creates a checkpoint manager storing its file under dir
func NewManagerInDir(dir, session string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	name := fmt.Sprintf("%s.checkpoint.json", storage.SanitizeFilename(session))
	return &Manager{
		checkpointPath: filepath.Join(dir, name),
		logger:         logger.GetLogger(),
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create creates and saves a new, empty checkpoint
func (m *Manager) Create(session, source string) (*Checkpoint, error) {
	now := time.Now()
	checkpoint := &Checkpoint{
		Session:   session,
		Source:    source,
		Completed: make(map[string]string),
		Failed:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   Version,
	}

	if err := m.Save(checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"session": session,
		"path":    m.checkpointPath,
	})

	return checkpoint, nil
}

// Load loads an existing checkpoint. It returns nil, nil when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if checkpoint.Version > Version {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", checkpoint.Version, Version)
	}
	if checkpoint.Completed == nil {
		checkpoint.Completed = make(map[string]string)
	}
	if checkpoint.Failed == nil {
		checkpoint.Failed = make(map[string]string)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"session":         checkpoint.Session,
		"total_completed": checkpoint.TotalCompleted,
		"updated_at":      checkpoint.UpdatedAt,
	})

	return &checkpoint, nil
}

// LoadOrCreate resumes the saved session if there is one
func (m *Manager) LoadOrCreate(session, source string) (*Checkpoint, error) {
	cp, err := m.Load()
	if err != nil {
		return nil, err
	}
	if cp != nil {
		return cp, nil
	}
	return m.Create(session, source)
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(checkpoint *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(checkpoint)
}

// RecordSubmitted adds n to the submitted counter
func (m *Manager) RecordSubmitted(checkpoint *Checkpoint, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint.TotalSubmitted += n
	return m.save(checkpoint)
}

// RecordCompleted marks target as done
func (m *Manager) RecordCompleted(checkpoint *Checkpoint, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := checkpoint.Completed[target]; !done {
		checkpoint.TotalCompleted++
	}
	checkpoint.Completed[target] = time.Now().UTC().Format(time.RFC3339)
	delete(checkpoint.Failed, target)
	return m.save(checkpoint)
}

// RecordFailed remembers that target failed permanently in this run
func (m *Manager) RecordFailed(checkpoint *Checkpoint, target, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := checkpoint.Failed[target]; !seen {
		checkpoint.TotalFailed++
	}
	checkpoint.Failed[target] = reason
	return m.save(checkpoint)
}

// IsCompleted checks if target finished in an earlier run
func (m *Manager) IsCompleted(checkpoint *Checkpoint, target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return checkpoint.IsCompleted(target)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// save must be called with m.mu held
func (m *Manager) save(checkpoint *Checkpoint) error {
	checkpoint.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"session":         checkpoint.Session,
		"total_completed": checkpoint.TotalCompleted,
	})

	return nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "bulkgrab")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "bulkgrab")
	default:
		// XDG layout for Linux and the BSDs
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "bulkgrab")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "bulkgrab")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
