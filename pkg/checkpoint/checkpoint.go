package checkpoint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
	"tiktokads/pkg/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is the current checkpoint file format
const Version = 1

// AccountState is the resume position of one advertiser
type AccountState struct {
	Cursor models.PageCursor `json:"cursor"`
	Pages  int               `json:"pages"`
	Ads    int               `json:"ads"`
	Done   bool              `json:"done"`
}

// Checkpoint is the saved state of a scrape job
type Checkpoint struct {
	JobKey    string                  `json:"job_key"`
	Accounts  map[string]AccountState `json:"accounts"`
	Records   []models.AdRecord       `json:"records"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Version   int                     `json:"version"`
}

// Account returns the saved state for an advertiser
func (c *Checkpoint) Account(id string) AccountState {
	return c.Accounts[id]
}

// SetAccount records the state for an advertiser
func (c *Checkpoint) SetAccount(id string, state AccountState) {
	if c.Accounts == nil {
		c.Accounts = make(map[string]AccountState)
	}
	c.Accounts[id] = state
}

// IsDone reports whether an advertiser was fully scraped
func (c *Checkpoint) IsDone(id string) bool {
	return c.Accounts[id].Done
}

// Manager handles checkpoint operations for one job
type Manager struct {
	jobKey         string
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a checkpoint manager for the job identified by jobKey.
// Checkpoints go to dir, or to the user data directory when dir is empty.
func NewManager(dir, jobKey string, log logger.Logger) (*Manager, error) {
	if jobKey == "" {
		return nil, fmt.Errorf("job key is required")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	if dir == "" {
		dataDir, err := storage.DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return &Manager{
		jobKey:         jobKey,
		checkpointPath: filepath.Join(dir, jobKey+".checkpoint.json"),
		logger:         log.WithField("job_key", jobKey),
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create returns an empty checkpoint for the manager's job. It is not
// written until Save is called.
func (m *Manager) Create() *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		JobKey:    m.jobKey,
		Accounts:  make(map[string]AccountState),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   Version,
	}
}

// Load reads the existing checkpoint. It returns nil, nil when there is none.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version != Version {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if cp.JobKey != m.jobKey {
		return nil, fmt.Errorf("checkpoint belongs to job %s", cp.JobKey)
	}
	if cp.Accounts == nil {
		cp.Accounts = make(map[string]AccountState)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"accounts":   len(cp.Accounts),
		"records":    len(cp.Records),
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save writes the checkpoint atomically
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	if cp.Version == 0 {
		cp.Version = Version
	}

	err := storage.WriteFileAtomic(m.checkpointPath, 0644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"accounts": len(cp.Accounts),
		"records":  len(cp.Records),
	})
	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Debug("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// Info returns a summary of the saved checkpoint, or nil when there is none
func (m *Manager) Info() (map[string]interface{}, error) {
	cp, err := m.Load()
	if err != nil || cp == nil {
		return nil, err
	}

	done := 0
	for _, st := range cp.Accounts {
		if st.Done {
			done++
		}
	}
	return map[string]interface{}{
		"job_key":       cp.JobKey,
		"accounts":      len(cp.Accounts),
		"accounts_done": done,
		"records":       len(cp.Records),
		"created_at":    cp.CreatedAt,
		"updated_at":    cp.UpdatedAt,
		"age":           time.Since(cp.UpdatedAt).Round(time.Second),
	}, nil
}

// Backup copies the current checkpoint next to itself with a .backup suffix
func (m *Manager) Backup() error {
	if !m.Exists() {
		return nil
	}

	src, err := os.Open(m.checkpointPath)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	err = storage.WriteFileAtomic(m.checkpointPath+".backup", 0644, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}

	m.logger.Debug("Checkpoint backed up")
	return nil
}
