// Package manifest maintains the experiment manifest: the single JSON file
// that makes an experiment observable from outside the daemon. One writer
// goroutine owns the file; readers tolerate torn reads by retrying.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pidginlab/pidgin/pkg/config"
)

// FileName is the manifest file name inside an experiment directory.
const FileName = "manifest.json"

// Experiment status values.
const (
	StatusCreated     = "created"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Conversation status values.
const (
	ConvCreated     = "created"
	ConvRunning     = "running"
	ConvCompleted   = "completed"
	ConvFailed      = "failed"
	ConvInterrupted = "interrupted"
	ConvPaused      = "paused"
)

// Conversation is one conversation's slot in the manifest.
type Conversation struct {
	Status          string    `json:"status"`
	JSONLFile       string    `json:"jsonl_file"`
	AgentAModel     string    `json:"agent_a_model"`
	AgentBModel     string    `json:"agent_b_model"`
	TurnsTotal      int       `json:"turns_total"`
	TurnsComplete   int       `json:"turns_completed"`
	LastLine        int       `json:"last_line"`
	LastConvergence *float64  `json:"last_convergence,omitempty"`
	Error           string    `json:"error,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Manifest is the full manifest document.
type Manifest struct {
	ExperimentID  string                   `json:"experiment_id"`
	Name          string                   `json:"name"`
	Status        string                   `json:"status"`
	PID           int                      `json:"pid,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	Configuration *config.ExperimentConfig `json:"configuration,omitempty"`
	Total         int                      `json:"total_conversations"`
	Completed     int                      `json:"completed_conversations"`
	Failed        int                      `json:"failed_conversations"`
	Conversations map[string]*Conversation `json:"conversations"`
}

// New builds a fresh manifest in the created state.
func New(experimentID, name string, total int) *Manifest {
	return &Manifest{
		ExperimentID:  experimentID,
		Name:          name,
		Status:        StatusCreated,
		CreatedAt:     time.Now().UTC(),
		Total:         total,
		Conversations: make(map[string]*Conversation),
	}
}

// Store writes the manifest atomically: temp file in the same directory,
// fsync, then rename over the target. Readers never see a partial document.
func Store(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, FileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

const (
	loadRetries    = 3
	loadRetryDelay = 50 * time.Millisecond
)

// Load reads the manifest from an experiment directory. A parse error is
// retried a few times: with atomic writes it can only mean we raced a
// non-atomic producer or a dying write, and the next read usually succeeds.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	var lastErr error
	for attempt := 0; attempt < loadRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(loadRetryDelay)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			lastErr = fmt.Errorf("parse manifest: %w", err)
			continue
		}
		if m.Conversations == nil {
			m.Conversations = make(map[string]*Conversation)
		}
		return &m, nil
	}
	return nil, lastErr
}
