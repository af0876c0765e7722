// Package checkpoint persists in-progress redaction state so an
// interrupted run can resume where it stopped.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/dsar-redact/model"
)

const fileName = "checkpoint.json"

// Checkpoint is the process-wide durable state. RedactedMessages and
// AuditEntries are append-only; ProcessedCount advances only after a
// batch's results have been durably written.
type Checkpoint struct {
	RunID            string             `json:"runId"`
	StartedAt        time.Time          `json:"startedAt"`
	ProcessedCount   int                `json:"processedCount"`
	RedactedMessages []model.Message    `json:"redactedMessages"`
	AuditEntries     []model.AuditEntry `json:"auditLog"`
}

// Store reads and writes the checkpoint file. Writes are atomic
// (temp file + rename); with persistence disabled, Save and Delete are
// no-ops and state lives only in memory.
type Store struct {
	path    string
	persist bool
}

// NewStore prepares the state directory.
func NewStore(stateDir string, persist bool) (*Store, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: filepath.Join(stateDir, fileName), persist: persist}, nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the existing checkpoint, or a fresh one when none exists.
// The second return value reports whether a previous run was resumed.
// A corrupted file is backed up with a timestamped suffix and a fresh
// checkpoint is started; a readable checkpoint is never discarded.
func (s *Store) Load() (*Checkpoint, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fresh(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		backup := s.path + ".corrupt-" + time.Now().Format("20060102T150405")
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return nil, false, fmt.Errorf("back up corrupt checkpoint: %w", renameErr)
		}
		return fresh(), false, nil
	}

	if cp.RunID == "" {
		cp.RunID = uuid.NewString()
	}
	return &cp, true, nil
}

// Save writes the checkpoint atomically.
func (s *Store) Save(cp *Checkpoint) error {
	if !s.persist {
		return nil
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint file after a fully successful run.
func (s *Store) Delete() error {
	if !s.persist {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func fresh() *Checkpoint {
	return &Checkpoint{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}
