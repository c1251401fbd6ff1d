// Package state persists engine state as JSON files. Writes go through a
// temporary file followed by an atomic rename so a crash mid-write never
// leaves a corrupt readable file. Missing or unreadable files are reported as
// "no prior state", never as fatal errors.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
)

const (
	riskStateFile  = "risk_state.json"
	tradeStateFile = "trade_state.json"

	// SchemaVersion is stamped into every persisted file.
	SchemaVersion = 1
)

// Store reads and writes the engine's persisted state files under a single
// directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "state")),
	}, nil
}

// SaveRisk persists the risk manager state atomically.
func (s *Store) SaveRisk(st domain.RiskState) error {
	st.Version = SchemaVersion
	st.SavedAt = time.Now().UTC()
	return s.writeAtomic(riskStateFile, st)
}

// LoadRisk returns the persisted risk state, or nil when no usable state
// exists. Corruption is logged as a warning and treated as absence.
func (s *Store) LoadRisk() *domain.RiskState {
	var st domain.RiskState
	if !s.read(riskStateFile, &st) {
		return nil
	}
	return &st
}

// SaveTrade persists the open position atomically.
func (s *Store) SaveTrade(pos domain.Position) error {
	pos.Version = SchemaVersion
	pos.SavedAt = time.Now().UTC()
	return s.writeAtomic(tradeStateFile, pos)
}

// LoadTrade returns the persisted open position, or nil when none exists.
func (s *Store) LoadTrade() *domain.Position {
	var pos domain.Position
	if !s.read(tradeStateFile, &pos) {
		return nil
	}
	if pos.InstID == "" {
		return nil
	}
	return &pos
}

// ClearTrade removes the persisted position. A missing file is not an error.
func (s *Store) ClearTrade() error {
	path := filepath.Join(s.dir, tradeStateFile)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: remove %s: %w", tradeStateFile, err)
	}
	return nil
}

// writeAtomic marshals v and replaces name via temp-file + rename.
func (s *Store) writeAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write temp for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: sync temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: rename %s: %w", name, err)
	}
	return nil
}

// read unmarshals name into v. Returns false when the file is absent or
// corrupt; corruption is downgraded to a warning.
func (s *Store) read(name string, v any) bool {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("state file unreadable, treating as absent",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("state file corrupt, treating as absent",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
