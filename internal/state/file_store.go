package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nholik/smso/internal/health"
	"github.com/rs/zerolog"
)

// FileDeploymentLog keeps the deployment history as a JSON array on disk.
type FileDeploymentLog struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// NewFileDeploymentLog returns a JSON-backed deployment log.
func NewFileDeploymentLog(path string, logger zerolog.Logger) *FileDeploymentLog {
	return &FileDeploymentLog{path: path, logger: logger}
}

// Append adds records to the end of the log. A corrupt log is left untouched.
func (l *FileDeploymentLog) Append(ctx context.Context, records ...DeploymentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if err != nil {
		return err
	}
	return writeJSONAtomic(l.path, append(existing, records...))
}

// History returns every record, oldest first. A missing log is empty.
func (l *FileDeploymentLog) History(ctx context.Context) ([]DeploymentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *FileDeploymentLog) read() ([]DeploymentRecord, error) {
	records := []DeploymentRecord{}
	found, err := readJSON(l.path, &records)
	if err != nil {
		return nil, fmt.Errorf("read deployment log %s: %w", l.path, err)
	}
	if !found {
		l.logger.Debug().Str("path", l.path).Msg("deployment log missing, starting fresh")
	}
	if records == nil {
		records = []DeploymentRecord{}
	}
	return records, nil
}

// FileHealthSummary overwrites a JSON array with each pass's records.
type FileHealthSummary struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// NewFileHealthSummary returns a JSON-backed health summary.
func NewFileHealthSummary(path string, logger zerolog.Logger) *FileHealthSummary {
	return &FileHealthSummary{path: path, logger: logger}
}

// Save replaces the summary.
func (s *FileHealthSummary) Save(ctx context.Context, records []health.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []health.Record{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.path, records)
}

// Load reads the last pass. Missing or corrupt files return an empty summary with a warning.
func (s *FileHealthSummary) Load(ctx context.Context) ([]health.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := []health.Record{}
	found, err := readJSON(s.path, &records)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			s.logger.Warn().Str("path", s.path).Err(err).Msg("health summary corrupt, starting fresh")
			return []health.Record{}, nil
		}
		return nil, err
	}
	if !found {
		s.logger.Debug().Str("path", s.path).Msg("health summary missing")
	}
	if records == nil {
		records = []health.Record{}
	}
	return records, nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, err
	}
	return true, nil
}

// writeJSONAtomic writes v next to path and renames it into place.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".smso-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}
