package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openmaude/maude-etl/internal/models"
)

// LoadCheckpointFile reads a persisted checkpoint. A missing file means no
// run is in progress and returns (nil, nil); an unreadable file is a
// genuinely unrecoverable condition and errors out.
func LoadCheckpointFile(path string) (*models.LoadCheckpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading checkpoint %s: %w", path, err)
	}

	var cp models.LoadCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s is corrupt: %w", path, err)
	}
	if cp.LoadedFiles == nil {
		cp.LoadedFiles = make(map[string][]string)
	}
	return &cp, nil
}

// SaveCheckpointFile writes the checkpoint atomically: temp file in the
// same directory, then rename. A crash mid-write leaves the previous
// checkpoint intact.
func SaveCheckpointFile(path string, cp *models.LoadCheckpoint) error {
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("error creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error replacing checkpoint %s: %w", path, err)
	}
	return nil
}

// RemoveCheckpointFile discards the checkpoint after a successful run.
func RemoveCheckpointFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing checkpoint %s: %w", path, err)
	}
	return nil
}
