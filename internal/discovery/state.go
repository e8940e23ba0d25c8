package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/openmaude/maude-etl/internal/models"
)

// LoadState reads the persisted discovery state. Missing file means a
// first run and returns an empty state.
func LoadState(path string) (models.DiscoveryState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.DiscoveryState{}, nil
		}
		return nil, fmt.Errorf("error reading discovery state %s: %w", path, err)
	}

	var state models.DiscoveryState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("discovery state %s is corrupt: %w", path, err)
	}
	if state == nil {
		state = models.DiscoveryState{}
	}
	return state, nil
}

// SaveState writes the state atomically via temp file and rename.
func SaveState(path string, state models.DiscoveryState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling discovery state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".discovery-*")
	if err != nil {
		return fmt.Errorf("error creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing discovery state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error closing discovery state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error replacing discovery state %s: %w", path, err)
	}
	return nil
}

// ConfirmDownloaded advances the state for one file. Called only after
// the file is fully on disk, so a failed download leaves the old entry
// and the file stays pending.
func ConfirmDownloaded(state models.DiscoveryState, result ProbeResult, downloadedAt time.Time, checksum string) {
	state[result.File.Name] = models.FileState{
		LastModified: result.LastModified,
		SizeBytes:    result.SizeBytes,
		DownloadedAt: downloadedAt,
		Checksum:     checksum,
	}
}
