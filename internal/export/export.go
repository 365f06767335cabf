// SPDX-License-Identifier: GPL-3.0-or-later

// Package export writes the individuals of the last sync run as a JSON
// snapshot under the data directory.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/bitergia/sortinghat-openinfra/internal/identity"
)

// SnapshotFilename is the name of the snapshot file inside the data dir.
const SnapshotFilename = "individuals.json"

// Snapshot is the on-disk format of an export.
type Snapshot struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Count       int                   `json:"count"`
	Individuals []identity.Individual `json:"individuals"`
}

// Write atomically writes the snapshot file for the given individuals.
// renameio handles temp file creation, fsync and atomic rename, so readers
// never observe a partially written snapshot.
func Write(dataDir string, individuals []identity.Individual) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, SnapshotFilename)
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending snapshot: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	snap := Snapshot{
		GeneratedAt: time.Now().UTC(),
		Count:       len(individuals),
		Individuals: individuals,
	}

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace snapshot: %w", err)
	}
	return path, nil
}

// Read loads a previously written snapshot.
func Read(dataDir string) (*Snapshot, error) {
	path := filepath.Join(dataDir, SnapshotFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
