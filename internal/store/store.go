// SPDX-License-Identifier: GPL-3.0-or-later

// Package store persists importer state: the incremental-fetch checkpoint
// and the record of past sync runs.
//
// Layout:
//   - checkpoint: key = "ckpt:last_edited" (RFC3339)
//   - runs:       key = "run:<id>" (JSON) with TTL
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	checkpointKey = "ckpt:last_edited"
	runPrefix     = "run:"

	// runTTL bounds how long finished run records are kept.
	runTTL = 30 * 24 * time.Hour
)

// RunRecord describes one sync run.
type RunRecord struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Pages       int       `json:"pages"`
	Members     int       `json:"members"`
	Individuals int       `json:"individuals"`
	Imported    int       `json:"imported"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
}

// Store is a badger-backed state store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Checkpoint returns the last_edited high-water mark of the last fully
// successful run. The second return value is false when no checkpoint has
// been written yet.
func (s *Store) Checkpoint(ctx context.Context) (time.Time, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checkpointKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	ts, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// SetCheckpoint stores the last_edited high-water mark.
func (s *Store) SetCheckpoint(ctx context.Context, ts time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointKey), []byte(ts.UTC().Format(time.RFC3339)))
	})
}

// PutRun stores a run record.
func (s *Store) PutRun(ctx context.Context, rec *RunRecord) error {
	key := []byte(runPrefix + rec.ID)
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, buf).WithTTL(runTTL)
		return txn.SetEntry(entry)
	})
}

// GetRun fetches a run record by ID. Returns nil without error when the
// record does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	key := []byte(runPrefix + id)
	var out RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// ScanRuns iterates over all stored run records.
func (s *Store) ScanRuns(ctx context.Context, fn func(*RunRecord) error) error {
	prefix := []byte(runPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			item := it.Item()
			var rec RunRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if err := fn(&rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentRuns returns up to limit run records, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	var list []*RunRecord
	err := s.ScanRuns(ctx, func(r *RunRecord) error {
		list = append(list, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys sort lexicographically by run ID, not by time.
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
