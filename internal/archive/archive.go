// SPDX-License-Identifier: GPL-3.0-or-later

// Package archive stores the raw member payloads fetched from upstream so
// runs can be audited and records re-parsed without re-fetching.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/bitergia/sortinghat-openinfra/internal/openinfra"
)

// Archive provides SQLite persistence for raw member records.
type Archive struct {
	db *sql.DB
}

// Open initializes the archive database and runs migrations.
// busy_timeout avoids "database locked" errors under concurrent access.
func Open(dbPath string) (*Archive, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY,
		last_edited INTEGER NOT NULL,
		fetched_at TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_members_last_edited ON members(last_edited);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SaveMembers upserts the given member records. Existing rows are replaced
// so the archive always holds the latest fetched version of each member.
func (a *Archive) SaveMembers(ctx context.Context, members []openinfra.Member) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO members (id, last_edited, fetched_at, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range members {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal member %d: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.LastEdited, now, string(payload)); err != nil {
			return fmt.Errorf("insert member %d: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// Member returns the archived record for the given member ID. Returns nil
// without error when the member is not archived.
func (a *Archive) Member(ctx context.Context, id int64) (*openinfra.Member, error) {
	var payload string
	err := a.db.QueryRowContext(ctx,
		`SELECT payload FROM members WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query member %d: %w", id, err)
	}

	var m openinfra.Member
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("unmarshal member %d: %w", id, err)
	}
	return &m, nil
}

// Count returns the number of archived members.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// EachMember iterates over all archived members ordered by last_edited
// descending.
func (a *Archive) EachMember(ctx context.Context, fn func(openinfra.Member) error) error {
	rows, err := a.db.QueryContext(ctx,
		`SELECT payload FROM members ORDER BY last_edited DESC`)
	if err != nil {
		return fmt.Errorf("query members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		var m openinfra.Member
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return fmt.Errorf("unmarshal member: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}
