// SPDX-License-Identifier: MIT

// Package resume persists playback positions for interrupted items so a
// renderer can continue where it stopped.
package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Marker records the playback position of one interrupted item.
type Marker struct {
	Path      string
	Offset    time.Duration
	Done      bool
	UpdatedAt time.Time

	// PlayCount is the number of recorded playbacks, completed or not.
	PlayCount int
}

// Store provides SQLite persistence for resume markers.
type Store struct {
	db *sql.DB

	// MinWatched is the minimum played time before a marker is created.
	MinWatched time.Duration
}

// NewStore opens (and migrates) the marker database. WAL mode and a
// busy timeout keep the read-heavy browse path from hitting lock errors.
func NewStore(dbPath string, minWatched time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, MinWatched: minWatched}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resume_markers (
		path TEXT PRIMARY KEY,
		offset_ms INTEGER NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		play_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the marker for path, or nil when none exists.
func (s *Store) Get(ctx context.Context, path string) (*Marker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT path, offset_ms, done, play_count, updated_at FROM resume_markers WHERE path = ?`, path)

	var m Marker
	var offsetMS int64
	var done int
	var updatedAt string
	if err := row.Scan(&m.Path, &offsetMS, &done, &m.PlayCount, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan marker: %w", err)
	}
	m.Offset = time.Duration(offsetMS) * time.Millisecond
	m.Done = done != 0
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		m.UpdatedAt = ts
	}
	return &m, nil
}

// Record creates or updates the marker for path. Positions under the
// watched threshold are ignored; done markers record completion. Every
// accepted record bumps the marker's play count.
func (s *Store) Record(ctx context.Context, path string, offset time.Duration, done bool) error {
	if !done && offset < s.MinWatched {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO resume_markers (path, offset_ms, done, play_count, updated_at)
	VALUES (?, ?, ?, 1, ?)
	ON CONFLICT(path) DO UPDATE SET
		offset_ms = excluded.offset_ms,
		done = excluded.done,
		play_count = resume_markers.play_count + 1,
		updated_at = excluded.updated_at
	`, path, offset.Milliseconds(), boolToInt(done), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record marker: %w", err)
	}
	return nil
}

// Delete removes the marker for path. Used when resumed playback
// completes or the underlying file disappears.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resume_markers WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
