// Package archive mirrors sink writes into a SQLite database so match
// history stays queryable after the flat files rotate. The flat files remain
// authoritative; every archive write is best-effort.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"inboxwatch/internal/poller"
	"inboxwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Archive implements poller.Archive backed by a SQLite database.
type Archive struct {
	db *sql.DB
}

// Open opens the SQLite database at dsn and runs pending migrations.
func Open(dsn string) (*Archive, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordMatch inserts one match row. Re-recording the same message from the
// same source is a no-op, mirroring the sinks' idempotence.
func (a *Archive) RecordMatch(ctx context.Context, m poller.ArchivedMatch) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := a.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO matches (run_id, source, watch_title, message_id, sender, subject, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Source, m.WatchTitle, m.MessageID, m.Sender, m.Subject, now,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// RecordRun inserts one run summary row.
func (a *Archive) RecordRun(ctx context.Context, r poller.RunSummary) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, fetched, matched, written, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.Fetched, r.Matched, r.Written, now,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentMatches returns the latest match rows for one source, newest first.
func (a *Archive) RecentMatches(ctx context.Context, source string, limit int) ([]poller.ArchivedMatch, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT run_id, source, watch_title, message_id, sender, subject
		 FROM matches WHERE source = ? ORDER BY id DESC LIMIT ?`,
		source, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []poller.ArchivedMatch
	for rows.Next() {
		var m poller.ArchivedMatch
		if err := rows.Scan(&m.RunID, &m.Source, &m.WatchTitle, &m.MessageID, &m.Sender, &m.Subject); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
