// Package sqlite is the default [recording.Store], a single SQLite file
// next to the recordings. It uses the pure-Go modernc.org/sqlite driver so
// the binary needs no extra C toolchain beyond whisper and portaudio.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// Schema is the DDL applied by [Open].
const Schema = `
CREATE TABLE IF NOT EXISTS recordings (
    id          TEXT PRIMARY KEY,
    created_at  TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    filename    TEXT NOT NULL UNIQUE,
    text        TEXT NOT NULL DEFAULT '',
    live_text   TEXT NOT NULL DEFAULT '',
    segments    TEXT NOT NULL DEFAULT '[]',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);
`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Memory opens a private in-memory database.
const Memory = ":memory:"

// Store is a [recording.Store] on SQLite.
type Store struct {
	db *sql.DB
}

var _ recording.Store = (*Store)(nil)

// Open opens or creates the database at path and applies [Schema]. Pass
// [Memory] for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != Memory {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: SQLite serialises writers anyway and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Create implements [recording.Store].
func (s *Store) Create(ctx context.Context, r *recording.Recording) error {
	if err := r.Validate(); err != nil {
		return err
	}
	segs, err := recording.EncodeSegments(r.Segments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, created_at, duration_ms, filename, text, live_text, segments, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UTC().Format(timeLayout), r.Duration.Milliseconds(), r.Filename,
		r.Text, r.LiveText, string(segs), string(r.Status), r.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create %s: %w", r.ID, err)
	}
	return nil
}

// UpdateLive implements [recording.Store].
func (s *Store) UpdateLive(ctx context.Context, id, liveText string, segments []stt.Segment) error {
	segs, err := recording.EncodeSegments(segments)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET live_text = ?, segments = ? WHERE id = ?`,
		liveText, string(segs), id)
	return affected(res, err, "update live", id)
}

// SetStatus implements [recording.Store].
func (s *Store) SetStatus(ctx context.Context, id string, status recording.Status) error {
	if !status.Valid() {
		return fmt.Errorf("sqlite: unknown status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = ? WHERE id = ?`, string(status), id)
	return affected(res, err, "set status", id)
}

// Complete implements [recording.Store].
func (s *Store) Complete(ctx context.Context, id string, c recording.Completion) error {
	if err := recording.CheckCompletion(c); err != nil {
		return err
	}
	segs, err := recording.EncodeSegments(c.Segments)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings
		SET text = ?, segments = ?, status = ?, error = ?,
		    duration_ms = CASE WHEN ? > 0 THEN ? ELSE duration_ms END
		WHERE id = ?`,
		c.Text, string(segs), string(c.Status), c.Error,
		c.Duration.Milliseconds(), c.Duration.Milliseconds(), id)
	return affected(res, err, "complete", id)
}

const selectColumns = `SELECT id, created_at, duration_ms, filename, text, live_text, segments, status, error FROM recordings`

// Get implements [recording.Store].
func (s *Store) Get(ctx context.Context, id string) (*recording.Recording, error) {
	r, err := scan(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recording.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	return r, nil
}

// List implements [recording.Store].
func (s *Store) List(ctx context.Context, limit int) ([]*recording.Recording, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []*recording.Recording
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Filenames implements [recording.Store].
func (s *Store) Filenames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM recordings ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: filenames: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: filenames: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Ping implements [recording.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close implements [recording.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*recording.Recording, error) {
	var (
		r          recording.Recording
		created    string
		durationMS int64
		segs       string
		status     string
	)
	if err := row.Scan(&r.ID, &created, &durationMS, &r.Filename, &r.Text, &r.LiveText, &segs, &status, &r.Error); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Status = recording.Status(status)
	if r.Segments, err = recording.DecodeSegments([]byte(segs)); err != nil {
		return nil, err
	}
	return &r, nil
}

func affected(res sql.Result, err error, op, id string) error {
	if err != nil {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, recording.ErrNotFound)
	}
	return nil
}
