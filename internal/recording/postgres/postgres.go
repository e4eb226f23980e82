// Package postgres is a [recording.Store] on PostgreSQL for deployments
// where several recorders share one history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// Schema is the SQL DDL for the recordings table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS recordings (
    id          UUID PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    filename    TEXT NOT NULL UNIQUE,
    text        TEXT NOT NULL DEFAULT '',
    live_text   TEXT NOT NULL DEFAULT '',
    segments    JSONB NOT NULL DEFAULT '[]',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [recording.Store] backed by PostgreSQL.
type Store struct {
	db    DB
	ping  func(context.Context) error
	close func()
}

var _ recording.Store = (*Store)(nil)

// New wraps an existing connection or pool. The caller owns db; Close is a
// no-op and Ping runs a trivial query.
func New(db DB) *Store {
	s := &Store{db: db, close: func() {}}
	s.ping = func(ctx context.Context) error {
		var one int
		return db.QueryRow(ctx, "SELECT 1").Scan(&one)
	}
	return s
}

// Connect opens a pool for dsn and applies [Schema].
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: pool, ping: pool.Ping, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
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
	const query = `
		INSERT INTO recordings (id, created_at, duration_ms, filename, text, live_text, segments, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.db.Exec(ctx, query,
		r.ID, r.CreatedAt, r.Duration.Milliseconds(), r.Filename,
		r.Text, r.LiveText, segs, string(r.Status), r.Error)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: recording %q or file %q already exists", r.ID, r.Filename)
		}
		return fmt.Errorf("postgres: create %s: %w", r.ID, err)
	}
	return nil
}

// UpdateLive implements [recording.Store].
func (s *Store) UpdateLive(ctx context.Context, id, liveText string, segments []stt.Segment) error {
	segs, err := recording.EncodeSegments(segments)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE recordings SET live_text = $1, segments = $2, updated_at = now() WHERE id = $3`,
		liveText, segs, id)
	return affected(tag, err, "update live", id)
}

// SetStatus implements [recording.Store].
func (s *Store) SetStatus(ctx context.Context, id string, status recording.Status) error {
	if !status.Valid() {
		return fmt.Errorf("postgres: unknown status %q", status)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE recordings SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id)
	return affected(tag, err, "set status", id)
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
	const query = `
		UPDATE recordings
		SET text = $1, segments = $2, status = $3, error = $4,
		    duration_ms = CASE WHEN $5 > 0 THEN $5 ELSE duration_ms END,
		    updated_at = now()
		WHERE id = $6`
	tag, err := s.db.Exec(ctx, query,
		c.Text, segs, string(c.Status), c.Error, c.Duration.Milliseconds(), id)
	return affected(tag, err, "complete", id)
}

const selectColumns = `
	SELECT id::text, created_at, duration_ms, filename, text, live_text, segments, status, error
	FROM recordings`

// Get implements [recording.Store].
func (s *Store) Get(ctx context.Context, id string) (*recording.Recording, error) {
	r, err := scan(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, recording.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return r, nil
}

// List implements [recording.Store].
func (s *Store) List(ctx context.Context, limit int) ([]*recording.Recording, error) {
	query := selectColumns + ` ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	var out []*recording.Recording
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return out, nil
}

// Filenames implements [recording.Store].
func (s *Store) Filenames(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT filename FROM recordings ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("postgres: filenames: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: filenames: %w", err)
	}
	return names, nil
}

// Ping implements [recording.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close implements [recording.Store]. It closes the pool opened by
// [Connect].
func (s *Store) Close() error {
	s.close()
	return nil
}

func scan(row pgx.Row) (*recording.Recording, error) {
	var (
		r          recording.Recording
		durationMS int64
		segs       []byte
		status     string
	)
	if err := row.Scan(&r.ID, &r.CreatedAt, &durationMS, &r.Filename, &r.Text, &r.LiveText, &segs, &status, &r.Error); err != nil {
		return nil, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Status = recording.Status(status)
	var err error
	if r.Segments, err = recording.DecodeSegments(segs); err != nil {
		return nil, err
	}
	return &r, nil
}

func affected(tag pgconn.CommandTag, err error, op, id string) error {
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s %s: %w", op, id, recording.ErrNotFound)
	}
	return nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
