package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// NewID generates a new ULID identifier for builds and deliveries.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	// WAL lets the API read while a build is being recorded.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type scanner interface{ Scan(...any) error }

// RecordBuild inserts or updates a build record.
func (s *SQLiteStore) RecordBuild(ctx context.Context, b *Build) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	params, err := nullJSON(b.Params, len(b.Params) == 0)
	if err != nil {
		return errors.Wrap(err, "encode params")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO builds (
			id, job_name, display_name, status, result, exit_code, started_at,
			finished_at, duration_ms, output_tail, error_msg, trigger_type,
			params, url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			exit_code = excluded.exit_code,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms,
			output_tail = excluded.output_tail,
			error_msg = excluded.error_msg`,
		b.ID,
		b.JobName,
		b.DisplayName,
		b.Status,
		nullString(b.Result),
		b.ExitCode,
		formatTime(b.StartedAt),
		formatTimePtr(b.FinishedAt),
		b.DurationMs,
		nullString(b.OutputTail),
		nullString(b.ErrorMsg),
		b.Trigger,
		params,
		nullString(b.URL),
		formatTime(b.CreatedAt),
	)
	return errors.Wrap(err, "record build")
}

func scanBuild(row scanner) (*Build, error) {
	var b Build
	var startedAt, createdAt string
	var result, finishedAt, outputTail, errorMsg, params, url sql.NullString
	var exitCode, durationMs sql.NullInt64

	err := row.Scan(
		&b.ID,
		&b.JobName,
		&b.DisplayName,
		&b.Status,
		&result,
		&exitCode,
		&startedAt,
		&finishedAt,
		&durationMs,
		&outputTail,
		&errorMsg,
		&b.Trigger,
		&params,
		&url,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	b.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, errors.Wrap(err, "parse started_at")
	}
	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	b.FinishedAt, err = parseTimePtr(finishedAt)
	if err != nil {
		return nil, errors.Wrap(err, "parse finished_at")
	}
	if params.Valid {
		if err := json.Unmarshal([]byte(params.String), &b.Params); err != nil {
			return nil, errors.Wrap(err, "decode params")
		}
	}

	b.Result = result.String
	b.ExitCode = int(exitCode.Int64)
	b.DurationMs = durationMs.Int64
	b.OutputTail = outputTail.String
	b.ErrorMsg = errorMsg.String
	b.URL = url.String
	return &b, nil
}

const selectBuildCols = `id, job_name, display_name, status, result, exit_code,
	started_at, finished_at, duration_ms, output_tail, error_msg, trigger_type,
	params, url, created_at`

// GetBuild retrieves a single build by ID. A missing build is (nil, nil).
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectBuildCols+" FROM builds WHERE id = ?", id)
	b, err := scanBuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// ListBuilds returns builds matching opts, newest first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, opts ListOpts) ([]*Build, error) {
	query, args := listQuery("SELECT "+selectBuildCols+" FROM builds", "started_at", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list builds")
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

func listQuery(base, orderCol string, opts ListOpts) (string, []any) {
	query := base
	var args []any
	if opts.JobName != "" {
		query += " WHERE job_name = ?"
		args = append(args, opts.JobName)
	}
	query += " ORDER BY " + orderCol + " DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}
	return query, args
}

// GetJobStats returns aggregate statistics for a given job.
func (s *SQLiteStore) GetJobStats(ctx context.Context, jobName string) (*JobStats, error) {
	var stats JobStats
	var lastBuild sql.NullString
	var avgDuration sql.NullFloat64
	var successes, failures, unstable sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN result = 'SUCCESS' THEN 1 ELSE 0 END),
			SUM(CASE WHEN result = 'FAILURE' THEN 1 ELSE 0 END),
			SUM(CASE WHEN result = 'UNSTABLE' THEN 1 ELSE 0 END),
			MAX(started_at),
			AVG(duration_ms)
		FROM builds
		WHERE job_name = ?`, jobName).Scan(
		&stats.TotalBuilds,
		&successes,
		&failures,
		&unstable,
		&lastBuild,
		&avgDuration,
	)
	if err != nil {
		return nil, errors.Wrap(err, "job stats")
	}
	stats.Successes = int(successes.Int64)
	stats.Failures = int(failures.Int64)
	stats.Unstable = int(unstable.Int64)
	stats.AvgDurationMs = avgDuration.Float64

	if lastBuild.Valid {
		t, err := parseTime(lastBuild.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse last build")
		}
		stats.LastBuild = &t
	}
	return &stats, nil
}
