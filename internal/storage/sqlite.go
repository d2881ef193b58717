package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"timetable/internal/models"
)

// sqliteTime is fixed width so stored timestamps compare as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	DB *sql.DB
}

type sqliteOptions struct {
	busyTimeout int
	mkdirAll    bool
}

type SQLiteOption func(*sqliteOptions)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) SQLiteOption { return func(o *sqliteOptions) { o.busyTimeout = ms } }

// WithoutMkdir leaves the parent directory of the database file alone.
func WithoutMkdir() SQLiteOption { return func(o *sqliteOptions) { o.mkdirAll = false } }

// OpenSQLite opens the database at path with foreign keys, WAL and a busy
// timeout applied on every connection, then applies the schema.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	o := sqliteOptions{busyTimeout: 10_000, mkdirAll: true}
	for _, opt := range opts {
		opt(&o)
	}
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if o.mkdirAll && !memory && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("open sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, o))
	if err != nil {
		return nil, fault("open sqlite", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{DB: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string, o sqliteOptions) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.busyTimeout))
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// OpenMemory opens a private in-memory store. Tests use it.
func OpenMemory(ctx context.Context) (*SQLiteStore, error) {
	return OpenSQLite(ctx, ":memory:")
}

func (s *SQLiteStore) Close() {
	if s != nil && s.DB != nil {
		_ = s.DB.Close()
	}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	ddl, err := schema("sqlite.sql")
	if err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
		return fault("migrate sqlite", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSource(ctx context.Context, fileRef string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO sources (file_path, status, created_at) VALUES (?, 'pending', ?)`,
		fileRef, time.Now().UTC().Format(sqliteTime))
	if err != nil {
		return 0, fault("create source", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("create source", err)
	}
	return id, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, sourceID int64, records []models.ActivityRecord) ([]models.ActivityRecord, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fault("begin tx commit source", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.settle(ctx, tx, sourceID, models.SourceSucceeded, ""); err != nil {
		return nil, err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO activities (source_id, day, start_time, end_time, label, notes)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fault("prepare insert activity", err)
	}
	defer stmt.Close()

	out := make([]models.ActivityRecord, 0, len(records))
	for i, r := range records {
		r.SourceID = sourceID
		res, err := stmt.ExecContext(ctx, sourceID, string(r.Day), r.Start.String(), r.End.String(), r.Label, r.Notes)
		if err != nil {
			return nil, fault(fmt.Sprintf("insert activity %d", i), err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return nil, fault(fmt.Sprintf("insert activity %d", i), err)
		}
		out = append(out, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fault("commit source tx", err)
	}
	return out, nil
}

func (s *SQLiteStore) Fail(ctx context.Context, sourceID int64, reason string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fault("begin tx fail source", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := s.settle(ctx, tx, sourceID, models.SourceFailed, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fault("commit fail source tx", err)
	}
	return nil
}

func (s *SQLiteStore) settle(ctx context.Context, tx *sql.Tx, sourceID int64, status models.SourceStatus, reason string) error {
	var processedAt any
	if status == models.SourceSucceeded {
		processedAt = time.Now().UTC().Format(sqliteTime)
	}
	res, err := tx.ExecContext(ctx, `
UPDATE sources SET status=?, processed_at=?, fail_reason=NULLIF(?,'')
WHERE id=? AND status='pending'`, string(status), processedAt, reason, sourceID)
	if err != nil {
		return fault("update source status", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fault("update source status", err)
	} else if n == 1 {
		return nil
	}
	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sources WHERE id=?`, sourceID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("settle source %d: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return fault("read source status", err)
	}
	return fmt.Errorf("settle source %d (%s): %w", sourceID, current, ErrNotPending)
}

func (s *SQLiteStore) GetSource(ctx context.Context, sourceID int64) (models.Source, error) {
	var (
		src         models.Source
		status      string
		processedAt sql.NullString
		createdAt   string
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, file_path, status, processed_at, COALESCE(fail_reason,''), created_at
FROM sources WHERE id=?`, sourceID).
		Scan(&src.ID, &src.FilePath, &status, &processedAt, &src.FailReason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Source{}, fmt.Errorf("get source %d: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return models.Source{}, fault("get source", err)
	}
	src.Status = models.SourceStatus(status)
	if src.CreatedAt, err = time.Parse(sqliteTime, createdAt); err != nil {
		return models.Source{}, fault("parse source created_at", err)
	}
	if processedAt.Valid {
		t, err := time.Parse(sqliteTime, processedAt.String)
		if err != nil {
			return models.Source{}, fault("parse source processed_at", err)
		}
		src.ProcessedAt = &t
	}
	return src, nil
}

func (s *SQLiteStore) ListActivities(ctx context.Context, sourceID int64) ([]models.ActivityRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, source_id, day, start_time, end_time, label, notes
FROM activities
WHERE source_id=?
ORDER BY id ASC`, sourceID)
	if err != nil {
		return nil, fault("list activities", err)
	}
	defer rows.Close()

	out := make([]models.ActivityRecord, 0)
	for rows.Next() {
		var (
			r               models.ActivityRecord
			day, start, end string
			notes           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &day, &start, &end, &r.Label, &notes); err != nil {
			return nil, fault("scan activity", err)
		}
		r.Day = models.Day(day)
		if err := parseTimes(&r, start, end); err != nil {
			return nil, fault("scan activity", err)
		}
		if notes.Valid {
			r.Notes = models.StringPtr(notes.String)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("iterate activities", err)
	}
	if len(out) == 0 {
		if _, err := s.GetSource(ctx, sourceID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceID int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sources WHERE id=?`, sourceID)
	if err != nil {
		return fault("delete source", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault("delete source", err)
	}
	if n == 0 {
		return fmt.Errorf("delete source %d: %w", sourceID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ExpirePending(ctx context.Context, before time.Time, reason string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE sources SET status='failed', fail_reason=NULLIF(?,'')
WHERE status='pending' AND created_at < ?`, reason, before.UTC().Format(sqliteTime))
	if err != nil {
		return 0, fault("expire pending sources", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fault("expire pending sources", err)
	}
	return n, nil
}
