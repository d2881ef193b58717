package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"timetable/internal/models"
)

type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fault("connect postgres", err)
	}
	return &PostgresStore{Pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl, err := schema("postgres.sql")
	if err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, ddl); err != nil {
		return fault("migrate postgres", err)
	}
	return nil
}

func (s *PostgresStore) CreateSource(ctx context.Context, fileRef string) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO sources (file_path, status) VALUES ($1, 'pending') RETURNING id`, fileRef).Scan(&id)
	if err != nil {
		return 0, fault("create source", err)
	}
	return id, nil
}

func (s *PostgresStore) Commit(ctx context.Context, sourceID int64, records []models.ActivityRecord) ([]models.ActivityRecord, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fault("begin tx commit source", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := s.settle(ctx, tx, sourceID, models.SourceSucceeded, ""); err != nil {
		return nil, err
	}
	out := make([]models.ActivityRecord, 0, len(records))
	for i, r := range records {
		r.SourceID = sourceID
		err := tx.QueryRow(ctx, `
INSERT INTO activities (source_id, day, start_time, end_time, label, notes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, sourceID, string(r.Day), r.Start.String(), r.End.String(), r.Label, r.Notes).Scan(&r.ID)
		if err != nil {
			return nil, fault(fmt.Sprintf("insert activity %d", i), err)
		}
		out = append(out, r)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fault("commit source tx", err)
	}
	return out, nil
}

func (s *PostgresStore) Fail(ctx context.Context, sourceID int64, reason string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fault("begin tx fail source", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := s.settle(ctx, tx, sourceID, models.SourceFailed, reason); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fault("commit fail source tx", err)
	}
	return nil
}

// settle moves a pending source to a terminal status inside tx.
func (s *PostgresStore) settle(ctx context.Context, tx pgx.Tx, sourceID int64, status models.SourceStatus, reason string) error {
	var processedAt *time.Time
	if status == models.SourceSucceeded {
		now := time.Now().UTC()
		processedAt = &now
	}
	tag, err := tx.Exec(ctx, `
UPDATE sources SET status=$2, processed_at=$3, fail_reason=NULLIF($4,'')
WHERE id=$1 AND status='pending'`, sourceID, string(status), processedAt, reason)
	if err != nil {
		return fault("update source status", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM sources WHERE id=$1`, sourceID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("settle source %d: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return fault("read source status", err)
	}
	return fmt.Errorf("settle source %d (%s): %w", sourceID, current, ErrNotPending)
}

func (s *PostgresStore) GetSource(ctx context.Context, sourceID int64) (models.Source, error) {
	var src models.Source
	err := s.Pool.QueryRow(ctx, `
SELECT id, file_path, status, processed_at, COALESCE(fail_reason,''), created_at
FROM sources WHERE id=$1`, sourceID).
		Scan(&src.ID, &src.FilePath, &src.Status, &src.ProcessedAt, &src.FailReason, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Source{}, fmt.Errorf("get source %d: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return models.Source{}, fault("get source", err)
	}
	return src, nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, sourceID int64) ([]models.ActivityRecord, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, source_id, day, start_time, end_time, label, notes
FROM activities
WHERE source_id=$1
ORDER BY id ASC`, sourceID)
	if err != nil {
		return nil, fault("list activities", err)
	}
	defer rows.Close()

	out := make([]models.ActivityRecord, 0)
	for rows.Next() {
		var (
			r          models.ActivityRecord
			start, end string
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.Day, &start, &end, &r.Label, &r.Notes); err != nil {
			return nil, fault("scan activity", err)
		}
		if err := parseTimes(&r, start, end); err != nil {
			return nil, fault("scan activity", err)
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

func (s *PostgresStore) DeleteSource(ctx context.Context, sourceID int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM sources WHERE id=$1`, sourceID)
	if err != nil {
		return fault("delete source", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete source %d: %w", sourceID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, before time.Time, reason string) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
UPDATE sources SET status='failed', fail_reason=NULLIF($2,'')
WHERE status='pending' AND created_at < $1`, before, reason)
	if err != nil {
		return 0, fault("expire pending sources", err)
	}
	return tag.RowsAffected(), nil
}
