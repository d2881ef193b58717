// Package storage persists sources and their activity records.
package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"timetable/internal/models"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var (
	ErrNotFound       = errors.New("source not found")
	ErrNotPending     = errors.New("source is not pending")
	ErrStorageFailure = errors.New("storage failure")
)

// StorageError wraps a driver fault. errors.Is(err, ErrStorageFailure) holds
// for every StorageError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() []error { return []error{ErrStorageFailure, e.Err} }

func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Gateway is the persistence boundary of the pipeline. Commit and Fail are
// called at most once per source; readers never see a half-written record
// set.
type Gateway interface {
	CreateSource(ctx context.Context, fileRef string) (int64, error)
	// Commit marks the source succeeded and inserts records in one
	// transaction. The returned records carry their assigned ids.
	Commit(ctx context.Context, sourceID int64, records []models.ActivityRecord) ([]models.ActivityRecord, error)
	Fail(ctx context.Context, sourceID int64, reason string) error
	GetSource(ctx context.Context, sourceID int64) (models.Source, error)
	ListActivities(ctx context.Context, sourceID int64) ([]models.ActivityRecord, error)
	DeleteSource(ctx context.Context, sourceID int64) error
	// ExpirePending fails sources still pending that were created before
	// the cutoff and returns how many were updated.
	ExpirePending(ctx context.Context, before time.Time, reason string) (int64, error)
	Close()
}

// Open connects to the store named by url and applies the schema.
// postgres:// and postgresql:// select Postgres; sqlite://path and file: URIs
// select SQLite.
func Open(ctx context.Context, url string) (Gateway, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		s, err := NewPostgresStore(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"):
		return OpenSQLite(ctx, url)
	default:
		return nil, fmt.Errorf("open storage: unsupported database url %q", redact(url))
	}
}

func redact(url string) string {
	if i := strings.Index(url, "@"); i >= 0 {
		if j := strings.Index(url, "://"); j >= 0 && j < i {
			return url[:j+3] + "***" + url[i:]
		}
	}
	return url
}

func schema(name string) (string, error) {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return "", fmt.Errorf("read schema %s: %w", name, err)
	}
	return string(b), nil
}

func parseTimes(r *models.ActivityRecord, start, end string) error {
	var err error
	if r.Start, err = models.ParseClock(start); err != nil {
		return err
	}
	r.End, err = models.ParseClock(end)
	return err
}
