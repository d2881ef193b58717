package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"timetable/internal/events"
	"timetable/internal/models"
	"timetable/internal/normalize"
	"timetable/internal/observability"
	"timetable/internal/ocr"
	"timetable/internal/pipeline"
	"timetable/internal/storage"
)

// Application error types the workflow and its retry policy key on.
const (
	ErrTypeUnsupportedFormat = "UnsupportedFormat"
	ErrTypeCorruptInput      = "CorruptInput"
	ErrTypeRecognition       = "RecognitionFailed"
	ErrTypeSourceState       = "SourceState"
)

type Activities struct {
	pipeline *pipeline.Pipeline
	store    storage.Gateway
}

func New(p *pipeline.Pipeline, store storage.Gateway) *Activities {
	return &Activities{pipeline: p, store: store}
}

func (a *Activities) InspectFileActivity(ctx context.Context, in InspectFileInput) (InspectFileOutput, error) {
	_ = ctx
	mt, err := pipeline.Inspect(in.FileRef)
	if err != nil {
		return InspectFileOutput{}, classify(err)
	}
	return InspectFileOutput{MimeType: mt}, nil
}

func (a *Activities) CreateSourceActivity(ctx context.Context, in CreateSourceInput) (CreateSourceOutput, error) {
	id, err := a.store.CreateSource(ctx, in.FileRef)
	if err != nil {
		return CreateSourceOutput{}, err
	}
	activity.GetLogger(ctx).Info("source created", "source_id", id, "file", in.FileRef)
	return CreateSourceOutput{SourceID: id}, nil
}

func (a *Activities) ExtractRecordsActivity(ctx context.Context, in ExtractRecordsInput) (ExtractRecordsOutput, error) {
	data, err := a.pipeline.Load(ctx, in.FileRef, in.MimeType)
	if err != nil {
		return ExtractRecordsOutput{}, classify(err)
	}
	ext, err := a.pipeline.Extract(ctx, data, in.MimeType)
	if err != nil {
		return ExtractRecordsOutput{}, classify(err)
	}
	if err := a.pipeline.WriteArtifacts(in.SourceID, ext); err != nil {
		activity.GetLogger(ctx).Warn("write artifacts", "source_id", in.SourceID, "error", err)
	}
	return ExtractRecordsOutput{
		Pages:      ext.Pages,
		Regions:    len(ext.Regions),
		Metadata:   ext.Metadata.OrNil(),
		Records:    ext.Records,
		Confidence: ext.Confidence,
		Warnings:   ext.WarningText(),
	}, nil
}

// CommitSourceActivity is idempotent: a retry after a commit whose result
// was lost returns the records already stored.
func (a *Activities) CommitSourceActivity(ctx context.Context, in CommitSourceInput) (CommitSourceOutput, error) {
	stored, err := a.store.Commit(ctx, in.SourceID, in.Records)
	if errors.Is(err, storage.ErrNotPending) {
		return a.committed(ctx, in.SourceID, err)
	}
	if err != nil {
		return CommitSourceOutput{}, classify(err)
	}
	observability.RunsTotal.WithLabelValues(string(models.SourceSucceeded)).Inc()
	observability.RecordsExtracted.Add(float64(len(stored)))
	a.pipeline.Publish(ctx, events.SourceCompleted{
		SourceID: in.SourceID,
		Status:   string(models.SourceSucceeded),
		Records:  len(stored),
		Warnings: in.Warnings,
	})
	return CommitSourceOutput{Records: stored}, nil
}

func (a *Activities) committed(ctx context.Context, id int64, cause error) (CommitSourceOutput, error) {
	src, err := a.store.GetSource(ctx, id)
	if err != nil {
		return CommitSourceOutput{}, classify(err)
	}
	if src.Status != models.SourceSucceeded {
		return CommitSourceOutput{}, classify(cause)
	}
	stored, err := a.store.ListActivities(ctx, id)
	if err != nil {
		return CommitSourceOutput{}, classify(err)
	}
	activity.GetLogger(ctx).Info("source already committed", "source_id", id, "records", len(stored))
	return CommitSourceOutput{Records: stored}, nil
}

// FailSourceActivity is idempotent: a source that is already terminal is
// left alone.
func (a *Activities) FailSourceActivity(ctx context.Context, in FailSourceInput) error {
	err := a.store.Fail(ctx, in.SourceID, in.Reason)
	if errors.Is(err, storage.ErrNotPending) {
		return nil
	}
	if err != nil {
		return classify(err)
	}
	observability.RunsTotal.WithLabelValues(string(models.SourceFailed)).Inc()
	a.pipeline.Publish(ctx, events.SourceCompleted{SourceID: in.SourceID, Status: string(models.SourceFailed), FailReason: in.Reason})
	return nil
}

// classify marks errors that retrying cannot fix. Everything else keeps the
// retry policy of the workflow.
func classify(err error) error {
	switch {
	case errors.Is(err, normalize.ErrUnsupportedFormat):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnsupportedFormat, err)
	case errors.Is(err, normalize.ErrCorruptInput):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeCorruptInput, err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrNotPending):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeSourceState, err)
	case errors.Is(err, storage.ErrStorageFailure):
		return err
	case errors.Is(err, ocr.ErrBadResponse):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeRecognition, err)
	default:
		return err
	}
}
