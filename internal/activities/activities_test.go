package activities

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"timetable/internal/blob"
	"timetable/internal/logging"
	"timetable/internal/models"
	"timetable/internal/normalize"
	"timetable/internal/pipeline"
	"timetable/internal/storage"
	"timetable/internal/table"
)

type oneGrid struct{}

func (oneGrid) Detect(_ context.Context, page normalize.Page) ([]table.Grid, error) {
	g := table.Grid{Page: page.Number, Rows: 2, Cols: 2}
	for i, text := range []string{"", "Monday", "9:00-9:30", "Physics"} {
		state := table.CellText
		if text == "" {
			state = table.CellEmpty
		}
		g.Cells = append(g.Cells, table.Cell{Row: i / 2, Col: i % 2, RowSpan: 1, ColSpan: 1, Text: text, State: state, Confidence: 1})
	}
	return []table.Grid{g}, nil
}

func setup(t *testing.T) (*testsuite.TestActivityEnvironment, *Activities, storage.Gateway) {
	t.Helper()
	store, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	p := pipeline.New(pipeline.Options{
		Detector:      oneGrid{},
		Store:         store,
		Files:         blob.Opener{},
		ArtifactsRoot: t.TempDir(),
		Logger:        logging.Discard(),
	})
	a := New(p, store)
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)
	return env, a, store
}

func pngFile(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 20))))
	path := filepath.Join(t.TempDir(), "week.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func requireAppErrorType(t *testing.T, err error, typ string) {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, typ, appErr.Type())
	require.True(t, appErr.NonRetryable())
}

func TestInspectFileActivity(t *testing.T) {
	env, a, _ := setup(t)
	val, err := env.ExecuteActivity(a.InspectFileActivity, InspectFileInput{FileRef: "a/b/week.PNG"})
	require.NoError(t, err)
	var out InspectFileOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, normalize.MIMEPNG, out.MimeType)

	_, err = env.ExecuteActivity(a.InspectFileActivity, InspectFileInput{FileRef: "notes.txt"})
	requireAppErrorType(t, err, ErrTypeUnsupportedFormat)
}

func TestExtractThenCommit(t *testing.T) {
	env, a, store := setup(t)
	path := pngFile(t)

	val, err := env.ExecuteActivity(a.CreateSourceActivity, CreateSourceInput{FileRef: path})
	require.NoError(t, err)
	var created CreateSourceOutput
	require.NoError(t, val.Get(&created))

	val, err = env.ExecuteActivity(a.ExtractRecordsActivity, ExtractRecordsInput{SourceID: created.SourceID, FileRef: path, MimeType: normalize.MIMEPNG})
	require.NoError(t, err)
	var ext ExtractRecordsOutput
	require.NoError(t, val.Get(&ext))
	require.Equal(t, 1, ext.Pages)
	require.Len(t, ext.Records, 1)
	require.Equal(t, "Physics", ext.Records[0].Label)

	val, err = env.ExecuteActivity(a.CommitSourceActivity, CommitSourceInput{SourceID: created.SourceID, Records: ext.Records})
	require.NoError(t, err)
	var committed CommitSourceOutput
	require.NoError(t, val.Get(&committed))
	require.Len(t, committed.Records, 1)
	require.NotZero(t, committed.Records[0].ID)

	src, err := store.GetSource(context.Background(), created.SourceID)
	require.NoError(t, err)
	require.Equal(t, models.SourceSucceeded, src.Status)

	// failing a settled source is a no-op
	_, err = env.ExecuteActivity(a.FailSourceActivity, FailSourceInput{SourceID: created.SourceID, Reason: "late"})
	require.NoError(t, err)
	src, err = store.GetSource(context.Background(), created.SourceID)
	require.NoError(t, err)
	require.Equal(t, models.SourceSucceeded, src.Status)
}

func TestCommitSourceActivityRetryAfterCommit(t *testing.T) {
	env, a, store := setup(t)
	ctx := context.Background()
	id, err := store.CreateSource(ctx, "week.png")
	require.NoError(t, err)
	physics := models.ActivityRecord{Day: models.Monday, Start: models.NewClock(9, 0), End: models.NewClock(9, 30), Label: "Physics"}
	first, err := store.Commit(ctx, id, []models.ActivityRecord{physics})
	require.NoError(t, err)

	// the redelivered attempt carries the same records as the first one
	val, err := env.ExecuteActivity(a.CommitSourceActivity, CommitSourceInput{SourceID: id, Records: []models.ActivityRecord{physics}})
	require.NoError(t, err)
	var out CommitSourceOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, first, out.Records)

	got, err := store.ListActivities(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCommitSourceActivityOnFailedSource(t *testing.T) {
	env, a, store := setup(t)
	ctx := context.Background()
	id, err := store.CreateSource(ctx, "week.png")
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, id, "cancelled"))

	_, err = env.ExecuteActivity(a.CommitSourceActivity, CommitSourceInput{SourceID: id})
	requireAppErrorType(t, err, ErrTypeSourceState)

	_, err = env.ExecuteActivity(a.CommitSourceActivity, CommitSourceInput{SourceID: 4242})
	requireAppErrorType(t, err, ErrTypeSourceState)
}

func TestExtractCorruptInputIsNotRetried(t *testing.T) {
	env, a, _ := setup(t)
	path := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err := env.ExecuteActivity(a.ExtractRecordsActivity, ExtractRecordsInput{SourceID: 1, FileRef: path, MimeType: normalize.MIMEPNG})
	requireAppErrorType(t, err, ErrTypeCorruptInput)
}

func TestFailSourceActivity(t *testing.T) {
	env, a, store := setup(t)
	id, err := store.CreateSource(context.Background(), "x.png")
	require.NoError(t, err)
	_, err = env.ExecuteActivity(a.FailSourceActivity, FailSourceInput{SourceID: id, Reason: "corrupt input"})
	require.NoError(t, err)
	src, err := store.GetSource(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.SourceFailed, src.Status)
	require.Equal(t, "corrupt input", src.FailReason)
}
