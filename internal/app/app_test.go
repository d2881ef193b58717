package app

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"timetable/internal/config"
	"timetable/internal/logging"
	"timetable/internal/storage"
)

func TestBlobsFSRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{DataInRoot: t.TempDir(), BlobBackend: "fs"}
	store, opener, err := Blobs(ctx, cfg)
	require.NoError(t, err)

	ref, err := store.Put(ctx, "sha256/ab/abc.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(ref))

	// a reader built separately resolves the same reference
	read, err := Opener(ctx, cfg)
	require.NoError(t, err)
	for _, o := range []interface {
		Open(context.Context, string) (io.ReadCloser, error)
	}{opener, read} {
		rc, err := o.Open(ctx, ref)
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		require.Equal(t, "png", string(b))
	}
}

func TestBlobsRejectsUnknownBackend(t *testing.T) {
	_, _, err := Blobs(context.Background(), config.Config{DataInRoot: t.TempDir(), BlobBackend: "ftp"})
	require.ErrorContains(t, err, "ftp")
}

func TestPipelineFromConfig(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenMemory(ctx)
	require.NoError(t, err)
	defer store.Close()
	cfg := config.Config{DataInRoot: t.TempDir(), DataOutRoot: t.TempDir(), OCRProviders: "none", PipelineWorkers: 2}
	opener, err := Opener(ctx, cfg)
	require.NoError(t, err)

	p, pub, err := Pipeline(cfg, store, opener, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, pub.Close())

	_, err = p.Process(ctx, filepath.Join(cfg.DataInRoot, "notes.txt"))
	require.ErrorContains(t, err, "unsupported format")
}
