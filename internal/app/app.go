// Package app wires configuration into the services the binaries share.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"timetable/internal/blob"
	"timetable/internal/config"
	"timetable/internal/detect"
	"timetable/internal/events"
	"timetable/internal/logging"
	"timetable/internal/normalize"
	"timetable/internal/ocr"
	"timetable/internal/pipeline"
	"timetable/internal/storage"
	"timetable/internal/structure"
)

func Logger(cfg config.Config, w io.Writer) *slog.Logger {
	return logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, w)
}

// Blobs returns the store uploads are written to and an opener that reads
// both local paths and minio:// references.
func Blobs(ctx context.Context, cfg config.Config) (blob.Store, blob.Opener, error) {
	fs, err := blob.NewFSStore(filepath.Join(cfg.DataInRoot, "uploads"))
	if err != nil {
		return nil, blob.Opener{}, fmt.Errorf("init upload dir: %w", err)
	}
	switch strings.ToLower(cfg.BlobBackend) {
	case "", "fs":
		return fs, blob.Opener{FS: fs}, nil
	case "minio":
		m, err := minioStore(ctx, cfg)
		if err != nil {
			return nil, blob.Opener{}, err
		}
		return m, blob.Opener{FS: fs, Minio: m}, nil
	default:
		return nil, blob.Opener{}, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

// Opener is Blobs for processes that only read uploads.
func Opener(ctx context.Context, cfg config.Config) (blob.Opener, error) {
	root, err := filepath.Abs(filepath.Join(cfg.DataInRoot, "uploads"))
	if err != nil {
		return blob.Opener{}, fmt.Errorf("resolve upload dir: %w", err)
	}
	o := blob.Opener{FS: &blob.FSStore{Root: root}}
	if strings.EqualFold(cfg.BlobBackend, "minio") {
		m, err := minioStore(ctx, cfg)
		if err != nil {
			return blob.Opener{}, err
		}
		o.Minio = m
	}
	return o, nil
}

func minioStore(ctx context.Context, cfg config.Config) (*blob.MinioStore, error) {
	m, err := blob.NewMinioStore(blob.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := m.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Pipeline builds the extraction pipeline from configuration. The returned
// publisher must be closed by the caller.
func Pipeline(cfg config.Config, store storage.Gateway, files pipeline.Opener, logger *slog.Logger) (*pipeline.Pipeline, events.Publisher, error) {
	locator, err := ocr.NewManager(cfg.OCRProviders, cfg.OCRBaseURL, cfg.OCRTimeout(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init ocr: %w", err)
	}
	pub := events.New(cfg.KafkaBrokerList(), cfg.KafkaTopic)
	p := pipeline.New(pipeline.Options{
		Normalizer: normalize.New(normalize.Options{MaxDimension: cfg.MaxPageDimension}),
		Detector: detect.New(detect.Options{
			Locator:       locator,
			MinConfidence: cfg.OCRMinConfidence,
			Logger:        logger,
		}),
		Structurer:    structure.New(structure.Options{DropLowConfidence: cfg.DropLowConfident}),
		Store:         store,
		Files:         files,
		Events:        pub,
		Workers:       cfg.PipelineWorkers,
		ArtifactsRoot: cfg.DataOutRoot,
		MaxInputBytes: cfg.MaxUploadBytes,
		Logger:        logger,
	})
	logger.Info("pipeline ready", "ocr", locator.Names(), "workers", cfg.PipelineWorkers, "events", len(cfg.KafkaBrokerList()) > 0)
	return p, pub, nil
}
