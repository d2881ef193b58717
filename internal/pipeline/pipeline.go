// Package pipeline chains normalization, detection and structuring into one
// run per uploaded file and settles the run's source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"timetable/internal/detect"
	"timetable/internal/events"
	"timetable/internal/logging"
	"timetable/internal/models"
	"timetable/internal/normalize"
	"timetable/internal/observability"
	"timetable/internal/orchestrate"
	"timetable/internal/storage"
	"timetable/internal/structure"
	"timetable/internal/table"
	"timetable/internal/util"
)

type Detector interface {
	Detect(ctx context.Context, page normalize.Page) ([]table.Grid, error)
}

// scanner is a Detector that also hands back the words it read the page
// with. Title lines outside the regions come from them.
type scanner interface {
	Scan(ctx context.Context, page normalize.Page) (detect.Scan, error)
}

type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

type Options struct {
	Normalizer *normalize.Normalizer
	Detector   Detector
	Structurer *structure.Structurer
	Store      storage.Gateway
	Files      Opener
	Events     events.Publisher
	// Workers bounds concurrent page work. Output does not depend on it.
	Workers int
	// ArtifactsRoot receives <source_id>/extraction.json when set.
	ArtifactsRoot string
	// MaxInputBytes rejects larger files as corrupt input. Zero means no limit.
	MaxInputBytes int64
	Logger        *slog.Logger
}

type Pipeline struct {
	normalizer *normalize.Normalizer
	detector   Detector
	structurer *structure.Structurer
	store      storage.Gateway
	files      Opener
	events     events.Publisher
	workers    int
	artifacts  string
	maxInput   int64
	logger     *slog.Logger
}

func New(opts Options) *Pipeline {
	p := &Pipeline{
		normalizer: opts.Normalizer,
		detector:   opts.Detector,
		structurer: opts.Structurer,
		store:      opts.Store,
		files:      opts.Files,
		events:     opts.Events,
		workers:    opts.Workers,
		artifacts:  opts.ArtifactsRoot,
		maxInput:   opts.MaxInputBytes,
		logger:     opts.Logger,
	}
	if p.normalizer == nil {
		p.normalizer = normalize.New(normalize.Options{})
	}
	if p.structurer == nil {
		p.structurer = structure.New(structure.Options{})
	}
	if p.events == nil {
		p.events = events.Nop{}
	}
	if p.workers <= 0 {
		p.workers = 1
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Inspect returns the declared type of a file reference, or
// ErrUnsupportedFormat when the pipeline cannot read it.
func Inspect(fileRef string) (string, error) {
	mt := normalize.DetectMIME(fileRef)
	if !normalize.Supported(mt) {
		return "", &normalize.FormatError{Kind: normalize.ErrUnsupportedFormat, MIME: filepath.Ext(fileRef), Op: "check type"}
	}
	return mt, nil
}

// Load reads the whole file behind ref.
func (p *Pipeline) Load(ctx context.Context, ref, mimeType string) ([]byte, error) {
	rc, err := p.files.Open(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer rc.Close()
	var r io.Reader = rc
	if p.maxInput > 0 {
		r = io.LimitReader(rc, p.maxInput+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if p.maxInput > 0 && int64(len(data)) > p.maxInput {
		return nil, &normalize.FormatError{Kind: normalize.ErrCorruptInput, MIME: mimeType, Op: "read",
			Err: fmt.Errorf("input larger than %d bytes", p.maxInput)}
	}
	return data, nil
}

// Run implements orchestrate.Runner in process.
func (p *Pipeline) Run(ctx context.Context, filePath string) (orchestrate.Result, error) {
	return p.Process(ctx, filePath)
}

// Process runs one file end to end. A type the pipeline cannot read is
// rejected before any source is created. Once the source exists every
// failure, cancellation included, leaves it failed.
func (p *Pipeline) Process(ctx context.Context, fileRef string) (orchestrate.Result, error) {
	started := time.Now()
	mt, err := Inspect(fileRef)
	if err != nil {
		return orchestrate.Result{}, err
	}
	data, err := p.Load(ctx, fileRef, mt)
	if err != nil {
		return orchestrate.Result{}, err
	}

	id, err := p.store.CreateSource(ctx, fileRef)
	if err != nil {
		return orchestrate.Result{}, err
	}
	ctx = context.WithValue(ctx, logging.SourceIDKey, id)
	log := logging.WithContext(ctx, p.logger)
	log.Info("source created", "file", fileRef, "mime", mt, "bytes", len(data))

	fail := func(cause error) (orchestrate.Result, error) {
		reason := p.Fail(ctx, id, cause)
		observability.ObserveRun(string(models.SourceFailed), started)
		p.Publish(ctx, events.SourceCompleted{SourceID: id, Status: string(models.SourceFailed), FailReason: reason})
		return orchestrate.Result{SourceID: id, Status: models.SourceFailed, Error: reason}, cause
	}

	ext, err := p.Extract(ctx, data, mt)
	if err != nil {
		return fail(err)
	}
	if err := p.WriteArtifacts(id, ext); err != nil {
		log.Warn("write artifacts", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	stored, err := p.store.Commit(ctx, id, ext.Records)
	if err != nil {
		return fail(err)
	}

	observability.ObserveRun(string(models.SourceSucceeded), started)
	observability.RecordsExtracted.Add(float64(len(stored)))
	log.Info("source committed", "records", len(stored), "warnings", len(ext.Warnings), "elapsed", time.Since(started))
	p.Publish(ctx, events.SourceCompleted{SourceID: id, Status: string(models.SourceSucceeded), Records: len(stored), Warnings: len(ext.Warnings)})
	return orchestrate.Result{
		SourceID:   id,
		Status:     models.SourceSucceeded,
		Metadata:   ext.Metadata.OrNil(),
		Records:    stored,
		Confidence: ext.Confidence,
		Warnings:   ext.WarningText(),
	}, nil
}

// Fail marks the source failed on a context detached from ctx, so a
// cancelled run still settles. It returns the stored reason.
func (p *Pipeline) Fail(ctx context.Context, id int64, cause error) string {
	reason := util.Tail(cause.Error(), 2000)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	log := logging.WithContext(ctx, p.logger)
	if err := p.store.Fail(fctx, id, reason); err != nil && !errors.Is(err, storage.ErrNotPending) {
		log.Error("mark source failed", "error", err, "cause", reason)
	} else {
		log.Warn("source failed", "cause", reason)
	}
	return reason
}

// Publish announces a settled source. Publisher errors are logged only.
func (p *Pipeline) Publish(ctx context.Context, ev events.SourceCompleted) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.events.Publish(pctx, ev); err != nil {
		logging.WithContext(ctx, p.logger).Warn("publish source event", "error", err)
	}
}

// WriteArtifacts stores the extraction next to other run outputs. It is a
// no-op without an artifacts root.
func (p *Pipeline) WriteArtifacts(id int64, ext Extraction) error {
	if p.artifacts == "" {
		return nil
	}
	dir := filepath.Join(p.artifacts, strconv.FormatInt(id, 10))
	if err := util.WriteJSONAtomic(filepath.Join(dir, "extraction.json"), ext); err != nil {
		return fmt.Errorf("write extraction artifact: %w", err)
	}
	if err := util.WriteJSONLinesAtomic(filepath.Join(dir, "warnings.jsonl"), ext.Warnings); err != nil {
		return fmt.Errorf("write warnings artifact: %w", err)
	}
	return nil
}
