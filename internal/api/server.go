package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"timetable/internal/blob"
	"timetable/internal/calendar"
	"timetable/internal/config"
	"timetable/internal/logging"
	"timetable/internal/models"
	"timetable/internal/normalize"
	"timetable/internal/observability"
	"timetable/internal/orchestrate"
	"timetable/internal/storage"
	"timetable/internal/util"
)

// multipartSlack covers boundaries and part headers on top of the file size.
const multipartSlack = 64 << 10

type Server struct {
	cfg    config.Config
	store  storage.Gateway
	blobs  blob.Store
	runner orchestrate.Runner
	grid   calendar.Grid
	logger *slog.Logger
}

type Deps struct {
	Store  storage.Gateway
	Blobs  blob.Store
	Runner orchestrate.Runner
	Logger *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	grid, err := configGrid(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.DefaultMaxUploadBytes
	}
	if cfg.ProcessTimeoutSecs <= 0 {
		cfg.ProcessTimeoutSecs = config.DefaultProcessTimeoutSecs
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, store: deps.Store, blobs: deps.Blobs, runner: deps.Runner, grid: grid, logger: logger}, nil
}

func configGrid(cfg config.Config) (calendar.Grid, error) {
	g := calendar.DefaultGrid()
	if cfg.CalendarSlotMinutes > 0 {
		g.SlotMinutes = cfg.CalendarSlotMinutes
	}
	var err error
	if cfg.CalendarDayStart != "" {
		if g.DayStart, err = models.ParseClock(cfg.CalendarDayStart); err != nil {
			return calendar.Grid{}, fmt.Errorf("calendar day start: %w", err)
		}
	}
	if cfg.CalendarDayEnd != "" {
		if g.DayEnd, err = models.ParseClock(cfg.CalendarDayEnd); err != nil {
			return calendar.Grid{}, fmt.Errorf("calendar day end: %w", err)
		}
	}
	if err := g.Validate(); err != nil {
		return calendar.Grid{}, fmt.Errorf("calendar grid: %w", err)
	}
	return g, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(withCORS(s.cfg.CORS()))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/timetables", s.handleUpload)
		r.Get("/sources/{id}", s.handleGetSource)
		r.Get("/sources/{id}/calendar", s.handleCalendar)
		r.Delete("/sources/{id}", s.handleDeleteSource)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type uploadResponse struct {
	SourceID   int64                   `json:"source_id"`
	Status     models.SourceStatus     `json:"status"`
	Activities []models.ActivityRecord `json:"activities"`
	Warnings   []string                `json:"warnings,omitempty"`
}

// handleUpload accepts one file in the multipart field "file". Size and
// type are checked before anything is stored or run.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	if err := r.ParseMultipartForm(limit + multipartSlack); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", limit))
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		writeErr(w, http.StatusBadRequest, errors.New("exactly one file is required in field \"file\""))
		return
	}
	fh := files[0]
	if fh.Size > limit {
		writeErr(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", limit))
		return
	}
	mt := uploadType(fh.Header.Get("Content-Type"), fh.Filename)
	if !normalize.Supported(mt) {
		writeErr(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type %q", mt))
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()
	// The part is hashed first and then streamed to the store from the start.
	name, size, err := util.ContentName(io.LimitReader(f, limit+1), normalize.ExtensionFor(mt))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	if size > limit {
		writeErr(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", limit))
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("rewind upload: %w", err))
		return
	}
	ref, err := s.blobs.Put(r.Context(), name, io.LimitReader(f, size), size, mt)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	log := logging.WithContext(r.Context(), s.logger)
	log.Info("upload stored", "file", filepath.Base(fh.Filename), "ref", ref, "bytes", size, "mime", mt)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProcessTimeout())
	defer cancel()
	res, err := s.runner.Run(ctx, ref)
	if err == nil && res.Status == models.SourceFailed {
		err = &orchestrate.Error{Reason: "run failed", Diagnostics: res.Error, SourceID: res.SourceID}
	}
	if err != nil {
		s.writeRunErr(w, ctx, res, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{SourceID: res.SourceID, Status: res.Status, Activities: nonNil(res.Records), Warnings: res.Warnings})
}

// uploadType trusts the declared part type unless it is missing or generic,
// in which case the file extension decides.
func uploadType(declared, filename string) string {
	mt := normalize.CanonicalMIME(declared)
	if mt == "" || mt == "application/octet-stream" {
		if byExt := normalize.DetectMIME(filename); byExt != "" {
			return byExt
		}
	}
	return mt
}

// writeRunErr maps a failed run to a status. The source id comes from the
// error when the runner attached one, otherwise from the partial result.
func (s *Server) writeRunErr(w http.ResponseWriter, ctx context.Context, res orchestrate.Result, err error) {
	logging.WithContext(ctx, s.logger).Warn("run failed", "error", err, "source_id", res.SourceID)
	id := res.SourceID
	diag := ""
	var oe *orchestrate.Error
	if errors.As(err, &oe) {
		diag = oe.Diagnostics
		if oe.SourceID > 0 {
			id = oe.SourceID
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		writeErrDetail(w, http.StatusGatewayTimeout, err, diag, id)
	case errors.Is(err, normalize.ErrUnsupportedFormat):
		writeErrDetail(w, http.StatusUnsupportedMediaType, err, "", id)
	case errors.Is(err, normalize.ErrCorruptInput), oe != nil:
		writeErrDetail(w, http.StatusUnprocessableEntity, err, diag, id)
	default:
		writeErrDetail(w, http.StatusInternalServerError, err, "", id)
	}
}

type sourceResponse struct {
	Source     models.Source           `json:"source"`
	Activities []models.ActivityRecord `json:"activities"`
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	acts, err := s.store.ListActivities(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceResponse{Source: src, Activities: nonNil(acts)})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	grid, days, err := s.calendarQuery(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	acts, err := s.store.ListActivities(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_id": id,
		"grid":      grid,
		"calendar":  calendar.Project(acts, days, grid),
	})
}

// calendarQuery reads slot, start, end and days, each falling back to the
// configured grid and the school week.
func (s *Server) calendarQuery(r *http.Request) (calendar.Grid, []models.Day, error) {
	q := r.URL.Query()
	g := s.grid
	if v := q.Get("slot"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return calendar.Grid{}, nil, fmt.Errorf("invalid slot %q", v)
		}
		g.SlotMinutes = n
	}
	for key, dst := range map[string]*models.Clock{"start": &g.DayStart, "end": &g.DayEnd} {
		if v := q.Get(key); v != "" {
			c, err := models.ParseClock(v)
			if err != nil {
				return calendar.Grid{}, nil, fmt.Errorf("invalid %s %q", key, v)
			}
			*dst = c
		}
	}
	if err := g.Validate(); err != nil {
		return calendar.Grid{}, nil, err
	}

	days := models.SchoolWeek
	if v := q.Get("days"); v != "" {
		days = nil
		for _, part := range strings.Split(v, ",") {
			d, ok := models.ParseDay(part)
			if !ok {
				return calendar.Grid{}, nil, fmt.Errorf("invalid day %q", strings.TrimSpace(part))
			}
			days = append(days, d)
		}
	}
	return g, days, nil
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSource(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sourceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid source id %q", raw))
		return 0, false
	}
	return id, true
}

func writeStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeErr(w, http.StatusInternalServerError, err)
}

func nonNil(rs []models.ActivityRecord) []models.ActivityRecord {
	if rs == nil {
		return []models.ActivityRecord{}
	}
	return rs
}
