package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"

	"timetable/internal/api"
	"timetable/internal/app"
	"timetable/internal/config"
	"timetable/internal/orchestrate"
	"timetable/internal/pipeline"
	"timetable/internal/storage"
	"timetable/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := app.Logger(cfg, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := storage.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	blobs, files, err := app.Blobs(openCtx, cfg)
	if err != nil {
		return err
	}

	runner, closeRunner, err := newRunner(cfg, store, files, logger)
	if err != nil {
		return err
	}
	defer closeRunner()

	srv, err := api.NewServer(cfg, api.Deps{Store: store, Blobs: blobs, Runner: runner, Logger: logger})
	if err != nil {
		return err
	}

	// a run that outlives twice its timeout was abandoned
	janitor := api.Janitor{Store: store, Every: time.Minute, MaxAge: 2 * cfg.ProcessTimeout(), Logger: logger}
	go janitor.Run(ctx)

	hs := &http.Server{Addr: cfg.APIAddr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	logger.Info("timetable api listening", "addr", cfg.APIAddr, "runner", cfg.Runner, "blob_backend", cfg.BlobBackend)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return hs.Shutdown(shutdown)
}

// newRunner picks how uploads are processed: a processor child per upload
// (exec), a Temporal workflow (temporal) or the pipeline in this process
// (inproc).
func newRunner(cfg config.Config, store storage.Gateway, files pipeline.Opener, logger *slog.Logger) (orchestrate.Runner, func(), error) {
	switch strings.ToLower(cfg.Runner) {
	case "", "exec":
		unit := orchestrate.ExecUnit{Bin: cfg.ProcessorBin, Env: os.Environ()}
		return orchestrate.NewBoundary(unit, logger), func() {}, nil
	case "temporal":
		c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return nil, nil, fmt.Errorf("dial temporal: %w", err)
		}
		return workflows.NewTemporalRunner(c, cfg.TemporalTaskQueue), c.Close, nil
	case "inproc":
		p, pub, err := app.Pipeline(cfg, store, files, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = pub.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown runner %q", cfg.Runner)
	}
}
