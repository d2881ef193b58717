// Command processor extracts one timetable file and settles its source. It
// logs to stderr and writes its result as one JSON line, the last line on
// stdout. The exit status is 0 only when the source succeeded.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"timetable/internal/app"
	"timetable/internal/config"
	"timetable/internal/models"
	"timetable/internal/orchestrate"
	"timetable/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: processor <file>")
		return 2
	}
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := app.Logger(cfg, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := process(ctx, cfg, args[0], logger)
	if err != nil {
		logger.Error("process failed", "file", args[0], "error", err)
		if res.Status == "" {
			res.Status = models.SourceFailed
		}
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	if werr := writeResult(stdout, res); werr != nil {
		logger.Error("write result", "error", werr)
		return 1
	}
	if res.Status != models.SourceSucceeded {
		return 1
	}
	return 0
}

func process(ctx context.Context, cfg config.Config, file string, logger *slog.Logger) (orchestrate.Result, error) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := storage.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		return orchestrate.Result{}, err
	}
	defer store.Close()
	files, err := app.Opener(openCtx, cfg)
	if err != nil {
		return orchestrate.Result{}, err
	}
	p, pub, err := app.Pipeline(cfg, store, files, logger)
	if err != nil {
		return orchestrate.Result{}, err
	}
	defer pub.Close()
	return p.Process(ctx, file)
}

func writeResult(w io.Writer, res orchestrate.Result) error {
	if res.Records == nil {
		res.Records = []models.ActivityRecord{}
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
