package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"timetable/internal/activities"
	"timetable/internal/app"
	"timetable/internal/config"
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

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Error("dial temporal", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	files, err := app.Opener(ctx, cfg)
	if err != nil {
		logger.Error("open blobs", "error", err)
		os.Exit(1)
	}
	p, pub, err := app.Pipeline(cfg, store, files, logger)
	if err != nil {
		logger.Error("init pipeline", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(p, store))

	logger.Info("timetable worker listening", "temporal", cfg.TemporalAddress, "queue", cfg.TemporalTaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}
