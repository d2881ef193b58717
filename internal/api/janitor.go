package api

import (
	"context"
	"log/slog"
	"time"

	"timetable/internal/observability"
	"timetable/internal/storage"
)

// Janitor fails sources whose run was abandoned: a processor killed before
// it could settle leaves its source pending forever otherwise.
type Janitor struct {
	Store  storage.Gateway
	Every  time.Duration
	MaxAge time.Duration
	Logger *slog.Logger
}

func (j Janitor) Run(ctx context.Context) {
	if j.Every <= 0 {
		j.Every = time.Minute
	}
	if j.Logger == nil {
		j.Logger = slog.Default()
	}
	t := time.NewTicker(j.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.Sweep(ctx)
		}
	}
}

func (j Janitor) Sweep(ctx context.Context) int64 {
	n, err := j.Store.ExpirePending(ctx, time.Now().Add(-j.MaxAge), "abandoned: run did not settle within "+j.MaxAge.String())
	if err != nil {
		if j.Logger != nil {
			j.Logger.Warn("expire pending sources", "error", err)
		}
		return 0
	}
	if n > 0 {
		observability.JanitorExpired.Add(float64(n))
		if j.Logger != nil {
			j.Logger.Info("expired abandoned sources", "count", n)
		}
	}
	return n
}
