package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	v1 "github.com/NEXORA-Studios/NovaCL/api/v1"
	"github.com/NEXORA-Studios/NovaCL/internal/config"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader/segmented"
	"github.com/NEXORA-Studios/NovaCL/internal/fetch"
	"github.com/NEXORA-Studios/NovaCL/internal/reconciler"
	"github.com/NEXORA-Studios/NovaCL/internal/repo"
	"github.com/NEXORA-Studios/NovaCL/internal/service"
)

const eventQueue = 256

// app is the download stack shared by serve and get.
type app struct {
	log    *slog.Logger
	svc    service.Download
	engine *segmented.Engine
	rec    *reconciler.Reconciler
	hub    *v1.EventHub
	// ready is nil when the repository has nothing to check.
	ready   func(context.Context) error
	closers []io.Closer
}

// newApp wires repository, engine, reconciler and registry. withHub adds
// the websocket event hub next to the reconciler.
func newApp(cfg config.Config, logger *slog.Logger, withHub bool) (*app, error) {
	a := &app{log: logger}

	var r repo.DownloadRepo
	if cfg.DatabaseURL != "" {
		pg, err := repo.NewPostgresRepo(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres repo: %w", err)
		}
		r = pg
		a.ready = pg.Ping
		a.closers = append(a.closers, pg)
		logger.Info("using postgres repository")
	} else {
		r = repo.NewInMemoryDownloadRepo()
		logger.Info("using in-memory repository")
	}

	fc := fetch.NewClient(fetch.Options{
		Timeout:             cfg.HTTP.Timeout,
		UserAgent:           cfg.HTTP.UserAgent,
		MaxIdleConnsPerHost: max(cfg.MaxConcurrentSegments, fetch.DefaultOptions().MaxIdleConnsPerHost),
		RetryAttempts:       cfg.Retry.Attempts,
		RetryBackoff:        cfg.Retry.Backoff,
		RetryMaxBackoff:     cfg.Retry.MaxBackoff,
	})

	events := make(chan downloader.Event, eventQueue)
	reps := downloader.Reporters{downloader.NewChanReporter(events)}
	if withHub {
		a.hub = v1.NewEventHub(logger.With("component", "events"), 0)
		reps = append(reps, a.hub)
	}

	a.engine = segmented.New(segmented.Options{
		Client:             fc,
		Limiter:            fetch.NewLimiter(cfg.BandwidthLimit),
		MaxSegments:        int64(cfg.MaxConcurrentSegments),
		MaxActive:          int64(cfg.MaxActiveDownloads),
		CheckpointInterval: cfg.CheckpointInterval,
		SpeedWindow:        cfg.SpeedWindow,
		DefaultSegments:    cfg.DefaultSegments,
		CheckFreeSpace:     cfg.CheckFreeSpace,
	}, reps)
	a.engine.SetLogger(logger.With("component", "engine"))

	a.rec = reconciler.New(logger.With("component", "reconciler"), r, events)
	a.rec.Run()

	a.svc = service.NewDownload(r, a.engine, service.Options{
		Policy:          cfg.CollisionPolicy,
		DefaultSegments: cfg.DefaultSegments,
		Logger:          logger.With("component", "service"),
	})
	return a, nil
}

// Close checkpoints running downloads, flushes their events into the
// repository and releases it.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	a.rec.Stop()
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
