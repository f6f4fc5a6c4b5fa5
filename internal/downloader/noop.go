package downloader

import (
	"context"
	"log/slog"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

type noopDownloader struct {
	log *slog.Logger
}

// NewNoopDownloader returns a test double that only logs. It transfers
// nothing and reports no live progress, so records it backs never leave
// pending. Handler and client tests use it; the server always runs the
// segmented engine.
func NewNoopDownloader(log *slog.Logger) Downloader {
	if log == nil {
		log = slog.Default()
	}
	return &noopDownloader{log: log}
}

func (d *noopDownloader) Start(ctx context.Context, dl *data.Download) error {
	d.log.Debug("noop: start", "id", dl.ID)
	return nil
}

func (d *noopDownloader) Pause(ctx context.Context, dl *data.Download) error {
	d.log.Debug("noop: pause", "id", dl.ID)
	return nil
}

func (d *noopDownloader) Resume(ctx context.Context, dl *data.Download) error {
	d.log.Debug("noop: resume", "id", dl.ID)
	return nil
}

func (d *noopDownloader) Cancel(ctx context.Context, dl *data.Download) error {
	d.log.Debug("noop: cancel", "id", dl.ID)
	return nil
}

func (d *noopDownloader) Purge(ctx context.Context, dl *data.Download) error {
	d.log.Debug("noop: purge", "id", dl.ID)
	return nil
}

func (d *noopDownloader) Progress(string) (data.Progress, bool) { return data.Progress{}, false }
