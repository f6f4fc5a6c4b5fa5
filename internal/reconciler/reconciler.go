// Package reconciler persists downloader events into the repository.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
	"github.com/NEXORA-Studios/NovaCL/internal/repo"
)

// Reconciler consumes downloader events and updates repository state:
// status, error, resolved size and the segment checkpoint.
type Reconciler struct {
	repo   repo.DownloadRepo
	events <-chan downloader.Event
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler that processes downloader events and mutates the
// repository accordingly.
func New(log *slog.Logger, repo repo.DownloadRepo, events <-chan downloader.Event) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, events: events, log: log, ctx: context.Background()}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	r.log = r.log.With("operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				r.drain()
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// drain handles events already queued so final checkpoints are not lost.
func (r *Reconciler) drain() {
	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(e)
		default:
			return
		}
	}
}

// Stop terminates the reconciliation loop after handling queued events.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		r.wg.Wait()
		if r.cancel != nil {
			r.cancel()
		}
	}
}

func (r *Reconciler) handle(e downloader.Event) {
	metrics.DownloadEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()

	var status data.DownloadStatus
	switch e.Type {
	case downloader.EventStart, downloader.EventResumed:
		dl, err := r.repo.Get(r.ctx, e.ID)
		if err != nil {
			r.logErr("get", e, err)
			return
		}
		if dl.DesiredStatus == data.StatusPaused || dl.DesiredStatus == data.StatusCancelled {
			r.log.Info("ignoring stale start event", "id", e.ID, "status", dl.Status, "desired", dl.DesiredStatus)
			return
		}
		status = data.StatusDownloading
	case downloader.EventPaused:
		status = data.StatusPaused
	case downloader.EventCancelled:
		status = data.StatusCancelled
	case downloader.EventComplete:
		status = data.StatusCompleted
	case downloader.EventFailed:
		status = data.StatusFailed
	case downloader.EventMeta, downloader.EventProgress:
		if _, err := r.repo.Update(r.ctx, e.ID, func(dl *data.Download) error {
			r.applyCheckpoint(dl, e)
			return nil
		}); err != nil {
			r.logErr("update checkpoint", e, err)
			return
		}
		if e.Type == downloader.EventMeta && e.Meta != nil {
			r.log.Info("updated meta", "id", e.ID, "total", e.Meta.TotalSize, "accept_ranges", e.Meta.AcceptRanges, "parts", len(e.Parts))
		} else if e.Progress != nil {
			r.log.Debug("progress event", "id", e.ID, "downloaded", e.Progress.Downloaded, "total", e.Progress.Total, "speed", e.Progress.Speed)
		}
		return
	default:
		r.log.Warn("unknown event type", "id", e.ID, "type", e.Type)
		return
	}

	_, err := r.repo.Update(r.ctx, e.ID, func(dl *data.Download) error {
		// A terminal record only changes through Purge. One already in
		// this event's status still takes its error and final checkpoint.
		if dl.Status.Terminal() && dl.Status != status {
			return nil
		}
		setCheckpoint(dl, e)
		dl.Status = status
		switch status {
		case data.StatusFailed:
			dl.Error = e.Error
		case data.StatusCompleted:
			dl.Error = ""
		}
		return nil
	})
	if err != nil {
		r.logErr("update", e, err)
		return
	}
	r.log.Info("reconciled event", "id", e.ID, "type", e.Type, "status", status)
}

func (r *Reconciler) applyCheckpoint(dl *data.Download, e downloader.Event) {
	if dl.Status.Terminal() {
		return
	}
	setCheckpoint(dl, e)
}

func setCheckpoint(dl *data.Download, e downloader.Event) {
	if e.Meta != nil {
		dl.TotalSize = e.Meta.TotalSize
		dl.AcceptRanges = e.Meta.AcceptRanges
	} else if e.Progress != nil && e.Progress.TotalKnown() {
		dl.TotalSize = e.Progress.Total
	}
	if e.Parts != nil {
		dl.Parts = make([]data.Segment, len(e.Parts))
		copy(dl.Parts, e.Parts)
	}
}

// logErr logs err unless the record is simply gone, which is expected after
// a cancel or purge removed it.
func (r *Reconciler) logErr(op string, e downloader.Event, err error) {
	if errors.Is(err, data.ErrNotFound) {
		r.log.Debug("event for unknown download", "id", e.ID, "type", e.Type)
		return
	}
	r.log.Error(op, "id", e.ID, "type", e.Type, "err", err)
}
