package segmented

import (
	"context"
	"errors"
	"os"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
)

// Start creates a coordinator for dl and launches its first run. It returns
// before any network I/O. Starting a download that already has a
// coordinator is a no-op.
func (e *Engine) Start(ctx context.Context, dl *data.Download) error {
	e.mu.Lock()
	if _, ok := e.tasks[dl.ID]; ok {
		e.mu.Unlock()
		return nil
	}
	t := newTask(dl, e.opts.SpeedWindow)
	e.tasks[dl.ID] = t
	e.mu.Unlock()

	t.mu.Lock()
	t.launch(e, false)
	t.mu.Unlock()
	return nil
}

// Pause stops the running transfer and keeps partial bytes. The status is
// paused as soon as Pause returns; the Paused event follows once every
// segment has stopped. Pausing a paused or terminal download is a no-op.
func (e *Engine) Pause(ctx context.Context, dl *data.Download) error {
	t := e.get(dl.ID)
	if t == nil {
		return downloader.ErrNotFound
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.agg.Status() {
	case data.StatusPending, data.StatusDownloading:
	default:
		return nil
	}
	t.agg.SetStatus(data.StatusPaused, "")
	if t.running() {
		t.cancel(errPaused)
	}
	return nil
}

// Resume continues a paused download from its checkpoint. The status is
// pending until the run holds a slot and a plan. A download
// without a coordinator, for example one restored after a restart, gets one
// built from dl.Parts. Resuming a running or terminal download is a no-op.
func (e *Engine) Resume(ctx context.Context, dl *data.Download) error {
	e.mu.Lock()
	t, ok := e.tasks[dl.ID]
	if !ok {
		if dl.Status.Terminal() {
			e.mu.Unlock()
			return nil
		}
		t = newTask(dl, e.opts.SpeedWindow)
		e.tasks[dl.ID] = t
	}
	e.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if ok && t.agg.Status() != data.StatusPaused {
		return nil
	}
	t.agg.SetStatus(data.StatusPending, "")
	t.launch(e, true)
	return nil
}

// Cancel stops the transfer, waits for its segments to exit and removes
// the partial file. The coordinator is forgotten. Cancelling a completed or
// failed download only forgets it.
func (e *Engine) Cancel(ctx context.Context, dl *data.Download) error {
	t := e.get(dl.ID)
	if t == nil {
		e.removePart(dl)
		return nil
	}

	t.mu.Lock()
	status := t.agg.Status()
	if status == data.StatusCompleted || status == data.StatusFailed {
		t.mu.Unlock()
		e.forget(dl.ID)
		return nil
	}
	t.agg.SetStatus(data.StatusCancelled, "")
	var done <-chan struct{}
	if t.running() {
		t.cancel(errCancelled)
		done = t.done
	}
	runID := t.runID
	snap := t.snapshot()
	t.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.removePart(snap)
	e.forget(dl.ID)
	e.emit(t, runID, downloader.EventCancelled, "")
	e.log.Info("download cancelled", "id", dl.ID)
	return nil
}

// Purge forgets dl and removes any partial file left behind. The completed
// file is kept.
func (e *Engine) Purge(ctx context.Context, dl *data.Download) error {
	if t := e.get(dl.ID); t != nil {
		if done := t.stop(errCancelled); done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		e.forget(dl.ID)
	}
	if dl.Status != data.StatusCompleted {
		e.removePart(dl)
	}
	return nil
}

// Progress returns the live progress of a download with a coordinator.
func (e *Engine) Progress(id string) (data.Progress, bool) {
	t := e.get(id)
	if t == nil {
		return data.Progress{}, false
	}
	return t.agg.Snapshot(), true
}

func (e *Engine) removePart(dl *data.Download) {
	if dl.Name == "" {
		return
	}
	part := dl.PartPath()
	if err := e.fs.Remove(part); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.Warn("remove partial file", "id", dl.ID, "path", part, "err", err)
	}
}
