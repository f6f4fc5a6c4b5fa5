package segmented

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/fetch"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
	"github.com/NEXORA-Studios/NovaCL/internal/segment"
)

// run drives one attempt at a download from resolution to an outcome. It
// ends either in a terminal state or, when its context is cancelled with
// errPaused or errCancelled, in a resumable one.
func (e *Engine) run(ctx context.Context, t *task, runID string, resumed bool, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	lg := e.log.With("id", t.id, "run_id", runID)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			e.interrupted(ctx, t, runID, lg)
			return
		}
	}

	if e.taskSem != nil {
		if !e.taskSem.TryAcquire(1) {
			t.agg.SetStatus(data.StatusPending, "")
			lg.Info("waiting for a download slot")
			if err := e.taskSem.Acquire(ctx, 1); err != nil {
				e.interrupted(ctx, t, runID, lg)
				return
			}
		}
		defer e.taskSem.Release(1)
	}
	if ctx.Err() != nil {
		e.interrupted(ctx, t, runID, lg)
		return
	}

	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	// The status stays pending while the server is probed.
	dl, err := e.resolve(ctx, t, runID)
	if err == nil {
		if !e.begin(ctx, t, runID) {
			e.interrupted(ctx, t, runID, lg)
			return
		}
		typ := downloader.EventStart
		if resumed {
			typ = downloader.EventResumed
		}
		e.emit(t, runID, typ, "")
		lg.Info("download running", "resumed", resumed)
		err = e.transfer(ctx, t, dl, runID, lg)
	}
	switch {
	case ctx.Err() != nil:
		e.interrupted(ctx, t, runID, lg)
	case err != nil:
		e.fail(t, runID, err, lg)
	default:
		e.complete(ctx, t, runID, lg)
	}
}

// begin marks the run as downloading unless Pause or Cancel got there
// first.
func (e *Engine) begin(ctx context.Context, t *task, runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil || t.runID != runID {
		return false
	}
	t.agg.SetStatus(data.StatusDownloading, "")
	return true
}

// transfer prepares the destination and fetches every unfinished segment
// of the resolved plan.
func (e *Engine) transfer(ctx context.Context, t *task, dl *data.Download, runID string, lg *slog.Logger) error {
	f, err := e.prepareFile(t, dl)
	if err != nil {
		return err
	}
	defer f.Close()

	stopCheckpoints := e.checkpoints(t, runID)
	defer stopCheckpoints()

	g, gctx := errgroup.WithContext(ctx)
	for _, seg := range t.agg.Segments() {
		if seg.Complete() && seg.Bounded() {
			t.agg.SetSegmentStatus(seg.Index, data.SegmentDone)
			continue
		}
		g.Go(func() error {
			return e.fetchSegment(gctx, t, dl, seg.Index, f)
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			lg.Warn("segment failed", "err", err)
		}
		return err
	}
	if err := f.Sync(); err != nil {
		return &fetch.Error{Kind: data.ErrIO, Op: "sync", Err: err}
	}
	return nil
}

func (e *Engine) fetchSegment(ctx context.Context, t *task, dl *data.Download, index int, f *os.File) error {
	if e.segSem != nil {
		if err := e.segSem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer e.segSem.Release(1)
	}
	metrics.ActiveSegments.Inc()
	defer metrics.ActiveSegments.Dec()

	// Read the segment after acquiring a slot so the resume offset is current.
	seg := t.agg.Segments()[index]
	t.agg.SetSegmentStatus(index, data.SegmentActive)

	written, err := e.fetcher.Fetch(ctx, fetch.Request{
		URL:        dl.Source,
		Segment:    seg,
		Ranged:     dl.AcceptRanges,
		Dst:        f,
		OnProgress: func(delta int64) { t.agg.Add(index, delta) },
	})
	t.agg.SetWritten(index, written)
	if err != nil {
		if ctx.Err() != nil {
			t.agg.SetSegmentStatus(index, data.SegmentPending)
			return ctx.Err()
		}
		t.agg.SetSegmentStatus(index, data.SegmentFailed)
		return fmt.Errorf("segment %d: %w", index, err)
	}
	t.agg.SetSegmentStatus(index, data.SegmentDone)
	return nil
}

// resolve returns the download with a plan, probing the server when no
// usable checkpoint exists.
func (e *Engine) resolve(ctx context.Context, t *task, runID string) (*data.Download, error) {
	t.mu.Lock()
	if t.planned {
		dl := t.snapshot()
		t.mu.Unlock()
		return dl, nil
	}
	source := t.dl.Source
	n := t.dl.Segments
	t.mu.Unlock()

	if n < 1 {
		n = e.opts.DefaultSegments
	}
	res, err := e.opts.Client.Probe(ctx, source)
	if err != nil {
		return nil, err
	}
	parts, err := segment.Plan(res.Size, n, res.AcceptRanges)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.dl.TotalSize = res.Size
	t.dl.AcceptRanges = res.AcceptRanges
	t.agg.Plan(res.Size, parts)
	t.planned = true
	dl := t.snapshot()
	t.mu.Unlock()

	e.report(downloader.Event{
		ID:    t.id,
		RunID: runID,
		Type:  downloader.EventMeta,
		Meta:  &downloader.Meta{TotalSize: res.Size, AcceptRanges: res.AcceptRanges, Name: dl.Name},
		Parts: dl.Parts,
	})
	return dl, nil
}

// interrupted handles a run stopped by Pause, Cancel or Shutdown.
func (e *Engine) interrupted(ctx context.Context, t *task, runID string, lg *slog.Logger) {
	for _, s := range t.agg.Segments() {
		if s.Status == data.SegmentActive {
			t.agg.SetSegmentStatus(s.Index, data.SegmentPending)
		}
	}
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errCancelled):
		// Cancel cleans up once the run has exited.
		lg.Info("download run cancelled")
	default:
		// A newer run started by Resume owns the status.
		t.mu.Lock()
		current := t.runID == runID
		t.mu.Unlock()
		if current {
			t.agg.SetStatus(data.StatusPaused, "")
		}
		e.emit(t, runID, downloader.EventPaused, "")
		lg.Info("download paused", "cause", cause)
	}
}

func (e *Engine) fail(t *task, runID string, err error, lg *slog.Logger) {
	t.mu.Lock()
	part := t.dl.PartPath()
	t.mu.Unlock()
	if rmErr := e.fs.Remove(part); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		lg.Warn("remove partial file", "path", part, "err", rmErr)
	}
	t.agg.SetStatus(data.StatusFailed, err.Error())
	e.emit(t, runID, downloader.EventFailed, err.Error())
	lg.Error("download failed", "err", err)
}

func (e *Engine) complete(ctx context.Context, t *task, runID string, lg *slog.Logger) {
	t.mu.Lock()
	segs := t.agg.Segments()
	// An open-ended segment is sized by what the server sent.
	if len(segs) == 1 && !segs[0].Bounded() {
		segs[0].End = segs[0].Written
		segs[0].Status = data.SegmentDone
		t.dl.TotalSize = segs[0].Written
		t.agg.Plan(segs[0].End, segs)
	}
	part, final := t.dl.PartPath(), t.dl.Path()
	total := t.dl.TotalSize
	t.mu.Unlock()

	for _, s := range segs {
		if !s.Complete() {
			e.fail(t, runID, &fetch.Error{Kind: data.ErrProtocol, Op: "verify", Err: fmt.Errorf("segment %d incomplete: %d of %d bytes", s.Index, s.Written, s.Len())}, lg)
			return
		}
	}
	// Drop bytes left behind by an earlier, longer attempt.
	if err := os.Truncate(part, total); err != nil {
		e.fail(t, runID, &fetch.Error{Kind: data.ErrIO, Op: "truncate", Err: err}, lg)
		return
	}
	// Pause and Cancel set their status and cancel the run under mu, so a
	// run that sees no cause here owns the outcome.
	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		e.interrupted(ctx, t, runID, lg)
		return
	}
	if err := e.fs.Rename(part, final); err != nil {
		t.mu.Unlock()
		e.fail(t, runID, &fetch.Error{Kind: data.ErrIO, Op: "rename", Err: err}, lg)
		return
	}
	t.agg.SetStatus(data.StatusCompleted, "")
	t.mu.Unlock()
	e.emit(t, runID, downloader.EventComplete, "")
	lg.Info("download complete", "path", final)
}

// checkpoints reports progress with the segment table every interval
// until the returned func is called.
func (e *Engine) checkpoints(t *task, runID string) func() {
	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		tick := time.NewTicker(e.opts.CheckpointInterval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				e.emit(t, runID, downloader.EventProgress, "")
			}
		}
	}()
	return func() {
		close(stop)
		<-finished
	}
}
