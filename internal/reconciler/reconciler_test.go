package reconciler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
	"github.com/NEXORA-Studios/NovaCL/internal/repo"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seed(t *testing.T, rpo *repo.InMemoryDownloadRepo, d *data.Download) *data.Download {
	t.Helper()
	saved, err := rpo.Add(context.Background(), d)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return saved
}

// TestHandle walks a download through its lifecycle and checks what each
// event persists.
func TestHandle(t *testing.T) {
	ctx := context.Background()
	rpo := repo.NewInMemoryDownloadRepo()
	dl := seed(t, rpo, &data.Download{Source: "http://h/f", TargetPath: "/tmp", Name: "f", Status: data.StatusPending, DesiredStatus: data.StatusDownloading, TotalSize: data.UnknownSize})
	r := New(quiet(), rpo, nil)

	parts := []data.Segment{{Index: 0, Start: 0, End: 50}, {Index: 1, Start: 50, End: 100}}
	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventMeta, Meta: &downloader.Meta{TotalSize: 100, AcceptRanges: true}, Parts: parts})
	got, _ := rpo.Get(ctx, dl.ID)
	if got.TotalSize != 100 || !got.AcceptRanges || len(got.Parts) != 2 {
		t.Fatalf("meta not persisted: %+v", got)
	}
	if got.Status != data.StatusPending {
		t.Fatalf("meta mutated status: %v", got.Status)
	}

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventStart})
	got, _ = rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusDownloading {
		t.Fatalf("start status = %v", got.Status)
	}

	parts[0].Written = 30
	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventProgress, Progress: &data.Progress{Total: 100, Downloaded: 30, Status: data.StatusDownloading}, Parts: parts})
	got, _ = rpo.Get(ctx, dl.ID)
	if got.Parts[0].Written != 30 || got.Status != data.StatusDownloading {
		t.Fatalf("checkpoint not persisted: %+v", got)
	}

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventFailed, Error: "segment 1: protocol error"})
	got, _ = rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusFailed || got.Error != "segment 1: protocol error" {
		t.Fatalf("failed not persisted: %+v", got)
	}

	// Late events from an earlier run never revive a terminal record.
	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventPaused, Parts: []data.Segment{{Index: 0, Start: 0, End: 100}}})
	got, _ = rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusFailed || len(got.Parts) != 2 {
		t.Fatalf("terminal record changed: %+v", got)
	}
}

func TestHandle_CompleteClearsError(t *testing.T) {
	ctx := context.Background()
	rpo := repo.NewInMemoryDownloadRepo()
	dl := seed(t, rpo, &data.Download{Source: "http://h/f", TargetPath: "/tmp", Name: "f", Status: data.StatusDownloading, Error: "old"})
	r := New(quiet(), rpo, nil)

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventComplete, Meta: &downloader.Meta{TotalSize: 10}})
	got, _ := rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusCompleted || got.Error != "" || got.TotalSize != 10 {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestHandle_IgnoresStaleStart(t *testing.T) {
	ctx := context.Background()
	rpo := repo.NewInMemoryDownloadRepo()
	dl := seed(t, rpo, &data.Download{Source: "http://h/f", TargetPath: "/tmp", Name: "f", Status: data.StatusPaused, DesiredStatus: data.StatusPaused})
	r := New(quiet(), rpo, nil)

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventStart})
	got, _ := rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusPaused {
		t.Fatalf("stale start changed status to %v", got.Status)
	}
}

func TestHandle_UnknownDownload(t *testing.T) {
	r := New(quiet(), repo.NewInMemoryDownloadRepo(), nil)
	before := testutil.ToFloat64(metrics.DownloadEvents.WithLabelValues("cancelled"))
	// Cancelled downloads are removed before their event arrives.
	r.handle(downloader.Event{ID: "gone", Type: downloader.EventCancelled})
	if got := testutil.ToFloat64(metrics.DownloadEvents.WithLabelValues("cancelled")); got != before+1 {
		t.Fatalf("event not counted: %v", got)
	}
}

func TestRunStop_DrainsQueuedEvents(t *testing.T) {
	ctx := context.Background()
	rpo := repo.NewInMemoryDownloadRepo()
	dl := seed(t, rpo, &data.Download{Source: "http://h/f", TargetPath: "/tmp", Name: "f", Status: data.StatusDownloading})
	ch := make(chan downloader.Event, 4)
	r := New(quiet(), rpo, ch)
	r.Run()

	ch <- downloader.Event{ID: dl.ID, Type: downloader.EventPaused}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := rpo.Get(ctx, dl.ID)
		if got.Status == data.StatusPaused {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	ch <- downloader.Event{ID: dl.ID, Type: downloader.EventComplete}
	r.Stop()

	got, _ := rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusCompleted {
		t.Fatalf("queued event lost on stop, status %v", got.Status)
	}
}

// A record can already carry the terminal status of the event that explains
// it. The event still fills in the error and the last checkpoint.
func TestHandle_TerminalEventFillsSameStatus(t *testing.T) {
	ctx := context.Background()
	rpo := repo.NewInMemoryDownloadRepo()
	dl := seed(t, rpo, &data.Download{Source: "http://h/f", TargetPath: "/tmp", Name: "f", Status: data.StatusFailed, DesiredStatus: data.StatusPaused, TotalSize: data.UnknownSize})
	r := New(quiet(), rpo, nil)

	parts := []data.Segment{{Index: 0, Start: 0, End: 64, Written: 10}}
	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventFailed, Error: "unexpected status 404", Meta: &downloader.Meta{TotalSize: 64}, Parts: parts})
	got, _ := rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusFailed || got.Error != "unexpected status 404" {
		t.Fatalf("error not persisted: %+v", got)
	}
	if got.TotalSize != 64 || len(got.Parts) != 1 || got.Parts[0].Written != 10 {
		t.Fatalf("checkpoint not persisted: %+v", got)
	}

	// A different terminal status is still left alone.
	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventComplete, Parts: []data.Segment{}})
	got, _ = rpo.Get(ctx, dl.ID)
	if got.Status != data.StatusFailed || got.Error != "unexpected status 404" || len(got.Parts) != 1 {
		t.Fatalf("terminal record changed: %+v", got)
	}
}
