package segmented

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/fetch"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i * 7) % 253)
	}
	return b
}

// recorder collects events and lets tests wait for a given type.
type recorder struct {
	ch chan downloader.Event
}

func newRecorder() *recorder { return &recorder{ch: make(chan downloader.Event, 4096)} }

func (r *recorder) Report(e downloader.Event) { r.ch <- e }

func (r *recorder) waitFor(t *testing.T, id string, typ downloader.EventType) downloader.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.ID == id && e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

// rangeLog records the Range header of every GET.
type rangeLog struct {
	mu     sync.Mutex
	ranges []string
}

func (l *rangeLog) add(r *http.Request) {
	if r.Method != http.MethodGet {
		return
	}
	l.mu.Lock()
	l.ranges = append(l.ranges, r.Header.Get("Range"))
	l.mu.Unlock()
}

func (l *rangeLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ranges...)
}

func (l *rangeLog) contains(s string) bool {
	for _, r := range l.list() {
		if r == s {
			return true
		}
	}
	return false
}

func rangeServer(t *testing.T, body []byte, log *rangeLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// gatedServer answers each ranged GET with its first `first` bytes, then
// blocks until the gate opens or the client goes away.
func gatedServer(t *testing.T, body []byte, first int, log *rangeLog) (*httptest.Server, func()) {
	t.Helper()
	gate := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}
		start, end := parseRange(r.Header.Get("Range"), int64(len(body)))
		chunk := body[start : end+1]
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.Itoa(len(body)))
		w.Header().Set("Content-Length", strconv.Itoa(len(chunk)))
		w.WriteHeader(http.StatusPartialContent)
		n := min(first, len(chunk))
		w.Write(chunk[:n])
		w.(http.Flusher).Flush()
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		w.Write(chunk[n:])
	}))
	t.Cleanup(srv.Close)
	return srv, func() { once.Do(func() { close(gate) }) }
}

func parseRange(h string, size int64) (int64, int64) {
	spec := strings.TrimPrefix(h, "bytes=")
	a, b, _ := strings.Cut(spec, "-")
	start, _ := strconv.ParseInt(a, 10, 64)
	end := size - 1
	if b != "" {
		end, _ = strconv.ParseInt(b, 10, 64)
	}
	return start, end
}

func newTestEngine(opts Options, rep downloader.Reporter) *Engine {
	fo := fetch.DefaultOptions()
	fo.RetryBackoff = time.Millisecond
	fo.RetryMaxBackoff = 5 * time.Millisecond
	if opts.Client == nil {
		opts.Client = fetch.NewClient(fo)
	}
	if opts.CheckpointInterval == 0 {
		opts.CheckpointInterval = 20 * time.Millisecond
	}
	e := New(opts, rep)
	e.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e
}

func newDownload(t *testing.T, url string, segments int) *data.Download {
	t.Helper()
	return &data.Download{
		ID:         "dl-" + strings.ReplaceAll(t.Name(), "/", "-"),
		Source:     url,
		TargetPath: t.TempDir(),
		Name:       "file.bin",
		Segments:   segments,
		Status:     data.StatusPending,
		TotalSize:  data.UnknownSize,
	}
}

func waitProgress(t *testing.T, e *Engine, id string, cond func(data.Progress) bool) data.Progress {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := e.Progress(id); ok && cond(p) {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	p, _ := e.Progress(id)
	t.Fatalf("condition not met, last progress %+v", p)
	return p
}

func TestEngine_CompletesMillionBytesInFourSegments(t *testing.T) {
	body := payload(1_000_000)
	var log rangeLog
	srv := rangeServer(t, body, &log)
	rec := newRecorder()
	e := newTestEngine(Options{}, rec)

	dl := newDownload(t, srv.URL, 4)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := rec.waitFor(t, dl.ID, downloader.EventComplete)

	got, err := os.ReadFile(dl.Path())
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("final file differs from source")
	}
	if _, err := os.Stat(dl.PartPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind: %v", err)
	}

	p, _ := e.Progress(dl.ID)
	if p.Status != data.StatusCompleted || p.Total != 1_000_000 || p.Downloaded != 1_000_000 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if len(ev.Parts) != 4 {
		t.Fatalf("expected 4 parts got %d", len(ev.Parts))
	}
	for _, want := range []string{"bytes=0-249999", "bytes=250000-499999", "bytes=500000-749999", "bytes=750000-999999"} {
		if !log.contains(want) {
			t.Fatalf("missing range request %s in %v", want, log.list())
		}
	}
}

func TestEngine_FallsBackToSingleSegment(t *testing.T) {
	body := payload(50_000)
	var log rangeLog
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	rec := newRecorder()
	e := newTestEngine(Options{}, rec)
	dl := newDownload(t, srv.URL, 8)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := rec.waitFor(t, dl.ID, downloader.EventComplete)
	if len(ev.Parts) != 1 {
		t.Fatalf("expected a single part got %d", len(ev.Parts))
	}
	got, _ := os.ReadFile(dl.Path())
	if !bytes.Equal(got, body) {
		t.Fatalf("final file differs from source")
	}
	// One probe GET for bytes=0-0 plus exactly one full GET.
	var full int
	for _, r := range log.list() {
		if r == "" {
			full++
		}
	}
	if full != 1 {
		t.Fatalf("expected one full GET, ranges=%v", log.list())
	}
}

func TestEngine_UnknownSize(t *testing.T) {
	body := payload(12_345)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.(http.Flusher).Flush()
		w.Write(body)
	}))
	defer srv.Close()

	rec := newRecorder()
	e := newTestEngine(Options{}, rec)
	dl := newDownload(t, srv.URL, 4)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := rec.waitFor(t, dl.ID, downloader.EventComplete)
	if ev.Progress == nil || ev.Progress.Total != int64(len(body)) {
		t.Fatalf("unexpected total in %+v", ev.Progress)
	}
	got, _ := os.ReadFile(dl.Path())
	if !bytes.Equal(got, body) {
		t.Fatalf("final file differs from source")
	}
}

func TestEngine_EmptyResource(t *testing.T) {
	srv := rangeServer(t, nil, &rangeLog{})
	rec := newRecorder()
	e := newTestEngine(Options{}, rec)
	dl := newDownload(t, srv.URL, 4)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitFor(t, dl.ID, downloader.EventComplete)
	fi, err := os.Stat(dl.Path())
	if err != nil || fi.Size() != 0 {
		t.Fatalf("expected empty final file, got %v %v", fi, err)
	}
}

func TestEngine_PauseAndResumeFromOffsets(t *testing.T) {
	body := payload(64 * 1024)
	var log rangeLog
	srv, open := gatedServer(t, body, 1000, &log)
	rec := newRecorder()
	e := newTestEngine(Options{}, rec)

	dl := newDownload(t, srv.URL, 2)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitProgress(t, e, dl.ID, func(p data.Progress) bool { return p.Downloaded == 2000 })

	if err := e.Pause(context.Background(), dl); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if p, _ := e.Progress(dl.ID); p.Status != data.StatusPaused || p.Speed != 0 {
		t.Fatalf("expected paused with zero speed, got %+v", p)
	}
	ev := rec.waitFor(t, dl.ID, downloader.EventPaused)
	var written int64
	for _, s := range ev.Parts {
		written += s.Written
	}
	if written != 2000 {
		t.Fatalf("checkpoint written = %d want 2000", written)
	}
	// Pausing again is a no-op.
	if err := e.Pause(context.Background(), dl); err != nil {
		t.Fatalf("second Pause: %v", err)
	}

	open()
	if err := e.Resume(context.Background(), dl); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	rec.waitFor(t, dl.ID, downloader.EventComplete)

	for _, want := range []string{"bytes=1000-32767", "bytes=33768-65535"} {
		if !log.contains(want) {
			t.Fatalf("resume did not request %s, got %v", want, log.list())
		}
	}
	got, _ := os.ReadFile(dl.Path())
	if !bytes.Equal(got, body) {
		t.Fatalf("final file differs from source")
	}

	// Control operations on a completed download change nothing.
	if err := e.Resume(context.Background(), dl); err != nil {
		t.Fatalf("Resume after complete: %v", err)
	}
	if err := e.Pause(context.Background(), dl); err != nil {
		t.Fatalf("Pause after complete: %v", err)
	}
	if p, _ := e.Progress(dl.ID); p.Status != data.StatusCompleted {
		t.Fatalf("status = %s want completed", p.Status)
	}
}

func TestEngine_CancelRemovesPartialFile(t *testing.T) {
	body := payload(32 * 1024)
	srv, _ := gatedServer(t, body, 500, &rangeLog{})
	rec := newRecorder()
	e := newTestEngine(Options{}, rec)

	dl := newDownload(t, srv.URL, 4)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitProgress(t, e, dl.ID, func(p data.Progress) bool { return p.Downloaded > 0 })

	if err := e.Cancel(context.Background(), dl); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec.waitFor(t, dl.ID, downloader.EventCancelled)
	if _, err := os.Stat(dl.PartPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file not removed: %v", err)
	}
	if _, err := os.Stat(dl.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("final file must not exist: %v", err)
	}
	if _, ok := e.Progress(dl.ID); ok {
		t.Fatalf("cancelled download still tracked")
	}
	if err := e.Pause(context.Background(), dl); !errors.Is(err, downloader.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cancel, got %v", err)
	}
}

func TestEngine_FailureRecordsErrorAndRemovesPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "4096")
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rec := newRecorder()
	e := newTestEngine(Options{}, rec)
	dl := newDownload(t, srv.URL, 2)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := rec.waitFor(t, dl.ID, downloader.EventFailed)
	if ev.Error == "" {
		t.Fatalf("failed event without error message")
	}
	p, _ := e.Progress(dl.ID)
	if p.Status != data.StatusFailed || p.Error == "" {
		t.Fatalf("unexpected progress %+v", p)
	}
	if _, err := os.Stat(dl.PartPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file not removed: %v", err)
	}
	// Resume of a failed download is a no-op.
	if err := e.Resume(context.Background(), dl); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if p, _ := e.Progress(dl.ID); p.Status != data.StatusFailed {
		t.Fatalf("status = %s want failed", p.Status)
	}
}

func TestEngine_ResumesFromPersistedCheckpoint(t *testing.T) {
	body := payload(40_000)
	var log rangeLog
	srv := rangeServer(t, body, &log)
	rec := newRecorder()
	e := newTestEngine(Options{}, rec)

	dl := newDownload(t, srv.URL, 2)
	dl.Status = data.StatusPaused
	dl.TotalSize = int64(len(body))
	dl.AcceptRanges = true
	dl.Parts = []data.Segment{
		{Index: 0, Start: 0, End: 20_000, Written: 20_000, Status: data.SegmentDone},
		{Index: 1, Start: 20_000, End: 40_000, Written: 5_000, Status: data.SegmentPending},
	}
	partial := make([]byte, len(body))
	copy(partial, body[:25_000])
	if err := os.WriteFile(dl.PartPath(), partial, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.Resume(context.Background(), dl); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	rec.waitFor(t, dl.ID, downloader.EventComplete)

	if got := log.list(); len(got) != 1 || got[0] != "bytes=25000-39999" {
		t.Fatalf("expected a single request for the remainder, got %v", got)
	}
	got, _ := os.ReadFile(dl.Path())
	if !bytes.Equal(got, body) {
		t.Fatalf("final file differs from source")
	}
}

func TestEngine_MaxActiveQueuesExtraTasks(t *testing.T) {
	body := payload(16 * 1024)
	srv, open := gatedServer(t, body, 100, &rangeLog{})
	rec := newRecorder()
	e := newTestEngine(Options{MaxActive: 1}, rec)

	first := newDownload(t, srv.URL, 1)
	first.ID = "first"
	second := newDownload(t, srv.URL, 1)
	second.ID = "second"
	second.TargetPath = filepath.Join(first.TargetPath, "other")

	if err := e.Start(context.Background(), first); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	waitProgress(t, e, first.ID, func(p data.Progress) bool { return p.Downloaded > 0 })
	if err := e.Start(context.Background(), second); err != nil {
		t.Fatalf("Start second: %v", err)
	}
	waitProgress(t, e, second.ID, func(p data.Progress) bool { return p.Status == data.StatusPending })

	open()
	rec.waitFor(t, first.ID, downloader.EventComplete)
	waitProgress(t, e, second.ID, func(p data.Progress) bool { return p.Status == data.StatusCompleted })
}

func TestEngine_ShutdownPausesRunningTasks(t *testing.T) {
	body := payload(8 * 1024)
	srv, _ := gatedServer(t, body, 100, &rangeLog{})
	rec := newRecorder()
	e := newTestEngine(Options{}, rec)

	dl := newDownload(t, srv.URL, 2)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitProgress(t, e, dl.ID, func(p data.Progress) bool { return p.Downloaded > 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	rec.waitFor(t, dl.ID, downloader.EventPaused)
	if _, err := os.Stat(dl.PartPath()); err != nil {
		t.Fatalf("partial file must survive shutdown: %v", err)
	}
}

// boundsWatch fails a test when downloaded bytes ever leave [0, total]. It
// checks every reported event and polls the live progress while a transfer
// runs.
type boundsWatch struct {
	next downloader.Reporter

	mu      sync.Mutex
	samples int
	bad     []data.Progress
}

func (w *boundsWatch) check(p data.Progress) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples++
	if p.Downloaded < 0 || (p.TotalKnown() && p.Downloaded > p.Total) {
		w.bad = append(w.bad, p)
	}
}

func (w *boundsWatch) Report(e downloader.Event) {
	if e.Progress != nil {
		w.check(*e.Progress)
	}
	w.next.Report(e)
}

func (w *boundsWatch) poll(e *Engine, id string) (stop func()) {
	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-quit:
				return
			default:
			}
			if p, ok := e.Progress(id); ok {
				w.check(p)
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()
	return func() {
		close(quit)
		<-exited
	}
}

func (w *boundsWatch) verify(t *testing.T) {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.samples == 0 {
		t.Fatalf("no progress observed")
	}
	if len(w.bad) > 0 {
		t.Fatalf("%d of %d samples out of bounds, first %+v", len(w.bad), w.samples, w.bad[0])
	}
}

// writeSlowly writes b in small flushed chunks so progress is observable
// mid-transfer.
func writeSlowly(w http.ResponseWriter, b []byte) {
	const step = 8 * 1024
	for len(b) > 0 {
		n := min(step, len(b))
		if _, err := w.Write(b[:n]); err != nil {
			return
		}
		w.(http.Flusher).Flush()
		b = b[n:]
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_DownloadedStaysWithinTotal(t *testing.T) {
	body := payload(256 * 1024)
	size := strconv.Itoa(len(body))

	// The first GET of every range is cut off halfway through.
	truncating := func(t *testing.T) *httptest.Server {
		var mu sync.Mutex
		seen := make(map[string]bool)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Accept-Ranges", "bytes")
			if r.Method == http.MethodHead {
				w.Header().Set("Content-Length", size)
				return
			}
			h := r.Header.Get("Range")
			mu.Lock()
			cut := !seen[h]
			seen[h] = true
			mu.Unlock()
			start, end := parseRange(h, int64(len(body)))
			chunk := body[start : end+1]
			w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+size)
			w.Header().Set("Content-Length", strconv.Itoa(len(chunk)))
			w.WriteHeader(http.StatusPartialContent)
			if cut && len(chunk) > 1 {
				chunk = chunk[:len(chunk)/2]
			}
			writeSlowly(w, chunk)
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	// Range is ignored and the first two full responses are cut off, so
	// the single segment restarts from zero.
	unranged := func(t *testing.T) *httptest.Server {
		var mu sync.Mutex
		gets := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", size)
			if r.Method == http.MethodHead {
				return
			}
			mu.Lock()
			gets++
			cut := gets <= 2
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
			if cut {
				writeSlowly(w, body[:len(body)/2])
				return
			}
			writeSlowly(w, body)
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	cases := []struct {
		name     string
		server   func(*testing.T) *httptest.Server
		segments int
		// checkpoint, when set, resumes from persisted parts with a
		// partial file shorter than they claim.
		checkpoint bool
	}{
		{name: "truncated body retried", server: truncating, segments: 4},
		{name: "unranged restart", server: unranged, segments: 4},
		{name: "stale checkpoint", server: func(t *testing.T) *httptest.Server { return rangeServer(t, body, &rangeLog{}) }, segments: 2, checkpoint: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := tc.server(t)
			rec := newRecorder()
			watch := &boundsWatch{next: rec}
			e := newTestEngine(Options{CheckpointInterval: 2 * time.Millisecond}, watch)

			dl := newDownload(t, srv.URL, tc.segments)
			stop := watch.poll(e, dl.ID)
			if tc.checkpoint {
				half := int64(len(body) / 2)
				dl.Status = data.StatusPaused
				dl.TotalSize = int64(len(body))
				dl.AcceptRanges = true
				dl.Parts = []data.Segment{
					{Index: 0, Start: 0, End: half, Written: half, Status: data.SegmentDone},
					{Index: 1, Start: half, End: int64(len(body)), Written: half / 2, Status: data.SegmentPending},
				}
				if err := os.WriteFile(dl.PartPath(), body[:1024], 0o644); err != nil {
					t.Fatal(err)
				}
				if err := e.Resume(context.Background(), dl); err != nil {
					t.Fatalf("Resume: %v", err)
				}
			} else if err := e.Start(context.Background(), dl); err != nil {
				t.Fatalf("Start: %v", err)
			}
			rec.waitFor(t, dl.ID, downloader.EventComplete)
			stop()

			watch.verify(t)
			got, _ := os.ReadFile(dl.Path())
			if !bytes.Equal(got, body) {
				t.Fatalf("final file differs from source")
			}
		})
	}
}

func TestEngine_PendingWhileProbing(t *testing.T) {
	body := payload(16 * 1024)
	probing := make(chan struct{}, 1)
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			select {
			case probing <- struct{}{}:
			default:
			}
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(body))
	}))
	defer srv.Close()

	rec := newRecorder()
	e := newTestEngine(Options{}, rec)
	dl := newDownload(t, srv.URL, 2)
	if err := e.Start(context.Background(), dl); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-probing:
	case <-time.After(5 * time.Second):
		t.Fatal("probe never arrived")
	}
	if p, _ := e.Progress(dl.ID); p.Status != data.StatusPending {
		t.Fatalf("status while probing = %s want pending", p.Status)
	}
	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected %s event before the probe answered", ev.Type)
	default:
	}

	close(gate)
	rec.waitFor(t, dl.ID, downloader.EventStart)
	rec.waitFor(t, dl.ID, downloader.EventComplete)
}

// A pause or cancel that lands after the last segment finished, but before
// the partial file is renamed, wins over completion.
func TestEngine_InterruptBeforeRenameKeepsPartial(t *testing.T) {
	cases := []struct {
		cause  error
		status data.DownloadStatus
		event  downloader.EventType
	}{
		{cause: errPaused, status: data.StatusPaused, event: downloader.EventPaused},
		{cause: errCancelled, status: data.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.cause.Error(), func(t *testing.T) {
			body := payload(1000)
			rec := newRecorder()
			e := newTestEngine(Options{}, rec)
			dl := newDownload(t, "http://unused.invalid/file.bin", 1)
			dl.TotalSize = int64(len(body))
			dl.AcceptRanges = true
			dl.Parts = []data.Segment{{Index: 0, Start: 0, End: int64(len(body)), Written: int64(len(body)), Status: data.SegmentDone}}
			if err := os.WriteFile(dl.PartPath(), body, 0o644); err != nil {
				t.Fatal(err)
			}

			tk := newTask(dl, time.Second)
			tk.runID = "run-1"
			tk.agg.SetStatus(tc.status, "")
			ctx, cancel := context.WithCancelCause(context.Background())
			cancel(tc.cause)
			e.complete(ctx, tk, "run-1", e.log)

			if _, err := os.Stat(dl.Path()); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("final file must not exist: %v", err)
			}
			if _, err := os.Stat(dl.PartPath()); err != nil {
				t.Fatalf("partial file must remain: %v", err)
			}
			if st := tk.agg.Status(); st != tc.status {
				t.Fatalf("status = %s want %s", st, tc.status)
			}
			var got []downloader.EventType
			for len(rec.ch) > 0 {
				got = append(got, (<-rec.ch).Type)
			}
			switch {
			case tc.event == "" && len(got) != 0:
				t.Fatalf("unexpected events %v", got)
			case tc.event != "" && (len(got) != 1 || got[0] != tc.event):
				t.Fatalf("events = %v want [%s]", got, tc.event)
			}
		})
	}
}
