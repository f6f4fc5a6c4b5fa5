// Package segmented implements downloader.Downloader by fetching a resource
// as concurrent byte-range segments written into a shared ".part" file.
package segmented

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/fetch"
)

var (
	errPaused    = errors.New("download paused")
	errCancelled = errors.New("download cancelled")
	errShutdown  = errors.New("engine shutting down")
)

// Options configures an Engine.
type Options struct {
	Client *fetch.Client
	// Limiter caps the combined bandwidth of all segments. Optional.
	Limiter *rate.Limiter
	// MaxSegments caps concurrently running segments across all tasks.
	// Zero means unbounded.
	MaxSegments int64
	// MaxActive caps concurrently running tasks. Extra tasks wait in
	// pending. Zero means unbounded.
	MaxActive int64
	// CheckpointInterval is how often running tasks report progress.
	CheckpointInterval time.Duration
	// SpeedWindow is the trailing window used for speed.
	SpeedWindow time.Duration
	// DefaultSegments is used when a download does not request a count.
	DefaultSegments int
	// CheckFreeSpace enables the disk space preflight.
	CheckFreeSpace bool
}

type fsOps interface {
	Remove(string) error
	Rename(string, string) error
	MkdirAll(string, os.FileMode) error
}

type osFS struct{}

func (osFS) Remove(p string) error                    { return os.Remove(p) }
func (osFS) Rename(from, to string) error             { return os.Rename(from, to) }
func (osFS) MkdirAll(p string, perm os.FileMode) error { return os.MkdirAll(p, perm) }

// Engine coordinates segmented downloads. Each download gets a task that
// owns its progress aggregator and at most one run at a time.
type Engine struct {
	opts    Options
	fetcher *fetch.Fetcher
	rep     downloader.Reporter
	log     *slog.Logger
	fs      fsOps

	segSem  *semaphore.Weighted
	taskSem *semaphore.Weighted

	base     context.Context
	stopBase context.CancelCauseFunc

	mu    sync.Mutex
	tasks map[string]*task
}

var _ downloader.Downloader = (*Engine)(nil)

// New creates an engine publishing events to rep.
func New(opts Options, rep downloader.Reporter) *Engine {
	if opts.Client == nil {
		opts.Client = fetch.NewClient(fetch.DefaultOptions())
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = time.Second
	}
	if opts.DefaultSegments < 1 {
		opts.DefaultSegments = 4
	}
	e := &Engine{
		opts:    opts,
		fetcher: fetch.NewFetcher(opts.Client, opts.Limiter),
		rep:     rep,
		log:     slog.Default(),
		fs:      osFS{},
		tasks:   make(map[string]*task),
	}
	if opts.MaxSegments > 0 {
		e.segSem = semaphore.NewWeighted(opts.MaxSegments)
	}
	if opts.MaxActive > 0 {
		e.taskSem = semaphore.NewWeighted(opts.MaxActive)
	}
	e.base, e.stopBase = context.WithCancelCause(context.Background())
	return e
}

// SetLogger allows wiring a shared application logger into the engine.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.log = l
	}
}

// Shutdown stops every running task and waits for them to checkpoint.
// Interrupted tasks report Paused so they can be resumed on next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	var waits []<-chan struct{}
	for _, t := range e.tasks {
		if done := t.stop(errPaused); done != nil {
			waits = append(waits, done)
		}
	}
	e.mu.Unlock()
	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			e.stopBase(errShutdown)
			return ctx.Err()
		}
	}
	e.stopBase(errShutdown)
	return nil
}

func (e *Engine) get(id string) *task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[id]
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.tasks, id)
	e.mu.Unlock()
}

func (e *Engine) report(ev downloader.Event) {
	if e.rep != nil {
		e.rep.Report(ev)
	}
}
