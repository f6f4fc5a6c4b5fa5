// Package service is the download registry: the single entry point callers
// use to create, control and enumerate downloads.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/downloadcfg"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/fp"
	"github.com/NEXORA-Studios/NovaCL/internal/repo"
)

type Download interface {
	// Start records a new download and hands it to the downloader. It
	// does no network I/O. created is false when an identical in-flight
	// download already exists and was returned instead.
	Start(ctx context.Context, req data.StartRequest) (dl *data.Download, created bool, err error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	// UpdateDesiredStatus maps a desired status onto Pause, Resume or Cancel.
	UpdateDesiredStatus(ctx context.Context, id string, status data.DownloadStatus) (*data.Download, error)
	Progress(ctx context.Context, id string) (data.Progress, error)
	List(ctx context.Context) ([]data.TaskProgress, error)
	Get(ctx context.Context, id string) (*data.Details, error)
	// Purge removes the record of a terminal download.
	Purge(ctx context.Context, id string) error
	// Restore adopts persisted records after a restart. Interrupted
	// downloads become paused, or are resumed when resume is set.
	Restore(ctx context.Context, resume bool) error
}

// Options configures the registry.
type Options struct {
	Policy          downloadcfg.CollisionPolicy
	DefaultSegments int
	// MaxSegments bounds the segment count a caller may request.
	MaxSegments int
	Logger      *slog.Logger
}

const (
	defaultSegments = 4
	maxSegments     = 64
	fallbackName    = "download"
)

var desiredStatuses = map[data.DownloadStatus]bool{
	data.StatusDownloading: true,
	data.StatusPaused:      true,
	data.StatusCancelled:   true,
}

type download struct {
	repo repo.DownloadRepo
	dlr  downloader.Downloader
	opts Options
	log  *slog.Logger

	keys    *keyedMutex
	startMu sync.Mutex

	tombMu sync.RWMutex
	tombs  map[string]struct{}
}

func NewDownload(r repo.DownloadRepo, dlr downloader.Downloader, opts Options) Download {
	if opts.Policy == "" {
		opts.Policy = downloadcfg.CollisionError
	}
	if opts.DefaultSegments < 1 {
		opts.DefaultSegments = defaultSegments
	}
	if opts.MaxSegments < 1 {
		opts.MaxSegments = maxSegments
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &download{
		repo:  r,
		dlr:   dlr,
		opts:  opts,
		log:   opts.Logger,
		keys:  newKeyedMutex(),
		tombs: make(map[string]struct{}),
	}
}

func (ds *download) Start(ctx context.Context, req data.StartRequest) (*data.Download, bool, error) {
	src, err := validateURL(req.URL)
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(req.SavePath) == "" {
		return nil, false, fmt.Errorf("%w: savePath is required", data.ErrInvalidInput)
	}
	dir := filepath.Clean(strings.TrimSpace(req.SavePath))
	name, err := filename(req.Filename, src)
	if err != nil {
		return nil, false, err
	}
	segments := req.Segments
	switch {
	case segments == 0:
		segments = ds.opts.DefaultSegments
	case segments < 0 || segments > ds.opts.MaxSegments:
		return nil, false, fmt.Errorf("%w: segments must be between 1 and %d", data.ErrInvalidInput, ds.opts.MaxSegments)
	}

	ds.startMu.Lock()
	defer ds.startMu.Unlock()

	fprint := fp.Fingerprint(req.URL, filepath.Join(dir, name))
	same, err := ds.repo.FindByFingerprint(ctx, fprint)
	if err != nil {
		return nil, false, err
	}
	for _, d := range same {
		if !d.Status.Terminal() {
			ds.log.Info("deduplicated start", "id", d.ID, "url", d.Source)
			return d, false, nil
		}
	}

	all, err := ds.repo.List(ctx)
	if err != nil {
		return nil, false, err
	}
	taken := func(n string) bool {
		p := filepath.Join(dir, n)
		for _, d := range all {
			if !d.Status.Terminal() && d.Path() == p {
				return true
			}
		}
		return false
	}
	if taken(name) && ds.opts.Policy != downloadcfg.CollisionRename {
		return nil, false, fmt.Errorf("%w: %s is the destination of another download", data.ErrAlreadyExists, filepath.Join(dir, name))
	}
	resolved, err := ds.opts.Policy.Resolve(dir, name, taken)
	if err != nil {
		return nil, false, err
	}

	d := &data.Download{
		ID:            uuid.NewString(),
		Source:        req.URL,
		TargetPath:    dir,
		Name:          resolved,
		Segments:      segments,
		Status:        data.StatusPending,
		DesiredStatus: data.StatusDownloading,
		TotalSize:     data.UnknownSize,
		CreatedAt:     time.Now(),
	}
	saved, err := ds.repo.Add(ctx, d)
	if err != nil {
		return nil, false, err
	}
	if err := ds.dlr.Start(ctx, saved.Clone()); err != nil {
		ds.log.Error("start download", "id", saved.ID, "err", err)
		_, _ = ds.repo.Update(ctx, saved.ID, func(dl *data.Download) error {
			dl.Status = data.StatusFailed
			dl.Error = err.Error()
			return nil
		})
		return nil, false, err
	}
	ds.log.Info("download created", "id", saved.ID, "url", saved.Source, "path", saved.Path(), "segments", segments)
	return saved, true, nil
}

func (ds *download) Pause(ctx context.Context, id string) error {
	unlock := ds.keys.Lock(id)
	defer unlock()

	d, err := ds.lookup(ctx, id)
	if err != nil {
		return err
	}
	if d.Status.Terminal() {
		return nil
	}
	if err := ds.dlr.Pause(ctx, d); err != nil && !errors.Is(err, downloader.ErrNotFound) {
		return err
	}
	status := ds.liveStatus(id, data.StatusPaused)
	_, err = ds.repo.Update(ctx, id, func(dl *data.Download) error {
		dl.DesiredStatus = data.StatusPaused
		if !dl.Status.Terminal() && !status.Terminal() {
			dl.Status = status
		}
		return nil
	})
	return err
}

func (ds *download) Resume(ctx context.Context, id string) error {
	unlock := ds.keys.Lock(id)
	defer unlock()

	d, err := ds.lookup(ctx, id)
	if err != nil {
		return err
	}
	if d.Status.Terminal() {
		return nil
	}
	if err := ds.dlr.Resume(ctx, d); err != nil {
		return err
	}
	status := ds.liveStatus(id, data.StatusDownloading)
	_, err = ds.repo.Update(ctx, id, func(dl *data.Download) error {
		dl.DesiredStatus = data.StatusDownloading
		if !dl.Status.Terminal() && !status.Terminal() {
			dl.Status = status
		}
		return nil
	})
	return err
}

func (ds *download) Cancel(ctx context.Context, id string) error {
	unlock := ds.keys.Lock(id)
	defer unlock()

	if ds.tombstoned(id) {
		return nil
	}
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p, ok := ds.dlr.Progress(id); ok && p.Status.Terminal() {
		return nil
	}
	if d.Status.Terminal() {
		return nil
	}
	if _, err := ds.repo.Update(ctx, id, func(dl *data.Download) error {
		dl.DesiredStatus = data.StatusCancelled
		return nil
	}); err != nil {
		return err
	}
	if err := ds.dlr.Cancel(ctx, d); err != nil {
		return err
	}
	if err := ds.repo.Delete(ctx, id); err != nil && !errors.Is(err, data.ErrNotFound) {
		return err
	}
	ds.tombMu.Lock()
	ds.tombs[id] = struct{}{}
	ds.tombMu.Unlock()
	ds.log.Info("download cancelled", "id", id)
	return nil
}

func (ds *download) UpdateDesiredStatus(ctx context.Context, id string, status data.DownloadStatus) (*data.Download, error) {
	if !desiredStatuses[status] {
		return nil, data.ErrBadStatus
	}
	var (
		snap *data.Download
		err  error
	)
	if status == data.StatusCancelled {
		if snap, err = ds.lookup(ctx, id); err != nil {
			return nil, err
		}
	}
	switch status {
	case data.StatusDownloading:
		err = ds.Resume(ctx, id)
	case data.StatusPaused:
		err = ds.Pause(ctx, id)
	case data.StatusCancelled:
		err = ds.Cancel(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if status == data.StatusCancelled {
		if !snap.Status.Terminal() {
			snap.Status = data.StatusCancelled
			snap.DesiredStatus = data.StatusCancelled
		}
		return snap, nil
	}
	return ds.repo.Get(ctx, id)
}

func (ds *download) Progress(ctx context.Context, id string) (data.Progress, error) {
	if ds.tombstoned(id) {
		return data.Progress{}, data.ErrNotFound
	}
	if p, ok := ds.dlr.Progress(id); ok {
		return p, nil
	}
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return data.Progress{}, err
	}
	return d.Progress(), nil
}

func (ds *download) List(ctx context.Context) ([]data.TaskProgress, error) {
	all, err := ds.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]data.TaskProgress, 0, len(all))
	for _, d := range all {
		if ds.tombstoned(d.ID) {
			continue
		}
		out = append(out, data.TaskProgress{ID: d.ID, Progress: ds.progressOf(d)})
	}
	return out, nil
}

func (ds *download) Get(ctx context.Context, id string) (*data.Details, error) {
	d, err := ds.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &data.Details{Download: d, Progress: ds.progressOf(d)}, nil
}

func (ds *download) Purge(ctx context.Context, id string) error {
	unlock := ds.keys.Lock(id)
	defer unlock()

	if ds.tombstoned(id) {
		ds.tombMu.Lock()
		delete(ds.tombs, id)
		ds.tombMu.Unlock()
		return nil
	}
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	status := d.Status
	if p, ok := ds.dlr.Progress(id); ok {
		status = p.Status
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: download %s is %s, cancel it first", data.ErrBadStatus, id, status)
	}
	d.Status = status
	if err := ds.dlr.Purge(ctx, d); err != nil {
		return err
	}
	if err := ds.repo.Delete(ctx, id); err != nil {
		return err
	}
	ds.log.Info("download purged", "id", id)
	return nil
}

func (ds *download) Restore(ctx context.Context, resume bool) error {
	all, err := ds.repo.List(ctx)
	if err != nil {
		return err
	}
	var paused, resumed int
	for _, d := range all {
		if d.Status.Terminal() {
			continue
		}
		if resume && d.DesiredStatus != data.StatusPaused {
			if err := ds.Resume(ctx, d.ID); err != nil {
				ds.log.Error("resume restored download", "id", d.ID, "err", err)
				continue
			}
			resumed++
			continue
		}
		if _, err := ds.repo.Update(ctx, d.ID, func(dl *data.Download) error {
			dl.Status = data.StatusPaused
			return nil
		}); err != nil {
			ds.log.Error("pause restored download", "id", d.ID, "err", err)
			continue
		}
		paused++
	}
	ds.log.Info("restored downloads", "total", len(all), "paused", paused, "resumed", resumed)
	return nil
}

// lookup returns the record for id, treating cancelled ids as unknown.
func (ds *download) lookup(ctx context.Context, id string) (*data.Download, error) {
	if ds.tombstoned(id) {
		return nil, data.ErrNotFound
	}
	return ds.repo.Get(ctx, id)
}

// liveStatus is the coordinator's status for id, or def without one. A
// terminal live status is only persisted by the reconciler, together with
// the error and final checkpoint of its event.
func (ds *download) liveStatus(id string, def data.DownloadStatus) data.DownloadStatus {
	if p, ok := ds.dlr.Progress(id); ok {
		return p.Status
	}
	return def
}

func (ds *download) progressOf(d *data.Download) data.Progress {
	if p, ok := ds.dlr.Progress(d.ID); ok {
		return p
	}
	return d.Progress()
}

func (ds *download) tombstoned(id string) bool {
	ds.tombMu.RLock()
	defer ds.tombMu.RUnlock()
	_, ok := ds.tombs[id]
	return ok
}

func validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported url scheme %q", data.ErrInvalidInput, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url has no host", data.ErrInvalidInput)
	}
	return u, nil
}

// filename returns the explicit name or the last path element of src.
func filename(explicit string, src *url.URL) (string, error) {
	name := strings.TrimSpace(explicit)
	if name == "" {
		name = path.Base(src.Path)
		if name == "" || name == "/" || name == "." {
			name = fallbackName
		}
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: invalid filename %q", data.ErrInvalidInput, name)
	}
	return name, nil
}
