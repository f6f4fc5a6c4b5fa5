package segmented

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/fetch"
)

// prepareFile opens the partial file for dl and sizes it. A checkpoint that
// does not match the file on disk is discarded and the segments restart.
func (e *Engine) prepareFile(t *task, dl *data.Download) (*os.File, error) {
	if err := e.fs.MkdirAll(dl.TargetPath, 0o755); err != nil {
		return nil, &fetch.Error{Kind: data.ErrIO, Op: "mkdir", Err: err}
	}
	part := dl.PartPath()
	f, err := os.OpenFile(part, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &fetch.Error{Kind: data.ErrIO, Op: "open", Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &fetch.Error{Kind: data.ErrIO, Op: "stat", Err: err}
	}

	segs := t.agg.Segments()
	var downloaded int64
	for _, s := range segs {
		downloaded += s.Written
	}
	stale := downloaded > 0 && fi.Size() < maxOffset(segs)
	if dl.TotalSize != data.UnknownSize && downloaded > 0 && fi.Size() != dl.TotalSize {
		stale = true
	}
	if stale {
		e.log.Warn("checkpoint does not match partial file, restarting", "id", t.id, "path", part, "size", fi.Size())
		for i := range segs {
			segs[i].Written = 0
			segs[i].Status = data.SegmentPending
		}
		t.agg.Plan(dl.TotalSize, segs)
	}

	if dl.TotalSize > 0 && fi.Size() != dl.TotalSize {
		if e.opts.CheckFreeSpace {
			if err := e.checkFreeSpace(dl.TargetPath, dl.TotalSize-fi.Size()); err != nil {
				f.Close()
				return nil, err
			}
		}
		if err := f.Truncate(dl.TotalSize); err != nil {
			f.Close()
			return nil, &fetch.Error{Kind: data.ErrIO, Op: "preallocate", Err: err}
		}
	}
	return f, nil
}

// checkFreeSpace fails with ErrIO when dir's filesystem has less than need
// bytes available. Errors reading usage are ignored.
func (e *Engine) checkFreeSpace(dir string, need int64) error {
	if need <= 0 {
		return nil
	}
	usage, err := disk.Usage(filepath.Clean(dir))
	if err != nil {
		e.log.Warn("disk usage unavailable", "dir", dir, "err", err)
		return nil
	}
	if usage.Free < uint64(need) {
		return &fetch.Error{Kind: data.ErrIO, Op: "preallocate", Err: fmt.Errorf("need %d bytes, %d free on %s", need, usage.Free, usage.Path)}
	}
	return nil
}

func maxOffset(segs []data.Segment) int64 {
	var m int64
	for _, s := range segs {
		if s.Written > 0 && s.Offset() > m {
			m = s.Offset()
		}
	}
	return m
}
