// Package progress tracks per-task byte counters, status and speed.
package progress

import (
	"sync"
	"time"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

// Aggregator holds the live progress of one task. It is updated by every
// segment fetcher and read by callers through Snapshot; it does no I/O.
type Aggregator struct {
	mu         sync.RWMutex
	total      int64
	segs       []data.Segment
	downloaded int64
	status     data.DownloadStatus
	err        string
	meter      *Meter
}

// NewAggregator returns an aggregator in pending state with an unknown
// total.
func NewAggregator(window time.Duration) *Aggregator {
	return &Aggregator{
		total:  data.UnknownSize,
		status: data.StatusPending,
		meter:  NewMeter(window),
	}
}

// Plan installs the segment plan for a run. Written counts carried by segs
// are kept, so a resumed task starts from its checkpoint.
func (a *Aggregator) Plan(total int64, segs []data.Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = total
	a.segs = make([]data.Segment, len(segs))
	copy(a.segs, segs)
	a.downloaded = 0
	for _, s := range a.segs {
		a.downloaded += s.Written
	}
}

// Add applies a byte delta to segment index. Negative deltas are accepted
// when a segment restarts from zero.
func (a *Aggregator) Add(index int, delta int64) {
	a.mu.Lock()
	if index >= 0 && index < len(a.segs) {
		a.segs[index].Written += delta
		a.downloaded += delta
	}
	a.mu.Unlock()
	a.meter.Add(delta)
}

// SetWritten sets segment index to an absolute count, fixing up the total.
func (a *Aggregator) SetWritten(index int, written int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.segs) {
		return
	}
	a.downloaded += written - a.segs[index].Written
	a.segs[index].Written = written
}

// SetSegmentStatus records the fetch state of segment index.
func (a *Aggregator) SetSegmentStatus(index int, st data.SegmentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index >= 0 && index < len(a.segs) {
		a.segs[index].Status = st
	}
}

// SetStatus records a task status. msg is kept only for failed tasks.
// Entering downloading restarts the speed window.
func (a *Aggregator) SetStatus(st data.DownloadStatus, msg string) {
	a.mu.Lock()
	prev := a.status
	a.status = st
	if st == data.StatusFailed {
		a.err = msg
	} else {
		a.err = ""
	}
	a.mu.Unlock()
	if st == data.StatusDownloading && prev != data.StatusDownloading {
		a.meter.Reset()
	}
}

// Status returns the current task status.
func (a *Aggregator) Status() data.DownloadStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Segments returns a copy of the current segment table.
func (a *Aggregator) Segments() []data.Segment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]data.Segment, len(a.segs))
	copy(out, a.segs)
	return out
}

// Snapshot returns a consistent view of the task progress.
func (a *Aggregator) Snapshot() data.Progress {
	a.mu.RLock()
	p := data.Progress{
		Total:      a.total,
		Downloaded: a.downloaded,
		Status:     a.status,
		Error:      a.err,
	}
	a.mu.RUnlock()

	if p.Status != data.StatusDownloading {
		return p
	}
	p.Speed = a.meter.Rate()
	if p.Speed > 0 && p.TotalKnown() && p.Total > p.Downloaded {
		p.ETA = (p.Total - p.Downloaded) / p.Speed
	}
	return p
}
