package segmented

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/progress"
	"github.com/NEXORA-Studios/NovaCL/internal/segment"
)

// task is the coordinator of one download.
type task struct {
	id  string
	agg *progress.Aggregator

	mu sync.Mutex
	// dl holds the static description of the download plus the resolved
	// plan. It is only read and written under mu.
	dl      *data.Download
	planned bool
	runID   string
	cancel  context.CancelCauseFunc
	// done is closed when the current run exits. nil when no run was
	// ever launched.
	done chan struct{}
}

func newTask(dl *data.Download, window time.Duration) *task {
	t := &task{
		id:  dl.ID,
		dl:  dl.Clone(),
		agg: progress.NewAggregator(window),
	}
	if len(t.dl.Parts) > 0 && segment.Validate(t.dl.Parts, t.dl.TotalSize) == nil {
		t.planned = true
		t.agg.Plan(t.dl.TotalSize, t.dl.Parts)
	} else {
		t.dl.Parts = nil
		t.dl.TotalSize = data.UnknownSize
	}
	return t
}

// running reports whether a run is in flight. Caller holds mu.
func (t *task) running() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// stop cancels the current run with cause and returns its done channel,
// or nil when nothing is running.
func (t *task) stop(cause error) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running() {
		return nil
	}
	t.cancel(cause)
	return t.done
}

// launch starts a new run. The run waits for the previous one to exit so
// two runs never write the same file. Caller holds mu.
func (t *task) launch(e *Engine, resumed bool) {
	prev := t.done
	ctx, cancel := context.WithCancelCause(e.base)
	t.cancel = cancel
	t.runID = uuid.NewString()
	t.done = make(chan struct{})
	go e.run(ctx, t, t.runID, resumed, prev, t.done)
}

// snapshot returns a copy of the download description with the current
// plan. Caller holds mu.
func (t *task) snapshot() *data.Download {
	d := t.dl.Clone()
	if t.planned {
		d.Parts = t.agg.Segments()
	}
	return d
}
