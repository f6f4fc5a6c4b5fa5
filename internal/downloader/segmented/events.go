package segmented

import (
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
)

// emit reports an event carrying the task's current progress and segment
// checkpoint.
func (e *Engine) emit(t *task, runID string, typ downloader.EventType, msg string) {
	p := t.agg.Snapshot()
	ev := downloader.Event{
		ID:       t.id,
		RunID:    runID,
		Type:     typ,
		Progress: &p,
		Parts:    t.agg.Segments(),
		Error:    msg,
	}
	if typ == downloader.EventComplete {
		ev.Meta = &downloader.Meta{TotalSize: p.Total, AcceptRanges: e.acceptRanges(t)}
	}
	e.report(ev)
}

func (e *Engine) acceptRanges(t *task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dl.AcceptRanges
}
