package downloader

import "github.com/NEXORA-Studios/NovaCL/internal/data"

// Event represents a state change or progress update from a downloader.
//
// Lifecycle events (Start, Paused, Resumed, Complete, Failed, Cancelled)
// carry the segment checkpoint in Parts so the reconciler can persist it
// with the status. Progress events are emitted periodically while a task
// runs and also carry Parts.
type Event struct {
	ID string `json:"id"`
	// RunID identifies the run that produced the event. Events from a
	// superseded run are stale.
	RunID    string         `json:"runId,omitempty"`
	Type     EventType      `json:"type"`
	Progress *data.Progress `json:"progress,omitempty"`
	Parts    []data.Segment `json:"-"`
	Meta     *Meta          `json:"meta,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// EventType defines the set of events that downloaders may emit.
type EventType string

const (
	EventStart     EventType = "Start"
	EventPaused    EventType = "Paused"
	EventResumed   EventType = "Resumed"
	EventCancelled EventType = "Cancelled"
	EventComplete  EventType = "Complete"
	EventFailed    EventType = "Failed"
	EventProgress  EventType = "Progress"
	EventMeta      EventType = "Meta"
)

// Terminal reports whether t ends a download.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventFailed || t == EventCancelled
}

// Meta carries what the downloader learned about the resource.
type Meta struct {
	TotalSize    int64  `json:"totalSize"`
	AcceptRanges bool   `json:"acceptRanges"`
	Name         string `json:"name,omitempty"`
}
