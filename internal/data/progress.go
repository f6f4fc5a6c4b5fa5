package data

// Progress is the caller-visible state of a download. Total is UnknownSize
// until the server confirms the resource length.
type Progress struct {
	Total      int64          `json:"total"`
	Downloaded int64          `json:"downloaded"`
	Speed      int64          `json:"speed"`
	ETA        int64          `json:"eta"`
	Status     DownloadStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// TotalKnown reports whether the resource size has been resolved.
func (p Progress) TotalKnown() bool { return p.Total != UnknownSize }

// TaskProgress pairs a task id with its progress for listings. Static task
// metadata is intentionally not part of it; see Download for details.
type TaskProgress struct {
	ID       string   `json:"id"`
	Progress Progress `json:"progress"`
}
