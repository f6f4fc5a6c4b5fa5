package data

import (
	"encoding/json"
	"io"
	"path/filepath"
	"time"
)

// UnknownSize marks a total size or segment end that the server has not reported.
const UnknownSize int64 = -1

type Download struct {
	ID            string         `json:"id"`
	Source        string         `json:"url"`
	TargetPath    string         `json:"savePath"`
	Name          string         `json:"filename"`
	Segments      int            `json:"segments"`
	Status        DownloadStatus `json:"status"`
	DesiredStatus DownloadStatus `json:"desiredStatus,omitempty"`
	Error         string         `json:"error,omitempty"`
	TotalSize     int64          `json:"totalSize"`
	AcceptRanges  bool           `json:"acceptRanges"`
	Parts         []Segment      `json:"parts,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusPaused      DownloadStatus = "paused"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
	StatusCancelled   DownloadStatus = "cancelled"
)

// Terminal reports whether no further transitions can occur from s.
func (s DownloadStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Downloads []*Download

func (d *Downloads) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *Download) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *Download) FromJSON(r io.Reader) error { return json.NewDecoder(r).Decode(d) }

// Path is the final destination file of the download.
func (d *Download) Path() string { return filepath.Join(d.TargetPath, d.Name) }

// PartPath is the in-progress file that becomes Path on completion.
func (d *Download) PartPath() string { return d.Path() + ".part" }

// Clone returns a deep copy so callers can't mutate repository state.
func (d *Download) Clone() *Download {
	if d == nil {
		return nil
	}
	c := *d
	if d.Parts != nil {
		c.Parts = make([]Segment, len(d.Parts))
		copy(c.Parts, d.Parts)
	}
	return &c
}

func (ds Downloads) Clone() Downloads {
	out := make(Downloads, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Clone())
	}
	return out
}

// Progress derives a progress snapshot from the persisted record. It is used
// when no live coordinator exists for the download.
func (d *Download) Progress() Progress {
	p := Progress{
		Total:  d.TotalSize,
		Status: d.Status,
	}
	for _, s := range d.Parts {
		p.Downloaded += s.Written
	}
	if d.Status == StatusFailed {
		p.Error = d.Error
	}
	return p
}
