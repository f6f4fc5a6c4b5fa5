package data

// SegmentStatus is the fetch state of a single byte range.
type SegmentStatus string

const (
	SegmentPending SegmentStatus = "pending"
	SegmentActive  SegmentStatus = "active"
	SegmentDone    SegmentStatus = "done"
	SegmentFailed  SegmentStatus = "failed"
)

// Segment is a contiguous byte range [Start, End) of a download. End is
// UnknownSize when the resource length was not reported, in which case the
// segment runs until the server closes the body.
type Segment struct {
	Index   int           `json:"index"`
	Start   int64         `json:"start"`
	End     int64         `json:"end"`
	Written int64         `json:"written"`
	Status  SegmentStatus `json:"status"`
}

// Len returns End-Start, or UnknownSize for an open-ended segment.
func (s Segment) Len() int64 {
	if s.End == UnknownSize {
		return UnknownSize
	}
	return s.End - s.Start
}

// Bounded reports whether the segment has a known end.
func (s Segment) Bounded() bool { return s.End != UnknownSize }

// Offset is the absolute file offset of the next byte to fetch.
func (s Segment) Offset() int64 { return s.Start + s.Written }

// Complete reports whether every byte of a bounded segment has been written.
func (s Segment) Complete() bool {
	if !s.Bounded() {
		return s.Status == SegmentDone
	}
	return s.Written >= s.Len()
}
