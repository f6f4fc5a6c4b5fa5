// Package segment divides a resource into disjoint byte ranges.
package segment

import (
	"fmt"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

// Plan splits [0, total) into n ordered, disjoint segments of equal size with
// the last one absorbing the remainder. An unknown total or a server without
// range support yields a single segment covering the whole resource.
//
// n is clamped to total so no empty segment is produced; a zero-length
// resource yields one empty segment.
func Plan(total int64, n int, acceptRanges bool) ([]data.Segment, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: segment count %d", data.ErrInvalidInput, n)
	}
	if total < 0 && total != data.UnknownSize {
		return nil, fmt.Errorf("%w: total size %d", data.ErrInvalidInput, total)
	}
	if total == data.UnknownSize || !acceptRanges {
		return []data.Segment{single(total)}, nil
	}
	if int64(n) > total {
		n = int(total)
	}
	if n <= 1 {
		return []data.Segment{single(total)}, nil
	}

	size := total / int64(n)
	out := make([]data.Segment, n)
	for i := range out {
		start := int64(i) * size
		end := start + size
		if i == n-1 {
			end = total
		}
		out[i] = data.Segment{Index: i, Start: start, End: end, Status: data.SegmentPending}
	}
	return out, nil
}

func single(total int64) data.Segment {
	return data.Segment{Index: 0, Start: 0, End: total, Status: data.SegmentPending}
}

// Remaining returns the inclusive byte range still to be fetched for s, as
// used in a Range header. last is UnknownSize for an open-ended segment.
// ok is false when nothing is left.
func Remaining(s data.Segment) (first, last int64, ok bool) {
	first = s.Offset()
	if !s.Bounded() {
		return first, data.UnknownSize, true
	}
	if first >= s.End {
		return 0, 0, false
	}
	return first, s.End - 1, true
}

// Validate checks that segs are ordered, disjoint and cover [0, total)
// exactly, and that no segment reports more bytes than its length. It is used
// on persisted plans before resuming from them.
func Validate(segs []data.Segment, total int64) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: empty plan", data.ErrInvalidInput)
	}
	if total == data.UnknownSize {
		if len(segs) != 1 || segs[0].Start != 0 || segs[0].Bounded() {
			return fmt.Errorf("%w: unknown size requires one open segment", data.ErrInvalidInput)
		}
		return nil
	}
	var next int64
	for i, s := range segs {
		if s.Index != i {
			return fmt.Errorf("%w: segment %d has index %d", data.ErrInvalidInput, i, s.Index)
		}
		if s.Start != next {
			return fmt.Errorf("%w: segment %d starts at %d, want %d", data.ErrInvalidInput, i, s.Start, next)
		}
		if s.End < s.Start {
			return fmt.Errorf("%w: segment %d ends before it starts", data.ErrInvalidInput, i)
		}
		if s.Written < 0 || s.Written > s.Len() {
			return fmt.Errorf("%w: segment %d wrote %d of %d bytes", data.ErrInvalidInput, i, s.Written, s.Len())
		}
		next = s.End
	}
	if next != total {
		return fmt.Errorf("%w: plan covers %d of %d bytes", data.ErrInvalidInput, next, total)
	}
	return nil
}
