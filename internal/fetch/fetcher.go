package fetch

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
	"github.com/NEXORA-Studios/NovaCL/internal/segment"
)

const chunkSize = 32 * 1024

// Request describes one segment fetch.
type Request struct {
	URL     string
	Segment data.Segment
	// Ranged is false when the server does not honour Range. The segment
	// then spans the whole resource and restarts from zero on retry.
	Ranged bool
	Dst    io.WriterAt
	// OnProgress receives the byte delta after every write. A restart of a
	// non-ranged segment reports a negative delta.
	OnProgress func(delta int64)
}

// Fetcher streams segments into a destination and retries transient
// failures with exponential backoff.
type Fetcher struct {
	client  *Client
	limiter *rate.Limiter
}

// NewFetcher returns a fetcher using c. limiter may be nil; when set it is
// shared by every segment so the cap applies to the whole process.
func NewFetcher(c *Client, limiter *rate.Limiter) *Fetcher {
	return &Fetcher{client: c, limiter: limiter}
}

// NewLimiter returns a bandwidth limiter for bytesPerSec, or nil when the
// limit is zero or negative.
func NewLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < chunkSize {
		burst = chunkSize
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// Fetch downloads the unfetched part of req.Segment and returns the
// segment's final Written count. Bytes written before an error remain
// valid; the returned count reflects them.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (int64, error) {
	written := req.Segment.Written
	attempts := f.client.opts.RetryAttempts

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			metrics.SegmentRetries.Inc()
			if err := f.client.Backoff(ctx, attempt); err != nil {
				return written, err
			}
		}
		before := written
		err := f.fetchOnce(ctx, req, &written)
		if err == nil {
			return written, nil
		}
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if !Retryable(err) {
			return written, err
		}
		lastErr = err
		if req.Ranged && written > before {
			// Progress was made; the next failure gets a fresh budget.
			attempt = 0
		}
	}
	return written, fmt.Errorf("segment %d failed after %d attempts: %w", req.Segment.Index, attempts+1, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, req Request, written *int64) error {
	seg := req.Segment
	seg.Written = *written

	var (
		body io.ReadCloser
		err  error
	)
	if req.Ranged {
		first, last, ok := segment.Remaining(seg)
		if !ok {
			return nil
		}
		body, err = f.client.GetRange(ctx, req.URL, first, last)
	} else {
		if *written > 0 {
			req.report(-*written)
			*written = 0
			seg.Written = 0
		}
		if seg.Bounded() && seg.Len() == 0 {
			return nil
		}
		body, err = f.client.Get(ctx, req.URL)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			overflow := false
			if seg.Bounded() {
				if left := seg.Len() - *written; int64(n) > left {
					chunk = buf[:left]
					overflow = true
				}
			}
			if err := f.wait(ctx, len(chunk)); err != nil {
				return err
			}
			if len(chunk) > 0 {
				if _, err := req.Dst.WriteAt(chunk, seg.Start+*written); err != nil {
					return newError(data.ErrIO, "write", err)
				}
				*written += int64(len(chunk))
				metrics.BytesDownloaded.Add(float64(len(chunk)))
				req.report(int64(len(chunk)))
			}
			if overflow {
				return newError(data.ErrProtocol, "read", fmt.Errorf("body exceeds segment %d", seg.Index))
			}
		}
		if rerr == io.EOF {
			if seg.Bounded() && *written < seg.Len() {
				return newError(data.ErrNetwork, "read", io.ErrUnexpectedEOF)
			}
			return nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return newError(data.ErrNetwork, "read", rerr)
		}
	}
}

// wait blocks until the limiter admits n bytes, in burst-sized steps.
func (f *Fetcher) wait(ctx context.Context, n int) error {
	if f.limiter == nil {
		return ctx.Err()
	}
	burst := f.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := f.limiter.WaitN(ctx, step); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		n -= step
	}
	return nil
}

func (r Request) report(delta int64) {
	if r.OnProgress != nil && delta != 0 {
		r.OnProgress(delta)
	}
}
