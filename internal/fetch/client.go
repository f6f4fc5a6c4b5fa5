// Package fetch implements the HTTP side of segmented downloads: resource
// probing, ranged GETs and a retrying segment fetcher.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
)

// Options configures the HTTP client.
type Options struct {
	// Timeout bounds connection setup and response headers. Bodies are
	// streamed without a deadline and stopped through the context.
	Timeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	MaxIdleConnsPerHost int

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int
	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
	// RetryMaxBackoff caps the backoff.
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with the service defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:             30 * time.Second,
		UserAgent:           "NovaCL/1.0",
		MaxIdleConnsPerHost: 16,
		RetryAttempts:       3,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// Resource describes a remote file as reported by the server.
type Resource struct {
	// Size is data.UnknownSize when the server did not report a length.
	Size         int64
	AcceptRanges bool
	ETag         string
	ContentType  string
}

// Client issues the HTTP requests a download needs.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a client with its own transport.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		TLSHandshakeTimeout:   opts.Timeout,
		// Raw bytes are required for ranged writes.
		DisableCompression: true,
	}
	return NewClientWithHTTP(&http.Client{Transport: transport}, opts)
}

// NewClientWithHTTP wraps an existing http.Client.
func NewClientWithHTTP(hc *http.Client, opts Options) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{client: hc, opts: opts}
}

// Options returns the options the client was built with.
func (c *Client) Options() Options { return c.opts }

// Probe resolves the size and range support of url. It issues a HEAD and,
// when that is rejected or inconclusive, a GET for the first byte.
func (c *Client) Probe(ctx context.Context, url string) (*Resource, error) {
	var res *Resource
	err := c.retry(ctx, func() error {
		var err error
		res, err = c.probeOnce(ctx, url)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) probeOnce(ctx context.Context, url string) (*Resource, error) {
	resp, err := c.do(ctx, http.MethodHead, url, "")
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	res := &Resource{Size: data.UnknownSize}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if resp.ContentLength >= 0 {
			res.Size = resp.ContentLength
		}
		res.AcceptRanges = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
		res.ETag = cleanETag(resp.Header.Get("ETag"))
		res.ContentType = resp.Header.Get("Content-Type")
		if res.AcceptRanges && res.Size != data.UnknownSize {
			return res, nil
		}
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		// Some servers only answer GET.
	default:
		if err := checkStatusCode("HEAD", resp.StatusCode); err != nil {
			return nil, err
		}
	}
	return c.probeRange(ctx, url, res)
}

// probeRange asks for the first byte to learn whether ranges are honoured.
func (c *Client) probeRange(ctx context.Context, url string, res *Resource) (*Resource, error) {
	resp, err := c.do(ctx, http.MethodGet, url, "bytes=0-0")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, newError(data.ErrProtocol, "GET probe", err)
		}
		res.AcceptRanges = true
		res.Size = total
	case http.StatusOK:
		res.AcceptRanges = false
		if res.Size == data.UnknownSize && resp.ContentLength >= 0 {
			res.Size = resp.ContentLength
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// An empty resource cannot satisfy bytes=0-0.
		res.AcceptRanges = false
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total == 0 {
			res.Size = 0
		}
	default:
		if err := checkStatusCode("GET probe", resp.StatusCode); err != nil {
			return nil, err
		}
	}
	if res.ETag == "" {
		res.ETag = cleanETag(resp.Header.Get("ETag"))
	}
	if res.ContentType == "" {
		res.ContentType = resp.Header.Get("Content-Type")
	}
	return res, nil
}

// GetRange requests the inclusive byte range [first, last]. A negative last
// requests everything from first to the end of the resource. The caller
// must close the returned body.
func (c *Client) GetRange(ctx context.Context, url string, first, last int64) (io.ReadCloser, error) {
	spec := fmt.Sprintf("bytes=%d-", first)
	if last >= 0 {
		spec = fmt.Sprintf("bytes=%d-%d", first, last)
	}
	resp, err := c.do(ctx, http.MethodGet, url, spec)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		resp.Body.Close()
		return nil, newError(data.ErrProtocol, "GET range", ErrRangeIgnored)
	default:
		resp.Body.Close()
		if err := checkStatusCode("GET range", resp.StatusCode); err != nil {
			return nil, err
		}
		return nil, newError(data.ErrProtocol, "GET range", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	start, end, _, err := ParseContentRange(resp.Header.Get("Content-Range"))
	if err != nil || start != first || (last >= 0 && end != last) {
		resp.Body.Close()
		if err == nil {
			err = fmt.Errorf("got bytes %d-%d for %s", start, end, spec)
		}
		return nil, newError(data.ErrProtocol, "GET range", err)
	}
	return resp.Body, nil
}

// Get requests the whole resource. The caller must close the returned body.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, url, "")
	if err != nil {
		return nil, err
	}
	if err := checkStatusCode("GET", resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, url, rangeSpec string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", data.ErrInvalidInput, err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if rangeSpec != "" {
		req.Header.Set("Range", rangeSpec)
	}

	began := time.Now()
	resp, err := c.client.Do(req)
	metrics.FetchLatency.WithLabelValues(method).Observe(time.Since(began).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(data.ErrNetwork, method, err)
	}
	return resp, nil
}

// retry runs op until it succeeds, fails with a non-retryable error, or the
// configured attempts are exhausted.
func (c *Client) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			metrics.SegmentRetries.Inc()
			if err := c.Backoff(ctx, attempt); err != nil {
				return err
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// Backoff waits for an exponentially increasing duration with jitter.
func (c *Client) Backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff || backoff <= 0 {
		backoff = c.opts.RetryMaxBackoff
	}

	// 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// checkStatusCode maps a non-success status to a classified error. Server
// errors and throttling are transient.
func checkStatusCode(op string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return newError(data.ErrNetwork, op, fmt.Errorf("status %d %s", code, http.StatusText(code)))
	default:
		return newError(data.ErrProtocol, op, fmt.Errorf("status %d %s", code, http.StatusText(code)))
	}
}

func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// ParseContentRange parses a Content-Range header value of the form
// "bytes start-end/total", "bytes start-end/*" or "bytes */total". total is
// data.UnknownSize when the server reports "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	rng, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}

	total = data.UnknownSize
	if size != "*" {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil || total < 0 {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range total: %q", header)
		}
	}
	if rng == "*" {
		return 0, -1, total, nil
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if end < start {
		return 0, 0, 0, errors.New("invalid Content-Range: end before start")
	}
	return start, end, total, nil
}
