// Package client talks to a running NovaCL server over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

const (
	DefaultServer  = "http://127.0.0.1:9090"
	defaultTimeout = 10 * time.Second
)

type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// New returns a client for the server at rawURL. timeout bounds each
// request; the event stream is not subject to it.
func New(rawURL, token string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultServer
	}
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: u, token: token, http: &http.Client{Timeout: timeout}}, nil
}

// NewFromEnv reads NOVACL_SERVER, NOVACL_API_TOKEN and
// NOVACL_CLIENT_TIMEOUT_MS.
func NewFromEnv() (*Client, error) {
	timeout := defaultTimeout
	if v := os.Getenv("NOVACL_CLIENT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return New(os.Getenv("NOVACL_SERVER"), os.Getenv("NOVACL_API_TOKEN"), timeout)
}

func (c *Client) BaseURL() *url.URL { return c.baseURL }
func (c *Client) Token() string     { return c.token }

// APIError is a non-2xx answer from the server. It unwraps to the
// matching data sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return data.ErrNotFound
	case http.StatusBadRequest:
		return data.ErrInvalidInput
	case http.StatusConflict:
		return data.ErrAlreadyExists
	}
	return nil
}

// Start submits a download. created is false when the server returned an
// identical in-flight download.
func (c *Client) Start(ctx context.Context, req data.StartRequest) (id string, created bool, err error) {
	var out struct {
		ID string `json:"id"`
	}
	code, err := c.do(ctx, http.MethodPost, "/v1/downloads", req, &out)
	if err != nil {
		return "", false, err
	}
	return out.ID, code == http.StatusCreated, nil
}

func (c *Client) List(ctx context.Context) ([]data.TaskProgress, error) {
	var out []data.TaskProgress
	_, err := c.do(ctx, http.MethodGet, "/v1/downloads", nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (*data.Details, error) {
	out := &data.Details{Download: &data.Download{}}
	if _, err := c.do(ctx, http.MethodGet, "/v1/downloads/"+url.PathEscape(id), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Progress(ctx context.Context, id string) (data.Progress, error) {
	var p data.Progress
	_, err := c.do(ctx, http.MethodGet, "/v1/downloads/"+url.PathEscape(id)+"/progress", nil, &p)
	return p, err
}

func (c *Client) Pause(ctx context.Context, id string) error  { return c.action(ctx, id, "pause") }
func (c *Client) Resume(ctx context.Context, id string) error { return c.action(ctx, id, "resume") }
func (c *Client) Cancel(ctx context.Context, id string) error { return c.action(ctx, id, "cancel") }

// Purge forgets a finished download.
func (c *Client) Purge(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/downloads/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) action(ctx context.Context, id, verb string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/downloads/"+url.PathEscape(id)+"/"+verb, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}
