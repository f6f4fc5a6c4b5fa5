package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"

	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
)

// Events connects to the server's event stream. An empty id subscribes to
// every download. The returned channel is closed when the connection
// terminates or the context is cancelled.
func (c *Client) Events(ctx context.Context, id string) (<-chan downloader.Event, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", wsURL.Scheme)
	}
	wsURL.Path += "/v1/events"
	if id != "" {
		wsURL.RawQuery = url.Values{"id": {id}}.Encode()
	}

	h := http.Header{}
	c.authorize(h)
	conn, _, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return nil, err
	}
	ch := make(chan downloader.Event, 16)
	go func() {
		defer close(ch)
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
		for {
			_, b, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var e downloader.Event
			if err := json.Unmarshal(b, &e); err != nil {
				continue
			}
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
