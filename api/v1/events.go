package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
)

const (
	defaultSubscriberBuffer = 64
	eventWriteTimeout       = 5 * time.Second
)

// EventHub fans downloader events out to websocket subscribers. It is a
// downloader.Reporter, so it can sit next to the reconciler's channel.
// Report never blocks: a subscriber whose buffer is full misses the event.
type EventHub struct {
	l      *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	id string
	ch chan downloader.Event
}

func NewEventHub(l *slog.Logger, buffer int) *EventHub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &EventHub{l: l, buffer: buffer, subs: make(map[*subscriber]struct{})}
}

func (h *EventHub) Report(e downloader.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.id != "" && s.id != e.ID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// Subscribe registers a subscriber for events of download id, or of all
// downloads when id is empty. cancel unregisters it and closes the channel.
func (h *EventHub) Subscribe(id string) (events <-chan downloader.Event, cancel func()) {
	s := &subscriber{id: id, ch: make(chan downloader.Event, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	metrics.EventSubscribers.Inc()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			close(s.ch)
			h.mu.Unlock()
			metrics.EventSubscribers.Dec()
		})
	}
}

// ServeHTTP upgrades to a websocket and streams events as JSON text
// messages until the client goes away. ?id= narrows the stream to one
// download.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	events, cancel := h.Subscribe(r.URL.Query().Get("id"))
	defer cancel()

	// Client messages are ignored; CloseRead handles pings and closes.
	ctx := conn.CloseRead(r.Context())
	l := h.l.With("remote", r.RemoteAddr)
	l.Debug("event subscriber connected")
	for {
		select {
		case <-ctx.Done():
			l.Debug("event subscriber gone", "err", ctx.Err())
			return
		case e := <-events:
			if err := h.write(ctx, conn, e); err != nil {
				l.Debug("event write failed", "err", err)
				return
			}
		}
	}
}

func (h *EventHub) write(ctx context.Context, conn *websocket.Conn, e downloader.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
