package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ProgressEvent is one progress update fanned out to websocket
// subscribers.
type ProgressEvent struct {
	Source    string    `json:"source"` // "optimizer" | "walkforward"
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressHub fans progress events out to websocket subscribers.
// Publish never blocks: slow subscribers drop events rather than stall
// the worker that produced them.
type ProgressHub struct {
	mu          sync.Mutex
	subscribers map[chan ProgressEvent]struct{}
	log         zerolog.Logger
}

// NewProgressHub creates an empty hub.
func NewProgressHub(log zerolog.Logger) *ProgressHub {
	return &ProgressHub{
		subscribers: make(map[chan ProgressEvent]struct{}),
		log:         log.With().Str("component", "progress_hub").Logger(),
	}
}

// Publish delivers an event to every subscriber, dropping it for those
// whose buffer is full.
func (h *ProgressHub) Publish(event ProgressEvent) {
	event.Timestamp = time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; skip this event for it.
		}
	}
}

func (h *ProgressHub) subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, 64)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *ProgressHub) unsubscribe(ch chan ProgressEvent) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// SubscriberCount reports the number of connected subscribers.
func (h *ProgressHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// HandleWS upgrades the connection and streams progress events until
// the client disconnects.
func (h *ProgressHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin enforcement handled by CORS middleware
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	h.log.Debug().Msg("Progress subscriber connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Progress subscriber dropped")
				return
			}
		}
	}
}
