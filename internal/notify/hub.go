// Package notify pushes a small JSON message to websocket subscribers
// after every committed snapshot, so dashboards refresh without polling.
package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ts826848/stellaris-dashboard/internal/game"
)

// Message is what subscribers receive per commit.
type Message struct {
	PlaythroughID string    `json:"playthrough_id"`
	Date          string    `json:"date"`
	IngestedAt    time.Time `json:"ingested_at"`
}

type Hub struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	latest *Message
}

type subscriber struct {
	out chan []byte
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // local tool
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// SnapshotCommitted satisfies the coordinator's notifier.
func (h *Hub) SnapshotCommitted(playthroughID string, date game.Date) {
	msg := &Message{
		PlaythroughID: playthroughID,
		Date:          date.String(),
		IngestedAt:    time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.latest = msg
	for s := range h.subs {
		select {
		case s.out <- b:
		default:
			// Slow subscriber; it will catch up from the API.
		}
	}
	h.mu.Unlock()
}

// Latest returns the most recent commit message, or nil before the first.
func (h *Hub) Latest() *Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribers reports the current connection count, for /api/status.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Handler upgrades to a websocket and streams commit messages. Incoming
// messages are read and discarded; they only serve as liveness.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub := &subscriber{out: make(chan []byte, 16)}
		h.add(sub)
		defer h.remove(sub)

		done := make(chan struct{})

		// Writer goroutine; the reader loop below owns the connection's
		// lifetime.
		go func() {
			for {
				select {
				case <-done:
					return
				case b, ok := <-sub.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		close(done)
	}
}
