package service

import (
	"context"
	"sync"
	"time"

	"salesflow/internal/buffer"
	"salesflow/internal/metrics"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/constraints"
	"salesflow/pkg/logger"

	"go.uber.org/zap"
)

// EventPublisher receives queue lifecycle events.
type EventPublisher interface {
	Publish(ev v1.QueueEvent)
}

type Client struct {
	Send chan v1.QueueEvent
	// Actions limits delivery to these actions; empty means all.
	Actions map[constraints.Action]bool
}

func (c *Client) wants(a constraints.Action) bool {
	return a == constraints.ActionPing || len(c.Actions) == 0 || c.Actions[a]
}

// Hub fans queue events out to admin stream clients and keeps a replay
// buffer for reconnects.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan v1.QueueEvent
	Register   chan *Client
	Unregister chan *Client

	observer  metrics.HubObserver
	heartbeat time.Duration
	buffer    *buffer.EventBuffer

	mu  sync.Mutex
	seq int64

	done chan struct{}
}

func NewHub(observer metrics.HubObserver, heartbeat time.Duration, bufferSize int) *Hub {
	if observer == nil {
		observer = metrics.Nop{}
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan v1.QueueEvent, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		observer:   observer,
		heartbeat:  heartbeat,
		buffer:     buffer.NewEventBuffer(bufferSize),
		done:       make(chan struct{}),
	}
}

// Subscribe registers c and reports false once the hub has stopped.
func (h *Hub) Subscribe(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unsubscribe is safe to call after the hub closed c or stopped.
func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// Publish stamps ev with the next sequence number, stores it for replay and
// hands it to Run. It never blocks; live delivery is dropped when the hub
// is saturated, the replay buffer still has the event.
func (h *Hub) Publish(ev v1.QueueEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev.Seq = h.seq
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.buffer.Add(ev)

	select {
	case h.broadcast <- ev:
	default:
		logger.Warn("hub saturated, event only kept for replay", zap.Int64("seq", ev.Seq))
	}
}

// Since returns buffered events after lastSeq; see buffer.EventBuffer.Since.
func (h *Hub) Since(lastSeq int64) ([]v1.QueueEvent, bool) {
	return h.buffer.Since(lastSeq)
}

func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			close(h.done)
			return
		case client := <-h.Register:
			h.clients[client] = true
			h.observer.IncOnline()
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case ev := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(ev.Action) {
					continue
				}
				select {
				case client.Send <- ev:
					h.observer.RecordPush()
				default:
					logger.Warn("stream client too slow, disconnecting")
					h.drop(client)
				}
			}
		case <-ticker.C:
			ping := v1.QueueEvent{Action: constraints.ActionPing, At: time.Now().UTC()}
			for client := range h.clients {
				select {
				case client.Send <- ping:
				default:
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	h.observer.DecOnline()
	close(client.Send)
}
