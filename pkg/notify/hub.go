package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/observability"
)

const sendBuffer = 256

// ErrBufferFull is returned when a subscriber cannot take more messages.
var ErrBufferFull = errors.New("send buffer full")

// Subscriber is one websocket connection following a stream.
type Subscriber struct {
	ID       string
	StreamID string
	Conn     *websocket.Conn
	Send     chan []byte

	mu sync.Mutex
}

// WriteMessage writes to the connection with write locking.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(messageType, data)
}

type outbound struct {
	streamID string
	msgType  api.StreamMessageType
	data     []byte
}

// Hub manages stream subscribers.
type Hub struct {
	subscribers map[string]*Subscriber
	streams     map[string]map[string]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan outbound
	done       chan struct{}

	mu sync.RWMutex
}

var _ Notifier = (*Hub)(nil)

// NewHub creates a hub. Call Run to start delivering messages.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		streams:     make(map[string]map[string]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan outbound, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			if h.streams[sub.StreamID] == nil {
				h.streams[sub.StreamID] = make(map[string]bool)
			}
			h.streams[sub.StreamID][sub.ID] = true
			h.mu.Unlock()
			observability.StreamSubscribers.Inc()
			debug.Log("http", "stream subscriber registered", "subscriber", sub.ID, "stream_id", sub.StreamID)

		case sub := <-h.unregister:
			h.remove(sub)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	if ids := h.streams[sub.StreamID]; ids != nil {
		delete(ids, sub.ID)
		if len(ids) == 0 {
			delete(h.streams, sub.StreamID)
		}
	}
	close(sub.Send)
	observability.StreamSubscribers.Dec()
	debug.Log("http", "stream subscriber unregistered", "subscriber", sub.ID, "stream_id", sub.StreamID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.remove(sub)
	}
}

func (h *Hub) deliver(msg outbound) {
	h.mu.RLock()
	ids := h.streams[msg.streamID]
	if len(ids) == 0 {
		h.mu.RUnlock()
		observability.StreamMessagesTotal.WithLabelValues(string(msg.msgType), "no_subscribers").Inc()
		return
	}
	var full []*Subscriber
	for id := range ids {
		sub := h.subscribers[id]
		select {
		case sub.Send <- msg.data:
			observability.StreamMessagesTotal.WithLabelValues(string(msg.msgType), "delivered").Inc()
		default:
			observability.StreamMessagesTotal.WithLabelValues(string(msg.msgType), "dropped").Inc()
			full = append(full, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range full {
		slog.Warn("stream subscriber buffer full, closing", "subscriber", sub.ID, "stream_id", sub.StreamID)
		h.remove(sub)
	}
}

// Subscribe registers a websocket connection for streamID.
func (h *Hub) Subscribe(streamID string, conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.NewString(),
		StreamID: streamID,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.Send)
	}
	return sub
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish queues msg for every subscriber of streamID. It never blocks on
// slow subscribers.
func (h *Hub) Publish(ctx context.Context, streamID string, msg api.StreamMessage) {
	if streamID == "" {
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("encoding stream message failed", "stream_id", streamID, "error", err)
		return
	}

	select {
	case h.broadcast <- outbound{streamID: streamID, msgType: msg.Type, data: data}:
	case <-ctx.Done():
		slog.Warn("stream message not published", "stream_id", streamID, "error", ctx.Err())
	default:
		observability.StreamMessagesTotal.WithLabelValues(string(msg.Type), "dropped").Inc()
		slog.Warn("stream broadcast queue full, dropping message", "stream_id", streamID, "type", msg.Type)
	}
}

// Subscribers returns the number of subscribers following streamID.
func (h *Hub) Subscribers(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[streamID])
}
