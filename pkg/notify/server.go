package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/parley/pkg/api"
)

// Options tunes websocket connections.
type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	return o
}

// Server upgrades stream subscriptions to websockets.
type Server struct {
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server on top of hub.
func NewServer(hub *Hub, opts Options) *Server {
	return &Server{
		hub:  hub,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP subscribes the caller to the stream named by the "id" path
// value.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	if !api.ValidateStreamID(streamID) {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "stream_id", streamID, "error", err)
		return
	}
	conn.SetReadLimit(s.opts.MaxMessageSize)

	sub := s.hub.Subscribe(streamID, conn)
	go s.writePump(sub)
	s.readPump(sub)
}

// readPump consumes client frames so control messages are processed. The
// stream is one-way; client payloads are ignored.
func (s *Server) readPump(sub *Subscriber) {
	defer func() {
		s.hub.Unsubscribe(sub)
		sub.Conn.Close()
	}()

	readTimeout := 2 * s.opts.PingInterval
	sub.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	sub.Conn.SetPongHandler(func(string) error {
		return sub.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := sub.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket closed", "subscriber", sub.ID, "error", err)
			}
			return
		}
	}
}

func (s *Server) writePump(sub *Subscriber) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		sub.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			sub.Conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				sub.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("websocket write failed", "subscriber", sub.ID, "error", err)
				return
			}

		case <-ticker.C:
			sub.Conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := sub.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
