package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quantbt/backtest"
)

const (
	writeWait    = 5 * time.Second
	queueSize    = 256
	readLimit    = 512
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub keeps the connected websocket clients and broadcasts every signal to
// all of them. Run must be started for messages to flow.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	lock      sync.Mutex
	log       zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, queueSize),
		log:       log,
	}
}

// Run delivers queued messages until ctx is done, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.writeAll(websocket.TextMessage, msg)
		case <-ping.C:
			h.writeAll(websocket.PingMessage, nil)
		}
	}
}

func (h *Hub) writeAll(kind int, msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(kind, msg); err != nil {
			h.log.Debug().Err(err).Str("remote", client.RemoteAddr().String()).Msg("dropping websocket client")
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(writeWait))
		client.Close()
		delete(h.clients, client)
	}
}

// Broadcast queues a raw message. It reports false when the queue is full.
func (h *Hub) Broadcast(msg []byte) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}

// Notify implements backtest.Notifier.
func (h *Hub) Notify(_ context.Context, n backtest.TradeNotice) bool {
	b, err := json.Marshal(FromNotice(n))
	if err != nil {
		h.log.Warn().Err(err).Msg("encode signal")
		return false
	}
	if !h.Broadcast(b) {
		h.log.Warn().Str("symbol", n.Symbol).Msg("broadcast queue full, signal dropped")
		return false
	}
	return true
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	go h.readPump(conn)
}

// readPump consumes control frames and unregisters the client once the
// connection fails or is closed by the peer.
func (h *Hub) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.lock.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	h.lock.Unlock()
}
