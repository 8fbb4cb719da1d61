package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type ReloadMessageType string

const (
	// ReloadTypeHello is sent on connect and carries the serving generation.
	ReloadTypeHello ReloadMessageType = "hello"
	// ReloadTypeClosing announces that the server is going away.
	ReloadTypeClosing ReloadMessageType = "closing"
)

type ReloadMessage struct {
	Type       ReloadMessageType `json:"type"`
	Generation int               `json:"generation,omitempty"`
}

type reloadClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *reloadClient) send(msg ReloadMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return c.conn.WriteJSON(msg)
}

// ReloadServer keeps the browser reload connections. Browsers reload the
// page when, after reconnecting, they greet a different generation.
type ReloadServer struct {
	generation int
	log        *slog.Logger

	mu       sync.Mutex
	clients  map[*websocket.Conn]*reloadClient
	closed   bool
	upgrader websocket.Upgrader
}

func NewReloadServer(generation int, log *slog.Logger) *ReloadServer {
	if log == nil {
		log = slog.Default()
	}
	return &ReloadServer{
		generation: generation,
		log:        log,
		clients:    make(map[*websocket.Conn]*reloadClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request and holds the connection until the
// browser leaves or the server closes.
func (s *ReloadServer) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	client := &reloadClient{conn: conn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[conn] = client
	s.mu.Unlock()

	if err := client.send(ReloadMessage{Type: ReloadTypeHello, Generation: s.generation}); err != nil {
		s.log.Debug("reload greeting failed", "error", err)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *ReloadServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close tells every browser the server is going away and drops the
// connections. Later upgrades are refused.
func (s *ReloadServer) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*reloadClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.send(ReloadMessage{Type: ReloadTypeClosing})
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "reloading"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
	if len(clients) > 0 {
		s.log.Debug("reload connections closed", "clients", len(clients))
	}
}
