package network

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/protocol"
)

const (
	wsWriteWait = 10 * time.Second
	// минимальное ожидание pong после ping
	wsPongWait = 60 * time.Second
)

// WSServer - WebSocket-транспорт. Один текстовый кадр несёт один JSON-конверт.
type WSServer struct {
	handler      *GameHandler
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	readWait     time.Duration
}

// NewWSServer создаёт транспорт. Пустой allowedOrigins разрешает любой Origin.
func NewWSServer(handler *GameHandler, allowedOrigins []string, pingInterval time.Duration) *WSServer {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	readWait := wsPongWait
	if 2*pingInterval > readWait {
		readWait = 2 * pingInterval
	}
	return &WSServer{
		handler:      handler,
		pingInterval: pingInterval,
		readWait:     readWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 || allowed["*"] {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			},
		},
	}
}

// wsConn - Transport поверх *websocket.Conn
type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (w *wsConn) WriteMessage(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}

func (w *wsConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }

// ServeHTTP поднимает WebSocket и обслуживает соединение до его закрытия
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("⚠️ WebSocket upgrade с %s не удался: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(protocol.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readWait))
	})

	client := s.handler.Accept(&wsConn{conn: conn}, "ws")
	defer s.handler.OnClientDisconnect(client)

	go s.pingLoop(conn, client)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("🔌 WebSocket %s: %v", client.ID(), err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readWait))
		s.handler.HandleRaw(client, payload)
	}
}

// pingLoop держит соединение живым; WriteControl можно вызывать параллельно с записью
func (s *WSServer) pingLoop(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				client.Close()
				return
			}
		case <-client.Done():
			return
		}
	}
}
