package transport

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + writeWait
)

// PeerParam is the query parameter a client uses to name itself. Clients
// without one get a random id.
const PeerParam = "peer"

// WebSocketServer upgrades HTTP requests into hub links. Each binary
// message carries exactly one frame.
type WebSocketServer struct {
	hub      *Hub
	upgrader websocket.Upgrader
	maxFrame int64
	logger   log.Log
}

func NewWebSocketServer(hub *Hub, logger log.Log) *WebSocketServer {
	return &WebSocketServer{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxFrame: DefaultMaxFrameSize,
		logger:   logger.Named("websocket"),
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", log.Error(err))
		return
	}
	peer := r.URL.Query().Get(PeerParam)
	if peer == "" {
		peer = uuid.NewString()
	}
	l := newWSLink(peer, conn)
	if err := s.hub.Attach(l); err != nil {
		return
	}
	go l.readLoop(s.hub, s.maxFrame, true, s.logger)
	go l.pingLoop()
}

// DialWebSocket connects to a WebSocketServer at addr as peer and attaches
// the server to hub under the name remote.
func DialWebSocket(ctx context.Context, addr, peer, remote string, hub *Hub, logger log.Log) (Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr+"?"+PeerParam+"="+url.QueryEscape(peer), nil)
	if err != nil {
		return nil, err
	}
	l := newWSLink(remote, conn)
	if err := hub.Attach(l); err != nil {
		return nil, err
	}
	go l.readLoop(hub, DefaultMaxFrameSize, false, logger.Named("websocket"))
	return l, nil
}

type wsLink struct {
	peer string
	conn *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newWSLink(peer string, conn *websocket.Conn) *wsLink {
	return &wsLink{peer: peer, conn: conn, done: make(chan struct{})}
}

func (l *wsLink) Peer() string { return l.peer }

func (l *wsLink) Write(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *wsLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

// readLoop runs until the connection fails. The server side expects pongs
// to its pings within pongWait.
func (l *wsLink) readLoop(hub *Hub, limit int64, keepalive bool, logger log.Log) {
	defer hub.Detach(l)
	l.conn.SetReadLimit(limit)
	if keepalive {
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
		l.conn.SetPongHandler(func(string) error {
			return l.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		typ, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", log.String("peer", l.peer), log.Error(err))
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		hub.Deliver(l.peer, data)
	}
}

func (l *wsLink) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			l.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-l.done:
			return
		}
	}
}
