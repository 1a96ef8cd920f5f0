package broadcasthub

import (
	"bytes"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"powerbot/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var pingLiteral = []byte("ping")
var pongLiteral = []byte("pong")

// Peer is one connected WebSocket client. Every incoming frame other than
// the literal "ping" is rebroadcast to every peer in the hub, the sender
// included; "ping" is echoed back as "pong" and goes no further.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewPeer wraps an already-upgraded connection.
func NewPeer(hub *Hub, conn *websocket.Conn) *Peer {
	return &Peer{hub: hub, conn: conn}
}

// Run registers the peer, pumps inbound frames until the connection
// closes, and unregisters on return. Call this as the sole consumer of
// conn; it blocks until the peer disconnects.
func (p *Peer) Run() {
	p.hub.Register(p)
	defer func() {
		p.hub.Unregister(p)
		p.conn.Close()
	}()

	stopPing := p.startPingLoop()
	defer stopPing()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if bytes.Equal(bytes.TrimSpace(message), pingLiteral) {
			if err := p.writeText(pongLiteral); err != nil {
				return
			}
			continue
		}
		p.hub.Broadcast(message, nil)
	}
}

// startPingLoop keeps the connection alive with periodic control-frame
// pings, independent of the application-level text "ping"/"pong" frames
// handled above. Returns a function that stops the loop.
func (p *Peer) startPingLoop() func() {
	ticker := time.NewTicker(pingPeriod)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.writeMu.Lock()
				p.conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := p.conn.WriteMessage(websocket.PingMessage, nil)
				p.writeMu.Unlock()
				if err != nil {
					logging.For("broadcasthub").Warn().Err(err).Msg("ping failed")
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// writeText writes a single text frame, serialized against the hub's
// keepalive pings since a *websocket.Conn forbids concurrent writers.
func (p *Peer) writeText(message []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, message)
}
