package broadcasthub

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"powerbot/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	// The hub is LAN-local and unauthenticated by design; any
	// origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a WebSocket connection and runs the
// resulting Peer until it disconnects. Intended to be mounted at the
// hub's listen address as its own handler, not behind the web worker's
// authenticated routes.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.For("broadcasthub").Warn().Err(err).Msg("upgrade failed")
			return
		}
		peer := NewPeer(hub, conn)
		peer.Run()
	}
}

// HealthHandler reports the current peer count as JSON.
func HealthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"peer_count": hub.PeerCount()})
	}
}
