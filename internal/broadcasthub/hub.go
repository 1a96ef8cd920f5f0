// Package broadcasthub implements a single-process, single-node WebSocket
// fan-out, generalized from a per-user authenticated hub feeding a chat
// engine to an unauthenticated per-peer hub where every connected LAN
// client is equal.
package broadcasthub

import (
	"sync"

	"powerbot/internal/logging"
)

// Hub tracks every connected peer and rebroadcasts incoming frames to all
// of them. Registration and broadcast are synchronous under a single
// mutex: this hub has no per-user cancellation state to serialize, so a
// goroutine-and-channels event loop would buy nothing.
type Hub struct {
	mu    sync.RWMutex
	peers map[*Peer]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[*Peer]struct{})}
}

// Register adds peer to the broadcast set.
func (h *Hub) Register(peer *Peer) {
	h.mu.Lock()
	h.peers[peer] = struct{}{}
	h.mu.Unlock()
	logging.For("broadcasthub").Info().Int("peer_count", h.PeerCount()).Msg("peer connected")
}

// Unregister removes peer from the broadcast set, if present.
func (h *Hub) Unregister(peer *Peer) {
	h.mu.Lock()
	delete(h.peers, peer)
	h.mu.Unlock()
	logging.For("broadcasthub").Info().Int("peer_count", h.PeerCount()).Msg("peer disconnected")
}

// Broadcast sends message to every registered peer except exclude (pass
// nil to exclude none). Peers whose write fails are removed from the set;
// delivery is best-effort, — no queueing, no retry.
func (h *Hub) Broadcast(message []byte, exclude *Peer) {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		if p != exclude {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	var dead []*Peer
	for _, p := range targets {
		if err := p.writeText(message); err != nil {
			dead = append(dead, p)
		}
	}
	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, p := range dead {
		delete(h.peers, p)
	}
	h.mu.Unlock()
}

// PeerCount reports how many peers are currently connected, for use by
// the health endpoint.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
