package broadcasthub

import (
	"context"

	"github.com/gorilla/websocket"

	"powerbot/internal/apperr"
)

// Publish opens a short-lived client connection to a hub listening at
// addr, sends one JSON frame, and closes — for a producer that wants to
// post an update without holding a persistent connection open.
func Publish(ctx context.Context, addr string, payload any) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "dial broadcast hub", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(payload); err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "publish to broadcast hub", err)
	}
	return nil
}
