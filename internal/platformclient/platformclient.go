// Package platformclient defines the boundary contract between PowerBot's
// stream watcher / chat listener and whatever third-party chat/video API
// a deployment wires in. No concrete platform SDK integration lives here
// by design — only the interface.
package platformclient

import "context"

// Broadcast describes the single active broadcast list_active_broadcast
// returns, or is the zero value when none is live.
type Broadcast struct {
	VideoID string
	Title   string
	URL     string
}

// Message is one chat message returned by fetch_messages.
type Message struct {
	ID         string
	AuthorID   string
	AuthorName string
	Text       string
}

// Client is the platform boundary: list_active_broadcast(),
// fetch_messages(since, chat_id), post_message(chat_id, text), and
// get_channel_avatar(channel_id).
type Client interface {
	// ListActiveBroadcast returns the currently live broadcasts, if any.
	// An empty slice (not an error) means nothing is live.
	ListActiveBroadcast(ctx context.Context) ([]Broadcast, error)

	// FetchMessages returns messages newer than the opaque page token
	// since (empty string means "from the start of the chat"), plus the
	// server-suggested next page token and poll delay.
	FetchMessages(ctx context.Context, chatID, since string) (messages []Message, nextPageToken string, nextDelayMS int, err error)

	// PostMessage sends text to chatID.
	PostMessage(ctx context.Context, chatID, text string) error

	// GetChannelAvatar returns a URL or file path for channelID's avatar.
	GetChannelAvatar(ctx context.Context, channelID string) (string, error)
}

// noopClient reports nothing live and no messages. It lets chat_watcher
// and chat_bot run (and be demoed end to end) before a deployment wires
// in a real platform SDK.
type noopClient struct{}

// NewNoopClient returns a Client that never reports a live broadcast or
// a new message. Wire a concrete Client in its place once a platform
// integration exists.
func NewNoopClient() Client { return noopClient{} }

func (noopClient) ListActiveBroadcast(ctx context.Context) ([]Broadcast, error) { return nil, nil }

func (noopClient) FetchMessages(ctx context.Context, chatID, since string) ([]Message, string, int, error) {
	return nil, since, 5000, nil
}

func (noopClient) PostMessage(ctx context.Context, chatID, text string) error { return nil }

func (noopClient) GetChannelAvatar(ctx context.Context, channelID string) (string, error) {
	return "", nil
}
