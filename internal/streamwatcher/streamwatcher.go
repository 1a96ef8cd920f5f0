// Package streamwatcher implements a single remote poll per detect(),
// persisted StreamState, and the is_live/video_id transition table that
// decides whether the chat listener should start or stop.
package streamwatcher

import (
	"context"
	"time"

	"powerbot/internal/configstore"
	"powerbot/internal/logging"
	"powerbot/internal/platformclient"
)

// StreamState is the single-row cache persisted to disk.
type StreamState struct {
	IsLive           bool      `json:"is_live"`
	VideoID          string    `json:"video_id"`
	Title            string    `json:"title"`
	URL              string    `json:"url"`
	LastChecked      time.Time `json:"last_checked"`
	LastStatusChange time.Time `json:"last_status_change"`
}

// Watcher polls a PlatformClient for the active broadcast and persists
// the resulting StreamState.
type Watcher struct {
	client platformclient.Client
	store  *configstore.Store
}

// New returns a Watcher persisting state to statePath (:
// youtube_bot/active_stream.json).
func New(client platformclient.Client, statePath string) *Watcher {
	return &Watcher{client: client, store: configstore.New(statePath)}
}

// Detect performs one remote call and applies transition
// table, persisting the new state and returning it along with whether it
// changed.
func (w *Watcher) Detect(ctx context.Context) (state StreamState, changed bool, err error) {
	var prev StreamState
	if loadErr := w.store.Load(&prev); loadErr != nil {
		return StreamState{}, false, loadErr
	}

	broadcasts, err := w.client.ListActiveBroadcast(ctx)
	if err != nil {
		return StreamState{}, false, err
	}

	now := time.Now().UTC()
	next := prev
	next.LastChecked = now

	switch {
	case len(broadcasts) == 0:
		changed = prev.IsLive
		next.IsLive = false
		next.VideoID = ""
		next.Title = ""
		next.URL = ""
	default:
		b := broadcasts[0]
		next.IsLive = true
		next.VideoID = b.VideoID
		next.Title = b.Title
		next.URL = b.URL
		changed = !prev.IsLive || prev.VideoID != b.VideoID
	}

	if changed {
		next.LastStatusChange = now
	}

	if err := w.store.Save(&next); err != nil {
		return StreamState{}, false, err
	}

	if changed {
		logging.For("streamwatcher").Info().
			Bool("is_live", next.IsLive).
			Str("video_id", next.VideoID).
			Msg("stream state changed")
	}

	return next, changed, nil
}
