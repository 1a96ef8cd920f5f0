// Package chatlistener implements a single cooperative poll pump over a
// PlatformClient, bounded message dedup, and sequential handler fan-out.
package chatlistener

import (
	"container/list"
	"context"
	"sync"
	"time"

	"powerbot/internal/logging"
	"powerbot/internal/platformclient"
)

const dedupCapacity = 1024

// Handler processes one fresh message. A returned error is logged and
// swallowed; it never breaks the pump.
type Handler func(ctx context.Context, msg platformclient.Message) error

// Stats is the snapshot stats() exposes.
type Stats struct {
	ProcessedMessagesCount int
	PollIntervalMS         int
	IsRunning              bool
}

// Listener pumps messages from a single chat, deduplicating by message id
// over a bounded LRU set and fanning each fresh message out to every
// handler, in registration order, on the pump's own goroutine.
type Listener struct {
	client   platformclient.Client
	chatID   string
	handlers []Handler

	minPollIntervalMS int

	mu        sync.Mutex
	dedupList *list.List
	dedupSet  map[string]*list.Element
	processed int
	lastDelay int
	running   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Listener for chatID. minPollIntervalMS lower-bounds the
// server-suggested next delay.
func New(client platformclient.Client, chatID string, minPollIntervalMS int, handlers ...Handler) *Listener {
	return &Listener{
		client:            client,
		chatID:            chatID,
		handlers:          handlers,
		minPollIntervalMS: minPollIntervalMS,
		dedupList:         list.New(),
		dedupSet:          make(map[string]*list.Element),
		lastDelay:         minPollIntervalMS,
	}
}

// Start launches the pump goroutine. Calling Start twice on a running
// Listener is a no-op.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	pumpCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.mu.Unlock()

	go l.pump(pumpCtx)
}

// Stop cancels the pump and waits for the in-flight iteration to finish.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done
}

// Stats returns the current {processed_messages_count, poll_interval_ms,
// is_running} snapshot.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		ProcessedMessagesCount: l.processed,
		PollIntervalMS:         l.lastDelay,
		IsRunning:              l.running,
	}
}

func (l *Listener) pump(ctx context.Context) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	log := logging.For("chatlistener")
	pageToken := ""

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, nextToken, delayMS, err := l.client.FetchMessages(ctx, l.chatID, pageToken)
		if err != nil {
			log.Warn().Err(err).Msg("fetch_messages failed")
			delayMS = l.minPollIntervalMS
		} else {
			pageToken = nextToken
			if delayMS < l.minPollIntervalMS {
				delayMS = l.minPollIntervalMS
			}
			l.dispatch(ctx, messages)
		}

		l.mu.Lock()
		l.lastDelay = delayMS
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(delayMS) * time.Millisecond):
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, messages []platformclient.Message) {
	log := logging.For("chatlistener")
	for _, msg := range messages {
		if l.seen(msg.ID) {
			continue
		}
		l.mu.Lock()
		l.processed++
		l.mu.Unlock()

		for _, h := range l.handlers {
			if err := h(ctx, msg); err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("handler error")
			}
		}
	}
}

// seen reports whether id has already been processed, recording it in the
// LRU-bounded dedup set if not.
func (l *Listener) seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.dedupSet[id]; ok {
		l.dedupList.MoveToFront(elem)
		return true
	}

	elem := l.dedupList.PushFront(id)
	l.dedupSet[id] = elem

	if l.dedupList.Len() > dedupCapacity {
		oldest := l.dedupList.Back()
		l.dedupList.Remove(oldest)
		delete(l.dedupSet, oldest.Value.(string))
	}
	return false
}
