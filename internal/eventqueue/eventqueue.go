// Package eventqueue implements the cross-process event queue: a JSON
// array file that producers append to and a consumer drains from the
// head, up to N items at a time. Concurrent producers can overwrite each
// other's append; this is tolerated since these events are advisory
// notifications, never the source of truth for balances.
package eventqueue

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"powerbot/internal/apperr"
)

// Queue is a JSON-array-backed file at path (the economy bot's external
// events file, shared with whatever platform-side process consumes it).
type Queue struct {
	path string
}

// New returns a Queue bound to path.
func New(path string) *Queue {
	return &Queue{path: path}
}

// Envelope wraps a producer's payload with an id a consumer can use to
// dedupe or log, and the time it was queued.
type Envelope struct {
	ID       string          `json:"id"`
	QueuedAt time.Time       `json:"queued_at"`
	Payload  json.RawMessage `json:"payload"`
}

// PushPayload wraps payload in an Envelope with a fresh id and pushes it.
func (q *Queue) PushPayload(payload json.RawMessage) (string, error) {
	env := Envelope{ID: uuid.NewString(), QueuedAt: time.Now().UTC(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return "", apperr.Wrap(apperr.Storage, "marshal event envelope", err)
	}
	return env.ID, q.Push(data)
}

// Push loads the current array, appends event, and writes it back. No
// locking is attempted: two producers racing here may clobber each
// other's write, a bounded and accepted loss for an advisory queue.
func (q *Queue) Push(event json.RawMessage) error {
	events, err := q.readAll()
	if err != nil {
		return err
	}
	events = append(events, event)
	return q.writeAll(events)
}

// PopUpTo removes and returns up to n items from the head of the queue,
// writing the remainder back (or removing the file if none remain).
// Each returned item is the raw JSON previously passed to Push or the
// Envelope produced by PushPayload.
func (q *Queue) PopUpTo(n int) ([]json.RawMessage, error) {
	events, err := q.readAll()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	if n > len(events) {
		n = len(events)
	}
	taken := events[:n]
	remaining := events[n:]

	if len(remaining) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.Storage, "remove drained event queue", err)
		}
		return taken, nil
	}
	if err := q.writeAll(remaining); err != nil {
		return nil, err
	}
	return taken, nil
}

func (q *Queue) readAll() ([]json.RawMessage, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "read event queue", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var events []json.RawMessage
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "parse event queue", err)
	}
	return events, nil
}

func (q *Queue) writeAll(events []json.RawMessage) error {
	data, err := json.Marshal(events)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "marshal event queue", err)
	}
	if err := os.WriteFile(q.path, data, 0o644); err != nil {
		return apperr.Wrap(apperr.Storage, "write event queue", err)
	}
	return nil
}
