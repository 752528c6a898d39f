package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a change notification scoped to one session.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Session    string          `json:"session,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
	Origin     string          `json:"origin,omitempty"`
}

// Handler observes events delivered by the bus.
type Handler func(Event)

// Notifier forwards emitted events beyond the local process (e.g. redis).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus fans events out to local subscribers and configured notifiers.
type Bus struct {
	Notifiers []Notifier
	// Origin identifies this process so forwarded events are not replayed locally.
	Origin string
	Now    func() time.Time

	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

// NewBus constructs a bus with a random origin identifier.
func NewBus(notifiers ...Notifier) *Bus {
	return &Bus{Notifiers: notifiers, Origin: uuid.NewString()}
}

// Subscribe registers fn for every delivered event and returns a function
// that removes the subscription.
func (b *Bus) Subscribe(fn Handler) func() {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Emit records the event and dispatches it to all subscribers and notifiers.
// Notifier failures are joined into the returned error; local delivery always
// happens.
func (b *Bus) Emit(ctx context.Context, topic, session string, payload any) (Event, error) {
	if b == nil {
		return Event{}, errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		Session:    session,
		Payload:    encoded,
		OccurredAt: b.now(),
		Origin:     b.Origin,
	}
	b.Deliver(ev)

	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

// Deliver hands ev to local subscribers only.
func (b *Bus) Deliver(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *Bus) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}
