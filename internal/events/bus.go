package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the envelope published for every checkout lifecycle change.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	SessionID  string          `json:"session_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus stamps events and fans them out to its notifiers. A nil Bus is valid
// and drops everything.
type Bus struct {
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit builds an event and dispatches it to all notifiers. Notifier failures
// are joined; every notifier is attempted.
func (b *Bus) Emit(ctx context.Context, topic, sessionID string, payload any) (Event, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return Event{}, errors.New("events: session id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b != nil && b.Now != nil {
		now = b.Now
	}
	ev := Event{
		ID:         ulid.Make().String(),
		Topic:      topic,
		SessionID:  sessionID,
		OccurredAt: now().UTC(),
		Payload:    encoded,
	}
	if b == nil {
		return ev, nil
	}
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

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		return encodePayload(json.RawMessage(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
