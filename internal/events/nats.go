package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the subset of *nats.Conn used by NATSNotifier.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSNotifier publishes events to <prefix>.<topic suffix>, e.g.
// reevit.checkout.succeeded. The event id goes in the Nats-Msg-Id header so
// JetStream streams can deduplicate.
type NATSNotifier struct {
	Conn   Publisher
	Prefix string
}

// Notify implements Notifier.
func (n NATSNotifier) Notify(_ context.Context, event Event) error {
	if n.Conn == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(n.Subject(event.Topic))
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Header.Set("Reevit-Session", event.SessionID)
	msg.Data = data
	if err := n.Conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Subject maps a topic to its NATS subject.
func (n NATSNotifier) Subject(topic string) string {
	suffix := strings.TrimPrefix(topic, "checkout.")
	prefix := strings.Trim(strings.TrimSpace(n.Prefix), ".")
	if prefix == "" {
		return topic
	}
	return prefix + "." + suffix
}

// ConnectNATS dials the server with reconnect handling that logs through logger.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("reevit-checkout"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats_disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats_reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("nats_error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats_connected")
	return conn, nil
}

// LogNotifier writes each event as a structured log line.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, event Event) error {
	l.Logger.Info().
		Str("event_id", event.ID).
		Str("topic", event.Topic).
		Str("session_id", event.SessionID).
		RawJSON("payload", event.Payload).
		Msg("checkout_event")
	return nil
}
