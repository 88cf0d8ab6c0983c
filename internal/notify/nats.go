package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/telemetry"
)

const (
	eventSubject  = "settlement.events"
	notifySubject = "settlement.notify"
)

// NATSNotifier publishes settlement events and party notifications as JSON
// messages on NATS subjects.
type NATSNotifier struct {
	conn *nats.Conn
	log  *slog.Logger
}

// NewNATSNotifier connects to the NATS server at url.
func NewNATSNotifier(url string) (*NATSNotifier, error) {
	log := telemetry.Component("notify")
	opts := []nats.Option{
		nats.Name("p2p-exchange"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSNotifier{conn: conn, log: log}, nil
}

// partyNotification is the wire format for party-directed messages.
type partyNotification struct {
	SettlementID string `json:"settlement_id"`
	Party        string `json:"party"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

// NotifyParties publishes one message per party on settlement.notify.<party>.
func (n *NATSNotifier) NotifyParties(_ context.Context, s *domain.Settlement, message string) error {
	for _, party := range []string{s.PartyA, s.PartyB} {
		payload := partyNotification{
			SettlementID: s.SettlementID,
			Party:        party,
			Status:       string(s.Status),
			Message:      message,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		if err := n.conn.Publish(notifySubject+"."+party, data); err != nil {
			return fmt.Errorf("failed to publish notification: %w", err)
		}
	}
	return nil
}

// PublishEvent broadcasts a settlement state change on settlement.events.
func (n *NATSNotifier) PublishEvent(_ context.Context, event *domain.SettlementEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.conn.Publish(eventSubject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() {
	if err := n.conn.Drain(); err != nil {
		n.log.Warn("failed to drain NATS connection", "error", err)
	}
}
