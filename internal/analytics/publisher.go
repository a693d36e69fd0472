// Package analytics publishes billing events to NATS for downstream
// consumers (dashboards, engagement pipelines). Publishing is best-effort
// and happens only after the ledger write committed; a publish failure never
// fails the webhook.
package analytics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mosaicstories/mosaic/internal/billing"
)

// Publisher records billing events that were applied to the ledger.
type Publisher interface {
	BillingEvent(ev billing.Event, userID string)
	Close()
}

// billingEventMessage is the wire shape published to billing.events.<provider>.
type billingEventMessage struct {
	Provider    string     `json:"provider"`
	EventID     string     `json:"event_id"`
	Kind        string     `json:"kind"`
	RawType     string     `json:"raw_type"`
	UserID      string     `json:"user_id"`
	ProductID   string     `json:"product_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreditGrant int32      `json:"credit_grant,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

type natsPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to NATS and returns a publisher. The connection
// reconnects forever so a broker restart does not wedge the server.
func NewNATSPublisher(url string, logger *slog.Logger) (Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("mosaic-billing"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Analytics publisher connected", slog.String("url", url))
	return &natsPublisher{conn: conn, logger: logger}, nil
}

func (p *natsPublisher) BillingEvent(ev billing.Event, userID string) {
	msg := billingEventMessage{
		Provider:    string(ev.Provider),
		EventID:     ev.EventID,
		Kind:        ev.Kind.String(),
		RawType:     ev.RawType,
		UserID:      userID,
		ProductID:   ev.ProductID,
		ExpiresAt:   ev.ExpiresAt,
		CreditGrant: ev.CreditGrant,
		OccurredAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("Failed to marshal analytics event", slog.String("error", err.Error()))
		return
	}
	subject := "billing.events." + string(ev.Provider)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish analytics event",
			slog.String("subject", subject),
			slog.String("event_id", ev.EventID),
			slog.String("error", err.Error()))
	}
}

func (p *natsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Noop is the publisher used when NATS_URL is unset.
type Noop struct{}

func (Noop) BillingEvent(billing.Event, string) {}
func (Noop) Close()                             {}
