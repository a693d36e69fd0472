// Package webhook contains the HTTP controllers for the billing providers.
// Each controller verifies its provider's signature scheme and normalizes the
// payload; the reconciliation pipeline from there on is shared.
package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/mosaicstories/mosaic/internal/analytics"
	"github.com/mosaicstories/mosaic/internal/billing"
	"github.com/mosaicstories/mosaic/internal/domain"
	"github.com/mosaicstories/mosaic/internal/telemetry"
)

// Processor runs the shared pipeline for a normalized billing event:
// idempotency lookup, user resolution, reconciliation, atomic ledger write,
// processed-event record, then post-commit analytics.
type Processor struct {
	Ledger    domain.LedgerStore
	Events    domain.EventStore
	Engine    *billing.Engine
	Analytics analytics.Publisher
}

// Outcome describes what the pipeline did with an event. Every outcome except
// a store failure is acknowledged with 200 so the provider stops retrying.
type Outcome int

const (
	// OutcomeApplied means the ledger row was mutated.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate means the event id was already processed.
	OutcomeDuplicate
	// OutcomeNoUser means no ledger row matched the event's identity.
	OutcomeNoUser
	// OutcomeNoOp means the event reconciled to an empty mutation.
	OutcomeNoOp
	// OutcomeFailed means a store operation failed; the accompanying error
	// maps to 500 so the provider retries.
	OutcomeFailed
)

// Process applies one normalized event to the ledger. The returned error is
// always a store failure; the caller maps it to 500 so the provider retries.
//
// The processed-event record is written strictly after the ledger write: a
// crash between the two replays the event, and replays are safe because the
// mutation semantics are idempotent (monotonic expiry, guarded credits).
func (p *Processor) Process(ctx context.Context, logger *slog.Logger, ev *billing.Event) (Outcome, error) {
	start := time.Now()
	defer func() {
		if telemetry.Business != nil {
			telemetry.Business.WebhookLatency.WithLabelValues(string(ev.Provider), ev.RawType).Observe(time.Since(start).Seconds())
		}
	}()

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(string(ev.Provider), ev.RawType).Inc()
	}

	// Idempotency gate. Events without an id (some sandbox deliveries) skip
	// the gate and rely on the mutation semantics alone.
	if ev.EventID != "" {
		seen, err := p.Events.HasProcessed(ctx, ev.EventID)
		if err != nil {
			return p.fail(logger, ev, "idempotency_lookup", err)
		}
		if seen {
			logger.Info("skipping already processed event",
				slog.String("provider", string(ev.Provider)),
				slog.String("event_id", ev.EventID))
			if telemetry.Business != nil {
				telemetry.Business.WebhookDuplicate.WithLabelValues(string(ev.Provider)).Inc()
			}
			return OutcomeDuplicate, nil
		}
	}

	if ev.Identity.IsZero() {
		logger.Warn("event carries no user identity",
			slog.String("provider", string(ev.Provider)),
			slog.String("event_type", ev.RawType),
			slog.String("event_id", ev.EventID))
		return OutcomeNoUser, nil
	}

	user, err := p.Ledger.FindUserByIdentity(ctx, ev.Identity)
	if err != nil {
		return p.fail(logger, ev, "user_lookup", err)
	}
	if user == nil {
		// Expected for test-store purchases and deleted accounts. The event
		// is acknowledged but not marked processed, so a later manual replay
		// can still land it.
		logger.Warn("no user matched event identity",
			slog.String("provider", string(ev.Provider)),
			slog.String("event_type", ev.RawType),
			slog.String("event_id", ev.EventID))
		return OutcomeNoUser, nil
	}

	mutation := p.Engine.Reconcile(user, ev)
	if mutation.IsEmpty() {
		if err := p.markProcessed(ctx, ev); err != nil {
			return p.fail(logger, ev, "mark_processed", err)
		}
		logger.Info("event reconciled to no-op",
			slog.String("provider", string(ev.Provider)),
			slog.String("event_type", ev.RawType),
			slog.String("user_id", user.ID.String()))
		return OutcomeNoOp, nil
	}

	if err := p.Ledger.ApplyLedgerMutation(ctx, user.ID, mutation); err != nil {
		return p.fail(logger, ev, "ledger_write", err)
	}

	if err := p.markProcessed(ctx, ev); err != nil {
		// The ledger write committed; a retry replays the event, which the
		// mutation semantics absorb.
		return p.fail(logger, ev, "mark_processed", err)
	}

	p.record(ev, mutation)
	if p.Analytics != nil {
		p.Analytics.BillingEvent(*ev, user.ID.String())
	}

	logger.Info("applied billing event",
		slog.String("provider", string(ev.Provider)),
		slog.String("event_type", ev.RawType),
		slog.String("kind", ev.Kind.String()),
		slog.String("event_id", ev.EventID),
		slog.String("user_id", user.ID.String()))
	return OutcomeApplied, nil
}

func (p *Processor) markProcessed(ctx context.Context, ev *billing.Event) error {
	if ev.EventID == "" {
		return nil
	}
	_, err := p.Events.MarkProcessed(ctx, ev.EventID)
	return err
}

func (p *Processor) fail(logger *slog.Logger, ev *billing.Event, stage string, err error) (Outcome, error) {
	logger.Error("webhook processing failed",
		slog.String("provider", string(ev.Provider)),
		slog.String("event_type", ev.RawType),
		slog.String("event_id", ev.EventID),
		slog.String("stage", stage),
		slog.String("error", err.Error()))
	if telemetry.Business != nil {
		telemetry.Business.WebhookFailed.WithLabelValues(string(ev.Provider), ev.RawType, stage).Inc()
	}
	return OutcomeFailed, domain.Internal(err, "webhook.process", "failed to process billing event")
}

// record updates the business counters for an applied mutation.
func (p *Processor) record(ev *billing.Event, m domain.LedgerMutation) {
	if telemetry.Business == nil {
		return
	}
	telemetry.Business.WebhookProcessed.WithLabelValues(string(ev.Provider), ev.RawType).Inc()
	if m.SetPremium != nil {
		if *m.SetPremium {
			telemetry.Business.PremiumGranted.WithLabelValues(string(ev.Provider), ev.RawType).Inc()
		} else {
			telemetry.Business.PremiumRevoked.WithLabelValues(string(ev.Provider), ev.RawType).Inc()
		}
	}
	if m.CreditDelta > 0 {
		telemetry.Business.CreditsGranted.WithLabelValues(string(ev.Provider), "consumable").Add(float64(m.CreditDelta))
	}
	if m.GuardedCredit > 0 {
		// Counted at grant attempt; the guard may still suppress it in the
		// store on a re-delivered subscription id.
		telemetry.Business.CreditsGranted.WithLabelValues(string(ev.Provider), "subscription_bonus").Add(float64(m.GuardedCredit))
	}
}
