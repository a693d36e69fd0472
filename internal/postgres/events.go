package postgres

import (
	"context"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// EventStore implements the idempotency gate on a unique-constrained table.
// Providers deliver at-least-once with arbitrary duplication; the unique
// index on event_id is what makes concurrent deliveries of one event race
// safely: exactly one insert wins.
type EventStore struct {
	db DB
}

var _ domain.EventStore = (*EventStore)(nil)

func NewEventStore(db DB) *EventStore {
	return &EventStore{db: db}
}

// HasProcessed reports whether the event id was already applied.
func (s *EventStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)",
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, domain.Internal(err, "events.has_processed", "failed to check processed event")
	}
	return exists, nil
}

// MarkProcessed records the event id, returning false when another delivery
// got there first.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"INSERT INTO processed_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING",
		eventID,
	)
	if err != nil {
		return false, domain.Internal(err, "events.mark_processed", "failed to record processed event")
	}
	return tag.RowsAffected() == 1, nil
}
