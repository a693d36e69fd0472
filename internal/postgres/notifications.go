package postgres

import (
	"context"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// NotificationStore archives raw App Store server notifications. Apple's
// payloads carry signed blobs this service does not decode, so the raw body
// is kept for diagnostics and later replay.
type NotificationStore struct {
	db DB
}

var _ domain.NotificationStore = (*NotificationStore)(nil)

func NewNotificationStore(db DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) ArchiveAppStoreNotification(ctx context.Context, payload []byte) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO appstore_notifications (payload) VALUES ($1)",
		payload,
	)
	if err != nil {
		return domain.Internal(err, "notifications.archive", "failed to archive notification")
	}
	return nil
}
