package billing

import "time"

// WebhookEvent records provider events that were fully processed so
// redeliveries can be acknowledged without running handlers again.
type WebhookEvent struct {
	ID              uint      `gorm:"primaryKey"`
	ProviderEventID string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_events_provider_event_id"`
	EventType       string    `gorm:"type:varchar(100);not null;index"`
	ProcessedAt     time.Time `gorm:"not null"`
}
