package repository

import (
	"context"
	"fmt"
	"time"

	"booking-payments/internal/domain/billing"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&billing.WebhookEvent{}).
		Where("provider_event_id = ?", eventID).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("lookup webhook event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed is written only after every handler of the event succeeded.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_event_id"}}, DoNothing: true}).
		Create(&billing.WebhookEvent{
			ProviderEventID: eventID,
			EventType:       eventType,
			ProcessedAt:     time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("record webhook event %s: %w", eventID, err)
	}
	return nil
}
