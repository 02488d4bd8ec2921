package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// FindReceipt returns the receipt for a connector delivery, or (nil, nil)
// if the message was never accepted.
func FindReceipt(ctx context.Context, db *gorm.DB, ch domain.Channel, externalID string) (*domain.InboundReceipt, error) {
	r, err := first[domain.InboundReceipt](db.WithContext(ctx), "channel = ? AND external_message_id = ?", ch, externalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return r, err
}

// CreateReceipt records an accepted delivery. A redelivery yields
// ErrDuplicate.
func CreateReceipt(ctx context.Context, db *gorm.DB, r domain.InboundReceipt) (*domain.InboundReceipt, error) {
	r.ID = uuid.NewString()
	r.CreatedAt = now()
	if err := create(db.WithContext(ctx), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RetargetReceipts points receipts of merged threads at the survivor.
func RetargetReceipts(ctx context.Context, db *gorm.DB, fromThread, toThread, toContact string) error {
	return db.WithContext(ctx).Model(&domain.InboundReceipt{}).
		Where("thread_id = ?", fromThread).
		Updates(map[string]any{"thread_id": toThread, "contact_id": toContact}).Error
}

// RetargetReceiptContact rewrites the contact of receipts for moved threads.
func RetargetReceiptContact(ctx context.Context, db *gorm.DB, threadIDs []string, contactID string) error {
	if len(threadIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&domain.InboundReceipt{}).
		Where("thread_id IN ?", threadIDs).
		Update("contact_id", contactID).Error
}
