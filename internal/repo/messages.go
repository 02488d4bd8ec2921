package repo

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// CreateMessage inserts a message. Messages are never updated afterwards
// except for re-homing during thread merges.
func CreateMessage(ctx context.Context, db *gorm.DB, m domain.Message) (*domain.Message, error) {
	m.ID = uuid.NewString()
	m.CreatedAt = now()
	if err := create(db.WithContext(ctx), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	return first[domain.Message](db.WithContext(ctx), "id = ?", id)
}

// ListMessages returns a thread's messages in conversation order.
func ListMessages(ctx context.Context, db *gorm.DB, threadID string, includeInternal bool) ([]domain.Message, error) {
	q := db.WithContext(ctx).Where("thread_id = ?", threadID)
	if !includeInternal {
		q = q.Where("internal = ?", false)
	}
	var out []domain.Message
	err := q.Order("sent_at ASC, ordinal ASC").Find(&out).Error
	return out, err
}

// RecentMessages returns the last n customer-facing messages of a thread
// in conversation order.
func RecentMessages(ctx context.Context, db *gorm.DB, threadID string, n int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("thread_id = ? AND internal = ?", threadID, false).
		Order("sent_at DESC, ordinal DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// NextOrdinal returns the arrival ordinal for the next message of a thread.
func NextOrdinal(ctx context.Context, db *gorm.DB, threadID string) (int, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Message{}).Where("thread_id = ?", threadID).Count(&n).Error
	return int(n), err
}

// CountMessages counts every message across the given threads.
func CountMessages(ctx context.Context, db *gorm.DB, threadIDs []string) (int64, error) {
	var n int64
	if len(threadIDs) == 0 {
		return 0, nil
	}
	err := db.WithContext(ctx).Model(&domain.Message{}).Where("thread_id IN ?", threadIDs).Count(&n).Error
	return n, err
}

// RehomeMessage moves a message to a thread with a new ordinal.
func RehomeMessage(ctx context.Context, db *gorm.DB, id, threadID string, ordinal int) error {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"thread_id": threadID, "ordinal": ordinal})
	return expectOne(res)
}

// SearchableMessages pages messages of open threads by ID for rebuilding
// the search index.
func SearchableMessages(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Joins("JOIN threads t ON t.id = messages.thread_id").
		Where("t.status = ? AND messages.id > ?", domain.ThreadOpen, afterID).
		Order("messages.id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
