package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

func orderedFilters(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC, id ASC") }

// CreateFeed inserts a feed and its filters. Filter positions follow the
// slice order.
func CreateFeed(ctx context.Context, db *gorm.DB, f domain.Feed) (*domain.Feed, error) {
	ts := now()
	f.ID = uuid.NewString()
	f.Version = 1
	f.CreatedAt = ts
	f.UpdatedAt = ts
	filters := f.Filters
	f.Filters = nil
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := create(tx, &f); err != nil {
			return err
		}
		var err error
		f.Filters, err = insertFilters(tx, f.ID, filters)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func insertFilters(tx *gorm.DB, feedID string, filters []domain.SmartFilter) ([]domain.SmartFilter, error) {
	if len(filters) == 0 {
		return []domain.SmartFilter{}, nil
	}
	ts := now()
	out := make([]domain.SmartFilter, len(filters))
	for i, sf := range filters {
		sf.ID = uuid.NewString()
		sf.FeedID = feedID
		sf.Position = i
		sf.CreatedAt = ts
		out[i] = sf
	}
	if err := tx.Create(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetFeed fetches a feed with its filters in display order.
func GetFeed(ctx context.Context, db *gorm.DB, id string) (*domain.Feed, error) {
	var f domain.Feed
	err := db.WithContext(ctx).Preload("Filters", orderedFilters).Where("id = ?", id).First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFeedByName fetches a feed by its unique name.
func GetFeedByName(ctx context.Context, db *gorm.DB, name string) (*domain.Feed, error) {
	var f domain.Feed
	err := db.WithContext(ctx).Preload("Filters", orderedFilters).Where("name = ?", name).First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFeeds returns every feed with filters, ordered by name.
func ListFeeds(ctx context.Context, db *gorm.DB) ([]domain.Feed, error) {
	var out []domain.Feed
	err := db.WithContext(ctx).Preload("Filters", orderedFilters).Order("name ASC").Find(&out).Error
	return out, err
}

// BumpFeed increments a feed's version if it still has the expected one.
// Renaming onto a taken name yields ErrDuplicate.
func BumpFeed(ctx context.Context, db *gorm.DB, id string, version int64, updates map[string]any) error {
	cols := map[string]any{"version": gorm.Expr("version + 1"), "updated_at": now()}
	for k, v := range updates {
		cols[k] = v
	}
	res := db.WithContext(ctx).Model(&domain.Feed{}).
		Where("id = ? AND version = ?", id, version).
		Updates(cols)
	if isUniqueViolation(res.Error) {
		return ErrDuplicate
	}
	return expectOne(res)
}

// ReplaceFilters swaps a feed's filter list under optimistic version
// control, applying feed column updates in the same transaction, and
// returns the stored filters.
func ReplaceFilters(ctx context.Context, db *gorm.DB, feedID string, version int64, updates map[string]any, filters []domain.SmartFilter) ([]domain.SmartFilter, error) {
	var out []domain.SmartFilter
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := BumpFeed(ctx, tx, feedID, version, updates); err != nil {
			return err
		}
		if err := tx.Where("feed_id = ?", feedID).Delete(&domain.SmartFilter{}).Error; err != nil {
			return err
		}
		var err error
		out, err = insertFilters(tx, feedID, filters)
		return err
	})
	return out, err
}

// SetFilterPositions renumbers filters to follow order, which must list
// every filter ID of the feed exactly once.
func SetFilterPositions(ctx context.Context, db *gorm.DB, feedID string, version int64, order []string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := BumpFeed(ctx, tx, feedID, version, nil); err != nil {
			return err
		}
		for pos, id := range order {
			res := tx.Model(&domain.SmartFilter{}).
				Where("id = ? AND feed_id = ?", id, feedID).
				Update("position", pos)
			if err := expectOne(res); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFeed removes a feed and its filters.
func DeleteFeed(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("feed_id = ?", id).Delete(&domain.SmartFilter{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Feed{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
