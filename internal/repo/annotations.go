package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// GetAnnotation returns the snapshot of a thread, or (nil, nil) if the
// thread was never annotated.
func GetAnnotation(ctx context.Context, db *gorm.DB, threadID string) (*domain.AnnotationSnapshot, error) {
	a, err := first[domain.AnnotationSnapshot](db.WithContext(ctx), "thread_id = ?", threadID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return a, err
}

// GetAnnotations returns snapshots keyed by thread ID.
func GetAnnotations(ctx context.Context, db *gorm.DB, threadIDs []string) (map[string]*domain.AnnotationSnapshot, error) {
	out := make(map[string]*domain.AnnotationSnapshot, len(threadIDs))
	if len(threadIDs) == 0 {
		return out, nil
	}
	var rows []domain.AnnotationSnapshot
	if err := db.WithContext(ctx).Where("thread_id IN ?", threadIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ThreadID] = &rows[i]
	}
	return out, nil
}

// SaveAnnotation stores a as the thread's snapshot unless the stored one
// was computed for a later version. It reports whether a was stored.
func SaveAnnotation(ctx context.Context, db *gorm.DB, a domain.AnnotationSnapshot) (bool, error) {
	db = db.WithContext(ctx)
	ts := now()
	a.UpdatedAt = ts

	cur, err := GetAnnotation(ctx, db, a.ThreadID)
	if err != nil {
		return false, err
	}
	if cur == nil {
		a.ID = uuid.NewString()
		a.Revision = 1
		a.CreatedAt = ts
		if err := create(db, &a); err != nil {
			if errors.Is(err, ErrDuplicate) {
				// Lost a race with another writer; let the caller retry.
				return false, ErrStaleVersion
			}
			return false, err
		}
		return true, nil
	}
	if cur.ComputedForVersion > a.ComputedForVersion {
		return false, nil
	}
	a.ID = cur.ID
	a.Revision = cur.Revision + 1
	a.CreatedAt = cur.CreatedAt
	res := db.Model(&domain.AnnotationSnapshot{}).
		Where("id = ? AND revision = ?", cur.ID, cur.Revision).
		Select("sentiment", "intent", "tasks", "deadlines", "confidence",
			"suggested_tags", "suggested_priority", "computed_for_version", "revision", "updated_at").
		Updates(&a)
	if err := expectOne(res); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAnnotation drops a thread's snapshot.
func DeleteAnnotation(ctx context.Context, db *gorm.DB, threadID string) error {
	return db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&domain.AnnotationSnapshot{}).Error
}
