package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// AppendProvenance writes audit entries. Entries are never updated.
func AppendProvenance(ctx context.Context, db *gorm.DB, entries ...domain.ProvenanceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ts := now()
	for i := range entries {
		entries[i].ID = uuid.NewString()
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = ts
		}
	}
	return db.WithContext(ctx).Create(&entries).Error
}

// ListProvenance returns a contact's audit trail, newest first.
func ListProvenance(ctx context.Context, db *gorm.DB, contactID string, limit int) ([]domain.ProvenanceEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.ProvenanceEntry
	err := db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MergeOrigin returns the contact an identity was merged from the last
// time it moved into contactID, or "" if it never arrived by merge.
func MergeOrigin(ctx context.Context, db *gorm.DB, contactID, identityID string) (string, error) {
	var e domain.ProvenanceEntry
	err := db.WithContext(ctx).
		Where("contact_id = ? AND identity_id = ? AND kind = ?", contactID, identityID, domain.ProvenanceMerge).
		Order("created_at DESC, id DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if e.OtherContactID == nil {
		return "", nil
	}
	return *e.OtherContactID, nil
}
