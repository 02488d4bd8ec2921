package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// CreateSuggestion records a pending merge suggestion.
func CreateSuggestion(ctx context.Context, db *gorm.DB, s domain.MergeSuggestion) (*domain.MergeSuggestion, error) {
	s.ID = uuid.NewString()
	s.Status = domain.SuggestionPending
	s.CreatedAt = now()
	if err := create(db.WithContext(ctx), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSuggestion fetches a suggestion by ID.
func GetSuggestion(ctx context.Context, db *gorm.DB, id string) (*domain.MergeSuggestion, error) {
	return first[domain.MergeSuggestion](db.WithContext(ctx), "id = ?", id)
}

// CountSuggestions counts suggestions in a status.
func CountSuggestions(ctx context.Context, db *gorm.DB, status domain.SuggestionStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.MergeSuggestion{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// ListSuggestionsPage returns suggestions in a status, most confident first.
func ListSuggestionsPage(ctx context.Context, db *gorm.DB, status domain.SuggestionStatus, offset, limit int) ([]domain.MergeSuggestion, error) {
	var out []domain.MergeSuggestion
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("confidence DESC, created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ResolveSuggestion moves a pending suggestion to a final status.
func ResolveSuggestion(ctx context.Context, db *gorm.DB, id string, status domain.SuggestionStatus, actor string) error {
	ts := now()
	res := db.WithContext(ctx).Model(&domain.MergeSuggestion{}).
		Where("id = ? AND status = ?", id, domain.SuggestionPending).
		Updates(map[string]any{"status": status, "resolved_by": actor, "resolved_at": &ts})
	return expectOne(res)
}

// RetargetSuggestions rewrites pending suggestions that reference from so
// they reference to instead, then supersedes any that now point a contact
// at itself.
func RetargetSuggestions(ctx context.Context, db *gorm.DB, from, to, actor string) error {
	db = db.WithContext(ctx)
	pending := func() *gorm.DB {
		return db.Model(&domain.MergeSuggestion{}).Where("status = ?", domain.SuggestionPending)
	}
	if err := pending().Where("contact_id = ?", from).Update("contact_id", to).Error; err != nil {
		return err
	}
	if err := pending().Where("candidate_id = ?", from).Update("candidate_id", to).Error; err != nil {
		return err
	}
	ts := now()
	return pending().Where("contact_id = candidate_id").
		Updates(map[string]any{"status": domain.SuggestionSuperseded, "resolved_by": actor, "resolved_at": &ts}).Error
}

// ListContactSuggestions returns pending suggestions that involve a
// contact on either side.
func ListContactSuggestions(ctx context.Context, db *gorm.DB, contactID string) ([]domain.MergeSuggestion, error) {
	var out []domain.MergeSuggestion
	err := db.WithContext(ctx).
		Where("status = ? AND (contact_id = ? OR candidate_id = ?)", domain.SuggestionPending, contactID, contactID).
		Order("confidence DESC, created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// AcceptSuggestionsBetween marks pending suggestions linking a and b, in
// either direction, as accepted by actor.
func AcceptSuggestionsBetween(ctx context.Context, db *gorm.DB, a, b, actor string) error {
	ts := now()
	return db.WithContext(ctx).Model(&domain.MergeSuggestion{}).
		Where("status = ? AND ((contact_id = ? AND candidate_id = ?) OR (contact_id = ? AND candidate_id = ?))",
			domain.SuggestionPending, a, b, b, a).
		Updates(map[string]any{"status": domain.SuggestionAccepted, "resolved_by": actor, "resolved_at": &ts}).Error
}
