package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// GetIdentityByAddress finds the identity for a normalized (channel,
// address) pair.
func GetIdentityByAddress(ctx context.Context, db *gorm.DB, ch domain.Channel, address string) (*domain.Identity, error) {
	return first[domain.Identity](db.WithContext(ctx), "channel = ? AND address = ?", ch, address)
}

// GetIdentity fetches an identity by ID.
func GetIdentity(ctx context.Context, db *gorm.DB, id string) (*domain.Identity, error) {
	return first[domain.Identity](db.WithContext(ctx), "id = ?", id)
}

// CreateIdentity inserts an identity owned by contactID. A concurrent
// insert of the same pair yields ErrDuplicate.
func CreateIdentity(ctx context.Context, db *gorm.DB, in domain.Identity) (*domain.Identity, error) {
	in.ID = uuid.NewString()
	in.CreatedAt = now()
	if err := create(db.WithContext(ctx), &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// ListIdentities returns a contact's identities ordered by creation.
func ListIdentities(ctx context.Context, db *gorm.DB, contactID string) ([]domain.Identity, error) {
	var out []domain.Identity
	err := db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// MoveIdentities reassigns every identity of from to to.
func MoveIdentities(ctx context.Context, db *gorm.DB, from, to string) error {
	return db.WithContext(ctx).Model(&domain.Identity{}).
		Where("contact_id = ?", from).
		Update("contact_id", to).Error
}

// MoveIdentity reassigns a single identity if it is still owned by from.
func MoveIdentity(ctx context.Context, db *gorm.DB, id, from, to string) error {
	res := db.WithContext(ctx).Model(&domain.Identity{}).
		Where("id = ? AND contact_id = ?", id, from).
		Update("contact_id", to)
	return expectOne(res)
}
