package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// CreateContact inserts an active contact at version 1.
func CreateContact(ctx context.Context, db *gorm.DB, displayName, nameKey, nameBlock string, tier domain.Tier) (*domain.Contact, error) {
	if tier == "" {
		tier = domain.TierStandard
	}
	c := &domain.Contact{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		NameKey:     nameKey,
		NameBlock:   nameBlock,
		Tier:        tier,
		Active:      true,
		Version:     1,
		CreatedAt:   now(),
	}
	if err := create(db.WithContext(ctx), c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetContact fetches a contact without its identities.
func GetContact(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error) {
	return first[domain.Contact](db.WithContext(ctx), "id = ?", id)
}

// GetContactWithIdentities fetches a contact and its identities ordered by
// creation.
func GetContactWithIdentities(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Preload("Identities", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveActiveContact follows MergedInto links from id to the surviving
// contact. Chains are bounded to guard against corrupted cycles.
func ResolveActiveContact(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error) {
	c, err := GetContact(ctx, db, id)
	for hops := 0; err == nil && !c.Active && c.MergedInto != nil && hops < 32; hops++ {
		c, err = GetContact(ctx, db, *c.MergedInto)
	}
	return c, err
}

// CandidateQuery selects contacts that could own a new identity.
type CandidateQuery struct {
	Emails    []string
	Phones    []string
	Handles   []string
	NameKey   string
	NameBlock string
	Limit     int
}

// FindCandidateContacts returns active contacts sharing an email, phone or
// handle with the query, an exact name key, or the same name block, with
// identities preloaded. Results are ordered by creation.
func FindCandidateContacts(ctx context.Context, db *gorm.DB, q CandidateQuery) ([]domain.Contact, error) {
	db = db.WithContext(ctx)
	ids := map[string]struct{}{}
	collect := func(query *gorm.DB) error {
		var found []string
		if err := query.Pluck("contact_id", &found).Error; err != nil {
			return err
		}
		for _, id := range found {
			ids[id] = struct{}{}
		}
		return nil
	}
	idents := func() *gorm.DB { return db.Model(&domain.Identity{}).Distinct() }

	if len(q.Emails) > 0 {
		if err := collect(idents().Where("email IN ?", q.Emails)); err != nil {
			return nil, err
		}
	}
	if len(q.Phones) > 0 {
		if err := collect(idents().Where("phone IN ?", q.Phones)); err != nil {
			return nil, err
		}
	}
	if len(q.Handles) > 0 {
		if err := collect(idents().Where("address IN ? AND channel IN ?", q.Handles, handleChannels())); err != nil {
			return nil, err
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	var byName []string
	nameQ := db.Model(&domain.Contact{}).Where("active = ?", true)
	switch {
	case q.NameKey != "" && q.NameBlock != "":
		nameQ = nameQ.Where("name_key = ? OR name_block = ?", q.NameKey, q.NameBlock)
	case q.NameKey != "":
		nameQ = nameQ.Where("name_key = ?", q.NameKey)
	default:
		nameQ = nil
	}
	if nameQ != nil {
		if err := nameQ.Order("created_at ASC, id ASC").Limit(limit).Pluck("id", &byName).Error; err != nil {
			return nil, err
		}
		for _, id := range byName {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	var out []domain.Contact
	err := db.Preload("Identities").
		Where("id IN ? AND active = ?", list, true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func handleChannels() []domain.Channel {
	var out []domain.Channel
	for _, c := range domain.Channels {
		if c.AddressKind() == domain.AddressHandle {
			out = append(out, c)
		}
	}
	return out
}

// BumpContact increments the version of an active contact if it still has
// the expected version, applying extra column updates in the same
// statement.
func BumpContact(ctx context.Context, db *gorm.DB, id string, version int64, updates map[string]any) error {
	cols := map[string]any{"version": gorm.Expr("version + 1"), "updated_at": now()}
	for k, v := range updates {
		cols[k] = v
	}
	res := db.WithContext(ctx).Model(&domain.Contact{}).
		Where("id = ? AND version = ?", id, version).
		Updates(cols)
	return expectOne(res)
}

// DeactivateContact marks a contact as merged into target.
func DeactivateContact(ctx context.Context, db *gorm.DB, id string, version int64, target string) error {
	return BumpContact(ctx, db, id, version, map[string]any{"active": false, "merged_into": target})
}

// ReactivateContact restores a merged contact.
func ReactivateContact(ctx context.Context, db *gorm.DB, id string, version int64) error {
	return BumpContact(ctx, db, id, version, map[string]any{"active": true, "merged_into": nil})
}

// GetContacts fetches contacts by ID keyed by ID.
func GetContacts(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Contact, error) {
	out := make(map[string]domain.Contact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Contact
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, c := range rows {
		out[c.ID] = c
	}
	return out, nil
}
