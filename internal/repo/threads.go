package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// CreateThread inserts an open thread for a contact.
func CreateThread(ctx context.Context, db *gorm.DB, t domain.Thread) (*domain.Thread, error) {
	ts := now()
	t.ID = uuid.NewString()
	t.Status = domain.ThreadOpen
	t.CreatedAt = ts
	t.UpdatedAt = ts
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if err := create(db.WithContext(ctx), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetThread fetches a thread by ID.
func GetThread(ctx context.Context, db *gorm.DB, id string) (*domain.Thread, error) {
	return first[domain.Thread](db.WithContext(ctx), "id = ?", id)
}

// GetThreads fetches threads by ID keyed by ID. Missing IDs are omitted.
func GetThreads(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Thread, error) {
	out := make(map[string]domain.Thread, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Thread
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, t := range rows {
		out[t.ID] = t
	}
	return out, nil
}

// LatestOpenThread returns the contact's open thread with the most recent
// message, or (nil, nil) when there is none.
func LatestOpenThread(ctx context.Context, db *gorm.DB, contactID string) (*domain.Thread, error) {
	var t domain.Thread
	err := db.WithContext(ctx).
		Where("contact_id = ? AND status = ?", contactID, domain.ThreadOpen).
		Order("last_message_at DESC, id DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListContactThreads returns a contact's threads in the given statuses
// ordered by first message. No statuses means all of them.
func ListContactThreads(ctx context.Context, db *gorm.DB, contactID string, statuses ...domain.ThreadStatus) ([]domain.Thread, error) {
	q := db.WithContext(ctx).Where("contact_id = ?", contactID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []domain.Thread
	err := q.Order("first_message_at ASC, id ASC").Find(&out).Error
	return out, err
}

// ThreadFilter narrows thread listings. Zero fields are ignored.
type ThreadFilter struct {
	IDs       []string
	ContactID string
	Channel   domain.Channel
	Statuses  []domain.ThreadStatus
	// Unacknowledged keeps threads with an inbound message newer than the
	// last acknowledgement.
	Unacknowledged bool
	// RestrictIDs applies IDs even when empty, so an empty member set
	// yields no rows instead of every row.
	RestrictIDs bool
}

func (f ThreadFilter) apply(q *gorm.DB) *gorm.DB {
	if f.RestrictIDs || len(f.IDs) > 0 {
		if len(f.IDs) == 0 {
			return q.Where("1 = 0")
		}
		q = q.Where("threads.id IN ?", f.IDs)
	}
	if f.ContactID != "" {
		q = q.Where("threads.contact_id = ?", f.ContactID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("threads.status IN ?", f.Statuses)
	}
	if f.Channel != "" {
		q = q.Where("EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = threads.id AND m.channel = ? AND m.internal = ?)", f.Channel, false)
	}
	if f.Unacknowledged {
		q = q.Where("threads.last_inbound_at IS NOT NULL AND (threads.acknowledged_at IS NULL OR threads.acknowledged_at < threads.last_inbound_at)")
	}
	return q
}

// CountThreads counts threads matching f.
func CountThreads(ctx context.Context, db *gorm.DB, f ThreadFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Thread{})).Count(&n).Error
	return n, err
}

// ListThreadsPage returns threads matching f ordered by priority score
// descending, then most recent message, then ID.
func ListThreadsPage(ctx context.Context, db *gorm.DB, f ThreadFilter, offset, limit int) ([]domain.Thread, error) {
	var out []domain.Thread
	err := f.apply(db.WithContext(ctx).Model(&domain.Thread{})).
		Order("threads.priority_score DESC, threads.last_message_at DESC, threads.id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OpenThreadsAfter pages open threads by ID for background sweeps.
func OpenThreadsAfter(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]domain.Thread, error) {
	var out []domain.Thread
	err := db.WithContext(ctx).
		Where("status = ? AND id > ?", domain.ThreadOpen, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// StaleThreadIDs lists open threads whose annotation lags their version
// and has not been given up on.
func StaleThreadIDs(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.Thread{}).
		Where("status = ? AND annotated_version < version AND annotation_failed = ?", domain.ThreadOpen, false).
		Order("last_message_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// UpdateThread applies column updates to a thread regardless of version.
func UpdateThread(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	cols := map[string]any{"updated_at": now()}
	for k, v := range updates {
		cols[k] = v
	}
	res := db.WithContext(ctx).Model(&domain.Thread{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpThread applies updates and increments the version if the thread is
// still open at the expected version.
func BumpThread(ctx context.Context, db *gorm.DB, id string, version int64, updates map[string]any) error {
	cols := map[string]any{"version": gorm.Expr("version + 1"), "updated_at": now()}
	for k, v := range updates {
		cols[k] = v
	}
	res := db.WithContext(ctx).Model(&domain.Thread{}).
		Where("id = ? AND version = ? AND status = ?", id, version, domain.ThreadOpen).
		Updates(cols)
	return expectOne(res)
}

// MoveThreads reassigns every thread of contact from to contact to.
func MoveThreads(ctx context.Context, db *gorm.DB, from, to string) error {
	return db.WithContext(ctx).Model(&domain.Thread{}).
		Where("contact_id = ?", from).
		Updates(map[string]any{"contact_id": to, "updated_at": now()}).Error
}

// MoveThread reassigns a single thread.
func MoveThread(ctx context.Context, db *gorm.DB, id, from, to string) error {
	res := db.WithContext(ctx).Model(&domain.Thread{}).
		Where("id = ? AND contact_id = ?", id, from).
		Updates(map[string]any{"contact_id": to, "updated_at": now()})
	return expectOne(res)
}

// SetPriorityScore stores a computed score, skipping the write when the
// cached value already matches. It reports whether a row changed.
func SetPriorityScore(ctx context.Context, db *gorm.DB, id string, score int) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Thread{}).
		Where("id = ? AND priority_score <> ?", id, score).
		UpdateColumn("priority_score", score)
	return res.RowsAffected > 0, res.Error
}

// MarkAnnotationFailed flags a thread whose annotation retries ran out.
func MarkAnnotationFailed(ctx context.Context, db *gorm.DB, id string, version int64) error {
	return db.WithContext(ctx).Model(&domain.Thread{}).
		Where("id = ? AND version = ?", id, version).
		UpdateColumn("annotation_failed", true).Error
}

// ThreadChannels returns the distinct channels of customer messages per
// thread.
func ThreadChannels(ctx context.Context, db *gorm.DB, threadIDs []string) (map[string][]domain.Channel, error) {
	out := make(map[string][]domain.Channel, len(threadIDs))
	if len(threadIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ThreadID string
		Channel  domain.Channel
	}
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Select("DISTINCT thread_id, channel").
		Where("thread_id IN ? AND internal = ?", threadIDs, false).
		Order("thread_id, channel").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ThreadID] = append(out[r.ThreadID], r.Channel)
	}
	return out, nil
}

// ThreadSenders returns the distinct sender identities of a thread's
// customer messages. Agent messages without a sender contribute "".
func ThreadSenders(ctx context.Context, db *gorm.DB, threadID string) ([]string, error) {
	var rows []struct{ SenderIdentityID *string }
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Select("DISTINCT sender_identity_id").
		Where("thread_id = ? AND internal = ?", threadID, false).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.SenderIdentityID == nil {
			out = append(out, "")
			continue
		}
		out = append(out, *r.SenderIdentityID)
	}
	return out, nil
}

// ThreadStats returns the number of threads matching f and the latest
// update among them, for conditional responses. Latest is nil when
// nothing matches.
func ThreadStats(ctx context.Context, db *gorm.DB, f ThreadFilter) (count int64, latest *time.Time, err error) {
	q := func() *gorm.DB { return f.apply(db.WithContext(ctx).Model(&domain.Thread{})) }
	if err = q().Count(&count).Error; err != nil || count == 0 {
		return count, nil, err
	}
	// Ordering instead of MAX() keeps the column typed under SQLite.
	var row struct{ UpdatedAt time.Time }
	if err = q().Select("threads.updated_at").Order("threads.updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// SetAnnotatedVersion records that the thread's annotation reflects
// version. It fails with ErrStaleVersion if the thread moved on or closed.
func SetAnnotatedVersion(ctx context.Context, db *gorm.DB, id string, version int64) error {
	res := db.WithContext(ctx).Model(&domain.Thread{}).
		Where("id = ? AND version = ? AND status = ?", id, version, domain.ThreadOpen).
		Updates(map[string]any{"annotated_version": version, "annotation_failed": false})
	return expectOne(res)
}
