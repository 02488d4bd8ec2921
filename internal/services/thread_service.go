// Package services – ThreadService
//
// ThreadService is the Thread Aggregator: it appends messages to the
// right conversation under the topic-continuity rule, merges threads when
// their contacts merge, and serves the Console's thread read model. All
// writes for a contact's threads happen under that contact's lock.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/classify"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
)

const threadTracer = "services/ThreadService"

// Notifier receives thread change events after they are committed.
// Implementations must not block.
type Notifier interface {
	// ThreadChanged schedules a refresh of the derived view and, when
	// reannotate is set, a new annotation.
	ThreadChanged(threadID string, reannotate bool)
	// ThreadClosed drops a thread that was archived or merged away.
	ThreadClosed(threadID string)
}

type nopNotifier struct{}

func (nopNotifier) ThreadChanged(string, bool) {}
func (nopNotifier) ThreadClosed(string)        {}

// MembershipReader exposes current feed memberships.
type MembershipReader interface {
	Memberships(threadID string) []classify.Membership
}

// ThreadService manages threads and their messages.
type ThreadService struct {
	DB     *gorm.DB
	Locks  *KeyedMutex
	Notify Notifier

	// Window is the topic-continuity window; a message further than this
	// from the latest open thread starts a new one.
	Window time.Duration

	// Feeds and Index back the read model; either may be nil.
	Feeds MembershipReader
	Index *search.Index

	SubjectLocale language.Tag
	SubjectMaxLen int
}

// NewThreadService builds a ThreadService with default subject handling.
func NewThreadService(db *gorm.DB, locks *KeyedMutex, window time.Duration) *ThreadService {
	return &ThreadService{
		DB:            db,
		Locks:         locks,
		Notify:        nopNotifier{},
		Window:        window,
		SubjectLocale: language.English,
		SubjectMaxLen: 80,
	}
}

func (s *ThreadService) notifier() Notifier {
	if s.Notify == nil {
		return nopNotifier{}
	}
	return s.Notify
}

func (s *ThreadService) window() time.Duration {
	if s.Window <= 0 {
		return 14 * 24 * time.Hour
	}
	return s.Window
}

// AppendMessage adds m to the contact's current thread, opening a new one
// when none is open or the continuity window has passed. The contact must
// be active. The caller must not hold the contact's lock.
func (s *ThreadService) AppendMessage(ctx context.Context, contactID string, m domain.Message, subject string) (*domain.Thread, *domain.Message, error) {
	ctx, span := observability.StartSpan(ctx, threadTracer, "AppendMessage", attribute.String("contact.id", contactID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	unlock := s.Locks.Lock(contactID)
	var (
		th  *domain.Thread
		msg *domain.Message
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		th, msg, err = s.appendTx(ctx, tx, contactID, m, subject)
		return err
	})
	unlock()
	if err != nil {
		return nil, nil, err
	}
	s.notifier().ThreadChanged(th.ID, !m.Internal)
	return th, msg, nil
}

// appendTx runs the continuity rule and stores m inside tx. The caller
// holds the contact's lock.
func (s *ThreadService) appendTx(ctx context.Context, tx *gorm.DB, contactID string, m domain.Message, subject string) (*domain.Thread, *domain.Message, error) {
	m.SentAt = m.SentAt.UTC()
	th, err := repo.LatestOpenThread(ctx, tx, contactID)
	if err != nil {
		return nil, nil, err
	}
	if th == nil || m.SentAt.Sub(th.LastMessageAt) >= s.window() {
		if subject == "" {
			subject = s.subjectFrom(m.Body)
		}
		th, err = repo.CreateThread(ctx, tx, domain.Thread{
			ContactID:      contactID,
			Subject:        s.clipSubject(subject),
			FirstMessageAt: m.SentAt,
			LastMessageAt:  m.SentAt,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	ord, err := repo.NextOrdinal(ctx, tx, th.ID)
	if err != nil {
		return nil, nil, err
	}
	m.ThreadID = th.ID
	m.Ordinal = ord
	msg, err := repo.CreateMessage(ctx, tx, m)
	if err != nil {
		return nil, nil, err
	}

	th.MessageCount++
	updates := map[string]any{"message_count": th.MessageCount}
	if m.Internal {
		// Notes are not annotation input, so the version stays put.
		if err := repo.UpdateThread(ctx, tx, th.ID, updates); err != nil {
			return nil, nil, err
		}
		return th, msg, nil
	}

	if m.SentAt.Before(th.FirstMessageAt) {
		th.FirstMessageAt = m.SentAt
	}
	if m.SentAt.After(th.LastMessageAt) {
		th.LastMessageAt = m.SentAt
	}
	updates["first_message_at"] = th.FirstMessageAt
	updates["last_message_at"] = th.LastMessageAt
	if m.SenderIdentityID != nil {
		th.Unread = true
		th.AnnotationFailed = false
		updates["unread"] = true
		updates["annotation_failed"] = false
		if th.LastInboundAt == nil || m.SentAt.After(*th.LastInboundAt) {
			at := m.SentAt
			th.LastInboundAt = &at
			th.LastChannel = m.Channel
			updates["last_inbound_at"] = &at
			updates["last_channel"] = m.Channel
		}
	}
	if err := repo.BumpThread(ctx, tx, th.ID, th.Version, updates); err != nil {
		return nil, nil, err
	}
	th.Version++
	return th, msg, nil
}

// AddNote appends an internal agent note to a thread. Notes never reach
// the annotation service and do not affect continuity.
func (s *ThreadService) AddNote(ctx context.Context, threadID, author, body string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: empty note", ErrInvalidInbound)
	}
	th, err := s.get(ctx, s.DB, threadID)
	if err != nil {
		return nil, err
	}
	unlock := s.Locks.Lock(th.ContactID)
	defer unlock()

	var msg *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.get(ctx, tx, threadID)
		if err != nil {
			return err
		}
		if cur.Status != domain.ThreadOpen {
			return ErrThreadClosed
		}
		ord, err := repo.NextOrdinal(ctx, tx, threadID)
		if err != nil {
			return err
		}
		msg, err = repo.CreateMessage(ctx, tx, domain.Message{
			ThreadID: threadID,
			SentAt:   time.Now().UTC(),
			Ordinal:  ord,
			Channel:  cur.LastChannel,
			Body:     body,
			Internal: true,
			Author:   author,
		})
		if err != nil {
			return err
		}
		return repo.UpdateThread(ctx, tx, threadID, map[string]any{"message_count": cur.MessageCount + 1})
	})
	if err != nil {
		return nil, err
	}
	s.notifier().ThreadChanged(threadID, false)
	return msg, nil
}

// MergeThreads folds two open threads of the same contact into one. The
// thread with the earlier first message survives. Merging a thread with
// itself, or one already merged into the other, returns the survivor.
func (s *ThreadService) MergeThreads(ctx context.Context, aID, bID string) (*domain.Thread, error) {
	ctx, span := observability.StartSpan(ctx, threadTracer, "MergeThreads",
		attribute.String("thread.a", aID), attribute.String("thread.b", bID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	a, err := s.get(ctx, s.DB, aID)
	if err != nil {
		return nil, err
	}
	unlock := s.Locks.Lock(a.ContactID)
	defer unlock()

	var (
		out   *domain.Thread
		loser string
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.get(ctx, tx, aID)
		if err != nil {
			return err
		}
		b, err := s.get(ctx, tx, bID)
		if err != nil {
			return err
		}
		if a.ID == b.ID {
			out = a
			return nil
		}
		if b.MergedInto != nil && *b.MergedInto == a.ID {
			out = a
			return nil
		}
		if a.MergedInto != nil && *a.MergedInto == b.ID {
			out = b
			return nil
		}
		if a.ContactID != b.ContactID {
			return ErrThreadContactMismatch
		}
		survivor, merged := orderForMerge(*a, *b)
		if out, err = s.mergeThreadsTx(ctx, tx, survivor, merged); err != nil {
			return err
		}
		loser = merged.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if loser != "" {
		s.notifier().ThreadClosed(loser)
		s.notifier().ThreadChanged(out.ID, true)
	}
	return out, nil
}

// orderForMerge picks the thread with the earlier first message (then
// lower ID) as survivor, so merging is symmetric.
func orderForMerge(a, b domain.Thread) (survivor, loser domain.Thread) {
	if b.FirstMessageAt.Before(a.FirstMessageAt) || (b.FirstMessageAt.Equal(a.FirstMessageAt) && b.ID < a.ID) {
		return b, a
	}
	return a, b
}

// mergeThreadsTx moves every message of loser into survivor. Messages are
// stably sort-merged by time; ties keep the survivor's message first, then
// order by channel name, then by original position. The survivor's
// version jumps past both so annotations of either are stale.
func (s *ThreadService) mergeThreadsTx(ctx context.Context, tx *gorm.DB, survivor, loser domain.Thread) (*domain.Thread, error) {
	if survivor.Status != domain.ThreadOpen || loser.Status != domain.ThreadOpen {
		return nil, ErrThreadClosed
	}
	sm, err := repo.ListMessages(ctx, tx, survivor.ID, true)
	if err != nil {
		return nil, err
	}
	lm, err := repo.ListMessages(ctx, tx, loser.ID, true)
	if err != nil {
		return nil, err
	}

	type entry struct {
		msg  domain.Message
		rank int
	}
	all := make([]entry, 0, len(sm)+len(lm))
	for _, m := range sm {
		all = append(all, entry{m, 0})
	}
	for _, m := range lm {
		all = append(all, entry{m, 1})
	}
	slices.SortStableFunc(all, func(x, y entry) int {
		if c := x.msg.SentAt.Compare(y.msg.SentAt); c != 0 {
			return c
		}
		if x.rank != y.rank {
			return x.rank - y.rank
		}
		if c := strings.Compare(string(x.msg.Channel), string(y.msg.Channel)); c != 0 {
			return c
		}
		return x.msg.Ordinal - y.msg.Ordinal
	})
	for i, e := range all {
		if e.msg.ThreadID == survivor.ID && e.msg.Ordinal == i {
			continue
		}
		if err := repo.RehomeMessage(ctx, tx, e.msg.ID, survivor.ID, i); err != nil {
			return nil, err
		}
	}

	merged := survivor
	merged.MessageCount = len(all)
	if loser.FirstMessageAt.Before(merged.FirstMessageAt) {
		merged.FirstMessageAt = loser.FirstMessageAt
	}
	if loser.LastMessageAt.After(merged.LastMessageAt) {
		merged.LastMessageAt = loser.LastMessageAt
	}
	if loser.LastInboundAt != nil && (merged.LastInboundAt == nil || loser.LastInboundAt.After(*merged.LastInboundAt)) {
		merged.LastInboundAt = loser.LastInboundAt
		merged.LastChannel = loser.LastChannel
		merged.AcknowledgedAt = loser.AcknowledgedAt
	}
	merged.Unread = survivor.Unread || loser.Unread
	merged.NeedsReview = survivor.NeedsReview || loser.NeedsReview
	merged.Tags = domain.NormalizeTags(append(slices.Clone(survivor.Tags), loser.Tags...))
	if merged.Priority == "" {
		merged.Priority = loser.Priority
	}
	if merged.Assignee == "" {
		merged.Assignee = loser.Assignee
	}
	merged.Version = max(survivor.Version, loser.Version) + 1
	merged.AnnotationFailed = false

	err = repo.UpdateThread(ctx, tx, survivor.ID, map[string]any{
		"message_count":     merged.MessageCount,
		"first_message_at":  merged.FirstMessageAt,
		"last_message_at":   merged.LastMessageAt,
		"last_inbound_at":   merged.LastInboundAt,
		"last_channel":      merged.LastChannel,
		"acknowledged_at":   merged.AcknowledgedAt,
		"unread":            merged.Unread,
		"needs_review":      merged.NeedsReview,
		"tags":              tagsColumn(merged.Tags),
		"priority":          merged.Priority,
		"assignee":          merged.Assignee,
		"version":           merged.Version,
		"annotation_failed": false,
	})
	if err != nil {
		return nil, err
	}
	err = repo.UpdateThread(ctx, tx, loser.ID, map[string]any{
		"status":        domain.ThreadMerged,
		"merged_into":   survivor.ID,
		"message_count": 0,
		"version":       loser.Version + 1,
		"unread":        false,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.DeleteAnnotation(ctx, tx, loser.ID); err != nil {
		return nil, err
	}
	if err := repo.RetargetReceipts(ctx, tx, loser.ID, survivor.ID, survivor.ContactID); err != nil {
		return nil, err
	}
	return &merged, nil
}

// consolidate merges a contact's open threads whose activity intervals
// are closer than the continuity window. It returns the survivors that
// changed and the threads merged away.
func (s *ThreadService) consolidate(ctx context.Context, tx *gorm.DB, contactID string) (changed, closed []string, err error) {
	open, err := repo.ListContactThreads(ctx, tx, contactID, domain.ThreadOpen)
	if err != nil {
		return nil, nil, err
	}
	if len(open) < 2 {
		return nil, nil, nil
	}
	cur := open[0]
	for _, next := range open[1:] {
		if next.FirstMessageAt.Sub(cur.LastMessageAt) >= s.window() {
			cur = next
			continue
		}
		merged, err := s.mergeThreadsTx(ctx, tx, cur, next)
		if err != nil {
			return nil, nil, err
		}
		closed = append(closed, next.ID)
		if !slices.Contains(changed, merged.ID) {
			changed = append(changed, merged.ID)
		}
		cur = *merged
	}
	return changed, closed, nil
}

// tagsColumn JSON-encodes tags for map-based updates, which bypass the
// model serializer.
func tagsColumn(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func (s *ThreadService) get(ctx context.Context, db *gorm.DB, id string) (*domain.Thread, error) {
	th, err := repo.GetThread(ctx, db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrThreadNotFound
	}
	return th, err
}

// ThreadDetail is a thread with its messages, annotation and feeds.
type ThreadDetail struct {
	Thread     domain.Thread              `json:"thread"`
	Messages   []domain.Message           `json:"messages"`
	Annotation *domain.AnnotationSnapshot `json:"annotation,omitempty"`
	Feeds      []classify.Membership      `json:"feeds"`
	Stale      bool                       `json:"stale"`
}

// Get returns a thread's detail, internal notes included.
func (s *ThreadService) Get(ctx context.Context, id string) (*ThreadDetail, error) {
	ctx, span := observability.StartSpan(ctx, threadTracer, "Get", attribute.String("thread.id", id))
	defer span.End()

	th, err := s.get(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	msgs, err := repo.ListMessages(ctx, s.DB, id, true)
	if err != nil {
		return nil, err
	}
	ann, err := repo.GetAnnotation(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	d := &ThreadDetail{Thread: *th, Messages: msgs, Annotation: ann, Stale: th.Stale(), Feeds: []classify.Membership{}}
	if s.Feeds != nil {
		if ms := s.Feeds.Memberships(id); ms != nil {
			d.Feeds = ms
		}
	}
	return d, nil
}

// ThreadQuery narrows ListPage.
type ThreadQuery struct {
	ContactID string
	Channel   domain.Channel
	Status    domain.ThreadStatus
}

// ListPage returns a page of threads sorted by priority score, then most
// recent activity. Status defaults to open.
func (s *ThreadService) ListPage(ctx context.Context, q ThreadQuery, page, pageSize int) ([]domain.Thread, int64, error) {
	ctx, span := observability.StartSpan(ctx, threadTracer, "ListPage",
		attribute.Int("page", page), attribute.Int("page_size", pageSize))
	defer span.End()

	if q.Status == "" {
		q.Status = domain.ThreadOpen
	}
	return s.page(ctx, repo.ThreadFilter{
		ContactID: q.ContactID,
		Channel:   q.Channel,
		Statuses:  []domain.ThreadStatus{q.Status},
	}, page, pageSize)
}

func (s *ThreadService) page(ctx context.Context, f repo.ThreadFilter, page, pageSize int) ([]domain.Thread, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountThreads(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Thread{}, 0, nil
	}
	items, err := repo.ListThreadsPage(ctx, s.DB, f, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns the row count and latest update of threads matching q,
// for conditional responses.
func (s *ThreadService) Stats(ctx context.Context, q ThreadQuery) (int64, *time.Time, error) {
	if q.Status == "" {
		q.Status = domain.ThreadOpen
	}
	return repo.ThreadStats(ctx, s.DB, repo.ThreadFilter{
		ContactID: q.ContactID,
		Channel:   q.Channel,
		Statuses:  []domain.ThreadStatus{q.Status},
	})
}

// UpNext returns the focused work queue: open threads with an
// unacknowledged inbound message, highest priority first.
func (s *ThreadService) UpNext(ctx context.Context, limit int) ([]domain.Thread, error) {
	if limit <= 0 {
		limit = 10
	}
	items, _, err := s.page(ctx, repo.ThreadFilter{
		Statuses:       []domain.ThreadStatus{domain.ThreadOpen},
		Unacknowledged: true,
	}, 1, limit)
	return items, err
}

// Acknowledge marks a thread read and stops its wait clock.
func (s *ThreadService) Acknowledge(ctx context.Context, id string) (*domain.Thread, error) {
	return s.update(ctx, id, "Acknowledge", func(th *domain.Thread) (map[string]any, error) {
		at := time.Now().UTC()
		th.Unread = false
		th.AcknowledgedAt = &at
		return map[string]any{"unread": false, "acknowledged_at": &at}, nil
	})
}

// Archive closes a thread. Pending annotation or classification work for
// it is abandoned.
func (s *ThreadService) Archive(ctx context.Context, id string) (*domain.Thread, error) {
	th, err := s.update(ctx, id, "Archive", func(th *domain.Thread) (map[string]any, error) {
		th.Status = domain.ThreadArchived
		th.Version++
		return map[string]any{"status": domain.ThreadArchived, "version": th.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	return th, nil
}

// ThreadPatch carries agent edits. Nil fields are left unchanged; an
// empty Priority clears a manual priority.
type ThreadPatch struct {
	Assignee *string
	Priority *string
	Tags     *[]string
}

// Patch applies agent edits to an open thread.
func (s *ThreadService) Patch(ctx context.Context, id string, p ThreadPatch) (*domain.Thread, error) {
	return s.update(ctx, id, "Patch", func(th *domain.Thread) (map[string]any, error) {
		updates := map[string]any{}
		if p.Assignee != nil {
			th.Assignee = strings.TrimSpace(*p.Assignee)
			updates["assignee"] = th.Assignee
		}
		if p.Priority != nil {
			pr := domain.Priority("")
			if strings.TrimSpace(*p.Priority) != "" {
				var ok bool
				if pr, ok = domain.ParsePriority(*p.Priority); !ok {
					return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidFilter, *p.Priority)
				}
			}
			th.Priority = pr
			updates["priority"] = pr
		}
		if p.Tags != nil {
			th.Tags = domain.NormalizeTags(*p.Tags)
			updates["tags"] = tagsColumn(th.Tags)
		}
		return updates, nil
	})
}

// update loads an open thread under its contact's lock, applies fn and
// persists the returned columns.
func (s *ThreadService) update(ctx context.Context, id, op string, fn func(*domain.Thread) (map[string]any, error)) (*domain.Thread, error) {
	ctx, span := observability.StartSpan(ctx, threadTracer, op, attribute.String("thread.id", id))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	th, err := s.get(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	unlock := s.Locks.Lock(th.ContactID)
	defer unlock()

	// Re-read under the lock; a merge may have moved or closed it.
	if th, err = s.get(ctx, s.DB, id); err != nil {
		return nil, err
	}
	if th.Status != domain.ThreadOpen {
		err = ErrThreadClosed
		return nil, err
	}
	updates, err := fn(th)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err = repo.UpdateThread(ctx, s.DB, id, updates); err != nil {
			return nil, err
		}
	}
	if th.Status != domain.ThreadOpen {
		s.notifier().ThreadClosed(id)
	} else {
		s.notifier().ThreadChanged(id, false)
	}
	return th, nil
}

// SearchHit is one search result.
type SearchHit struct {
	Thread  domain.Thread `json:"thread"`
	Snippet string        `json:"snippet"`
	Score   float64       `json:"score"`
}

// Search finds open threads whose messages best cover the query terms.
func (s *ThreadService) Search(ctx context.Context, q string, k int) ([]SearchHit, error) {
	ctx, span := observability.StartSpan(ctx, threadTracer, "Search", attribute.Int("k", k))
	defer span.End()

	if s.Index == nil || strings.TrimSpace(q) == "" {
		return []SearchHit{}, nil
	}
	res := s.Index.TopK(q, k)
	ids := make([]string, len(res))
	for i, r := range res {
		ids[i] = r.ID
	}
	threads, err := repo.GetThreads(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SearchHit, 0, len(res))
	for _, r := range res {
		th, ok := threads[r.ID]
		if !ok || th.Status != domain.ThreadOpen {
			continue
		}
		out = append(out, SearchHit{Thread: th, Snippet: r.Snippet, Score: r.Score})
	}
	return out, nil
}

// subjectFrom derives a short title from a message body.
func (s *ThreadService) subjectFrom(body string) string {
	toks := subjectWordRE.FindAllString(strings.ToLower(body), -1)
	caser := cases.Title(s.subjectLocale())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := subjectStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return "New conversation"
	}
	return strings.Join(out, " ")
}

func (s *ThreadService) clipSubject(subject string) string {
	subject = strings.Join(strings.Fields(subject), " ")
	limit := s.SubjectMaxLen
	if limit <= 0 {
		limit = 80
	}
	if utf8.RuneCountInString(subject) > limit {
		return string([]rune(subject)[:limit])
	}
	return subject
}

func (s *ThreadService) subjectLocale() language.Tag {
	if s.SubjectLocale == language.Und {
		return language.English
	}
	return s.SubjectLocale
}

var subjectWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

var subjectStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"hi": {}, "hello": {}, "hey": {}, "i": {}, "my": {}, "me": {}, "we": {}, "you": {},
}
