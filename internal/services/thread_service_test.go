package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/unified-inbox/internal/classify"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/repo"
)

func TestAddNote_DoesNotBumpVersion(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "c@example.org", "refund please", st.now))

	note, err := st.threads.AddNote(ctx, res.Thread.ID, "agent-7", " called the customer ")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if !note.Internal || note.Body != "called the customer" || note.SenderIdentityID != nil {
		t.Fatalf("note = %+v", note)
	}
	th, _ := repo.GetThread(ctx, st.db, res.Thread.ID)
	if th.Version != res.Thread.Version || th.MessageCount != 2 {
		t.Fatalf("thread version %d count %d, want %d and 2", th.Version, th.MessageCount, res.Thread.Version)
	}
	recent, _ := repo.RecentMessages(ctx, st.db, th.ID, 10)
	if len(recent) != 1 {
		t.Fatalf("notes must not reach annotation input, got %d messages", len(recent))
	}
	if _, err := st.threads.AddNote(ctx, res.Thread.ID, "agent-7", "   "); !errors.Is(err, ErrInvalidInbound) {
		t.Fatalf("empty note: %v", err)
	}
}

type nilMemberships struct{}

func (nilMemberships) Memberships(string) []classify.Membership { return nil }

func TestGet_FeedsNeverNil(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelSMS, "+15550003333", "hello", st.now))

	d, err := st.threads.Get(ctx, res.Thread.ID)
	if err != nil || d.Feeds == nil {
		t.Fatalf("engine-backed detail feeds = %#v err=%v", d, err)
	}
	st.threads.Feeds = nilMemberships{}
	d, err = st.threads.Get(ctx, res.Thread.ID)
	if err != nil || d.Feeds == nil {
		t.Fatalf("nil memberships leaked into detail: err=%v", err)
	}
}

func TestMergeThreads_OrdersMessagesAndClosesLoser(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	t0 := st.now.Add(-60 * 24 * time.Hour)
	a := st.mustIngest(t, inbound(domain.ChannelEmail, "d@example.org", "old topic", t0))
	b := st.mustIngest(t, inbound(domain.ChannelEmail, "d@example.org", "new topic", t0.Add(20*24*time.Hour)))
	st.mustIngest(t, inbound(domain.ChannelEmail, "d@example.org", "and more", t0.Add(20*24*time.Hour+time.Minute)))
	if a.Thread.ID == b.Thread.ID {
		t.Fatalf("threads should be separate")
	}
	rec := &recorder{}
	st.threads.Notify = rec

	// Argument order does not pick the survivor.
	out, err := st.threads.MergeThreads(ctx, b.Thread.ID, a.Thread.ID)
	if err != nil {
		t.Fatalf("merge threads: %v", err)
	}
	if out.ID != a.Thread.ID || out.MessageCount != 3 {
		t.Fatalf("survivor = %s count %d", out.ID, out.MessageCount)
	}
	msgs, _ := repo.ListMessages(ctx, st.db, out.ID, true)
	want := []string{"old topic", "new topic", "and more"}
	for i, m := range msgs {
		if m.Body != want[i] || m.Ordinal != i {
			t.Fatalf("message %d = %q ordinal %d", i, m.Body, m.Ordinal)
		}
	}
	loser, _ := repo.GetThread(ctx, st.db, b.Thread.ID)
	if loser.Status != domain.ThreadMerged {
		t.Fatalf("loser status = %s", loser.Status)
	}
	if len(rec.closed) != 1 || rec.closed[0] != b.Thread.ID {
		t.Fatalf("closed = %v", rec.closed)
	}
	if out.Version <= b.Thread.Version {
		t.Fatalf("survivor version %d must pass both inputs", out.Version)
	}

	again, err := st.threads.MergeThreads(ctx, a.Thread.ID, b.Thread.ID)
	if err != nil || again.ID != a.Thread.ID {
		t.Fatalf("repeat merge: %v %v", again, err)
	}
	if len(rec.closed) != 1 {
		t.Fatalf("repeat merge must not notify")
	}
	self, err := st.threads.MergeThreads(ctx, a.Thread.ID, a.Thread.ID)
	if err != nil || self.ID != a.Thread.ID || len(rec.closed) != 1 {
		t.Fatalf("self merge: %v %v %v", self, err, rec.closed)
	}
}

func TestMergeThreads_DifferentContacts(t *testing.T) {
	st := newStack(t, nil)
	a := st.mustIngest(t, inbound(domain.ChannelEmail, "e@example.org", "x", st.now))
	b := st.mustIngest(t, inbound(domain.ChannelEmail, "f@example.org", "y", st.now))
	if _, err := st.threads.MergeThreads(context.Background(), a.Thread.ID, b.Thread.ID); !errors.Is(err, ErrThreadContactMismatch) {
		t.Fatalf("expected ErrThreadContactMismatch, got %v", err)
	}
}

func TestAcknowledgeArchiveAndUpNext(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	a := st.mustIngest(t, inbound(domain.ChannelEmail, "g@example.org", "urgent help", st.now.Add(-time.Hour)))
	b := st.mustIngest(t, inbound(domain.ChannelEmail, "h@example.org", "question", st.now.Add(-2*time.Hour)))

	next, err := st.threads.UpNext(ctx, 10)
	if err != nil || len(next) != 2 {
		t.Fatalf("up next = %d, %v", len(next), err)
	}
	if _, err := st.threads.Acknowledge(ctx, a.Thread.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	next, _ = st.threads.UpNext(ctx, 10)
	if len(next) != 1 || next[0].ID != b.Thread.ID {
		t.Fatalf("up next after ack = %v", next)
	}

	rec := &recorder{}
	st.threads.Notify = rec
	th, err := st.threads.Archive(ctx, b.Thread.ID)
	if err != nil || th.Status != domain.ThreadArchived {
		t.Fatalf("archive: %v %v", th, err)
	}
	if len(rec.closed) != 1 || rec.closed[0] != b.Thread.ID {
		t.Fatalf("closed = %v", rec.closed)
	}
	if _, err := st.threads.Acknowledge(ctx, b.Thread.ID); !errors.Is(err, ErrThreadClosed) {
		t.Fatalf("write to archived thread: %v", err)
	}
	if _, err := st.threads.Archive(ctx, "nope"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("missing thread: %v", err)
	}
}

func TestPatch(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "i@example.org", "x", st.now))

	assignee, prio, tags := " bob ", "HIGH", []string{"Payment", "payment", " vip "}
	th, err := st.threads.Patch(ctx, res.Thread.ID, ThreadPatch{Assignee: &assignee, Priority: &prio, Tags: &tags})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if th.Assignee != "bob" || th.Priority != domain.PriorityHigh || strings.Join(th.Tags, ",") != "payment,vip" {
		t.Fatalf("patched = %+v", th)
	}
	stored, _ := repo.GetThread(ctx, st.db, res.Thread.ID)
	if strings.Join(stored.Tags, ",") != "payment,vip" || stored.Priority != domain.PriorityHigh {
		t.Fatalf("stored = %+v", stored)
	}
	bad := "whenever"
	if _, err := st.threads.Patch(ctx, res.Thread.ID, ThreadPatch{Priority: &bad}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("invalid priority: %v", err)
	}
}

func TestListPage_ChannelFilterAndOrder(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	a := st.mustIngest(t, inbound(domain.ChannelEmail, "j@example.org", "x", st.now.Add(-time.Hour)))
	b := st.mustIngest(t, inbound(domain.ChannelSMS, "+15550003333", "y", st.now))
	if _, err := repo.SetPriorityScore(ctx, st.db, a.Thread.ID, 70); err != nil {
		t.Fatal(err)
	}

	items, total, err := st.threads.ListPage(ctx, ThreadQuery{}, 1, 10)
	if err != nil || total != 2 {
		t.Fatalf("list: %v %d", err, total)
	}
	if items[0].ID != a.Thread.ID {
		t.Fatalf("higher score must come first")
	}
	items, total, _ = st.threads.ListPage(ctx, ThreadQuery{Channel: domain.ChannelSMS}, 1, 10)
	if total != 1 || items[0].ID != b.Thread.ID {
		t.Fatalf("channel filter = %v", items)
	}
}

func TestSearch_FindsIndexedThreads(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "k@example.org", "my parcel tracking number is wrong", st.now))
	st.mustIngest(t, inbound(domain.ChannelEmail, "l@example.org", "love the product", st.now))
	if err := st.pipeline.Refresh(ctx, res.Thread.ID); err != nil {
		t.Fatal(err)
	}

	hits, err := st.threads.Search(ctx, "parcel tracking", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Thread.ID != res.Thread.ID {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestSubjectFrom(t *testing.T) {
	s := &ThreadService{}
	if got := s.subjectFrom("hi, my invoice for march is wrong"); got != "Invoice March Wrong" {
		t.Fatalf("subject = %q", got)
	}
	if got := s.subjectFrom("?? !!"); got != "New conversation" {
		t.Fatalf("fallback = %q", got)
	}
}
