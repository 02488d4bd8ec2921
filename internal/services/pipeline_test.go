package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/unified-inbox/internal/annotate"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/priority"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
)

func TestJobQueue_DedupesAndDrops(t *testing.T) {
	q := newJobQueue("test", 2)
	if !q.push("a") || !q.push("a") || !q.push("b") {
		t.Fatalf("push within capacity failed")
	}
	if len(q.ch) != 2 {
		t.Fatalf("queued = %d, want 2 (a deduped)", len(q.ch))
	}
	if q.push("c") {
		t.Fatalf("push into a full queue must report false")
	}
	id := <-q.ch
	q.done(id)
	if !q.push(id) {
		t.Fatalf("released id could not be queued again")
	}
}

func TestAnnotate_StoresSnapshot(t *testing.T) {
	st := newStack(t, negativeAnnotator)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "p@example.org", "still broken", st.now))

	if err := st.pipeline.Annotate(ctx, res.Thread.ID); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	th, _ := repo.GetThread(ctx, st.db, res.Thread.ID)
	if th.AnnotatedVersion != th.Version || th.Stale() {
		t.Fatalf("annotated_version %d version %d", th.AnnotatedVersion, th.Version)
	}
	ann, err := repo.GetAnnotation(ctx, st.db, th.ID)
	if err != nil || ann == nil || ann.Sentiment != domain.SentimentNegative || ann.ComputedForVersion != th.Version {
		t.Fatalf("snapshot = %+v, %v", ann, err)
	}
	// A fresh thread is skipped.
	calls := 0
	st.pipeline.Annotator = annotate.AnnotatorFunc(func(context.Context, annotate.Request) (annotate.Response, error) {
		calls++
		return annotate.Response{}, nil
	})
	if err := st.pipeline.Annotate(ctx, th.ID); err != nil || calls != 0 {
		t.Fatalf("up-to-date thread re-annotated: calls=%d err=%v", calls, err)
	}
}

func TestAnnotate_LateResponseIsDropped(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "q@example.org", "first", st.now))

	st.pipeline.Annotator = annotate.AnnotatorFunc(func(ctx context.Context, req annotate.Request) (annotate.Response, error) {
		// A new message lands while the call is in flight.
		st.mustIngest(t, inbound(domain.ChannelEmail, "q@example.org", "second", st.now.Add(time.Minute)))
		return annotate.Response{Sentiment: domain.SentimentPositive, Confidence: 0.9, ComputedForVersion: req.AnnotationVersion}, nil
	})
	if err := st.pipeline.Annotate(ctx, res.Thread.ID); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	ann, _ := repo.GetAnnotation(ctx, st.db, res.Thread.ID)
	if ann != nil {
		t.Fatalf("late response stored: %+v", ann)
	}
	th, _ := repo.GetThread(ctx, st.db, res.Thread.ID)
	if !th.Stale() || th.Version != 2 {
		t.Fatalf("thread should still be stale at version 2: %+v", th)
	}
}

func TestAnnotate_FailureKeepsPreviousSnapshot(t *testing.T) {
	st := newStack(t, negativeAnnotator)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "r@example.org", "order late", st.now))
	if err := st.pipeline.Annotate(ctx, res.Thread.ID); err != nil {
		t.Fatal(err)
	}
	st.mustIngest(t, inbound(domain.ChannelEmail, "r@example.org", "any news?", st.now.Add(time.Minute)))

	st.pipeline.Annotator = annotate.AnnotatorFunc(func(context.Context, annotate.Request) (annotate.Response, error) {
		return annotate.Response{}, annotate.ErrUnavailable
	})
	if err := st.pipeline.Annotate(ctx, res.Thread.ID); err != nil {
		t.Fatalf("failed annotation must not surface: %v", err)
	}
	th, _ := repo.GetThread(ctx, st.db, res.Thread.ID)
	if !th.AnnotationFailed || !th.Stale() {
		t.Fatalf("thread = failed %v stale %v", th.AnnotationFailed, th.Stale())
	}
	ann, _ := repo.GetAnnotation(ctx, st.db, th.ID)
	if ann == nil || ann.Sentiment != domain.SentimentNegative || ann.ComputedForVersion != 1 {
		t.Fatalf("previous snapshot lost: %+v", ann)
	}

	// The next successful run clears the flag.
	st.pipeline.Annotator = negativeAnnotator
	if err := st.pipeline.Annotate(ctx, th.ID); err != nil {
		t.Fatal(err)
	}
	th, _ = repo.GetThread(ctx, st.db, th.ID)
	if th.AnnotationFailed || th.Stale() {
		t.Fatalf("recovered thread = failed %v stale %v", th.AnnotationFailed, th.Stale())
	}
}

func TestAnnotate_ClosedThreadIsAbandoned(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "s@example.org", "cancel my plan", st.now))

	st.pipeline.Annotator = annotate.AnnotatorFunc(func(ctx context.Context, req annotate.Request) (annotate.Response, error) {
		if _, err := st.threads.Archive(ctx, req.ThreadID); err != nil {
			t.Errorf("archive: %v", err)
		}
		return annotate.Response{Sentiment: domain.SentimentNeutral, ComputedForVersion: req.AnnotationVersion}, nil
	})
	if err := st.pipeline.Annotate(ctx, res.Thread.ID); err != nil {
		t.Fatal(err)
	}
	if ann, _ := repo.GetAnnotation(ctx, st.db, res.Thread.ID); ann != nil {
		t.Fatalf("archived thread got an annotation: %+v", ann)
	}
	if err := st.pipeline.Annotate(ctx, "missing"); err != nil {
		t.Fatalf("missing thread: %v", err)
	}
	if err := st.pipeline.Refresh(ctx, res.Thread.ID); err != nil {
		t.Fatalf("refresh archived: %v", err)
	}
	if _, ok := st.pipeline.Index.Version(res.Thread.ID); ok {
		t.Fatalf("archived thread still indexed")
	}
}

func TestTick_WaitingRaisesScore(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "u@example.org", "hello?", st.now.Add(-time.Hour)))

	if err := st.pipeline.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	th, _ := repo.GetThread(ctx, st.db, res.Thread.ID)
	before := th.PriorityScore

	st.now = st.now.Add(6 * time.Hour)
	if err := st.pipeline.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	th, _ = repo.GetThread(ctx, st.db, res.Thread.ID)
	if th.PriorityScore <= before {
		t.Fatalf("score %d -> %d; a longer wait must raise it", before, th.PriorityScore)
	}

	// Tick also queues the stale thread for annotation.
	select {
	case id := <-st.pipeline.annotateQ.ch:
		if id != res.Thread.ID {
			t.Fatalf("queued %s", id)
		}
	default:
		t.Fatalf("stale thread not queued")
	}
}

func TestBootstrap_RebuildsIndexFromStore(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	a := st.mustIngest(t, inbound(domain.ChannelEmail, "v@example.org", "shipping label missing", st.now))
	st.mustIngest(t, inbound(domain.ChannelSMS, "+15550004444", "wrong size delivered", st.now))
	if _, err := st.threads.AddNote(ctx, a.Thread.ID, "agent", "secret internal remark"); err != nil {
		t.Fatal(err)
	}

	idx := search.New()
	p := NewPipeline(st.db, priority.NewScorer(30, 12*time.Hour), annotate.Heuristic{}, idx, PipelineConfig{})
	t.Cleanup(p.Close)
	if err := p.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("indexed = %d, want 2", idx.Len())
	}
	if hits := idx.TopK("shipping label", 5); len(hits) != 1 || hits[0].ID != a.Thread.ID {
		t.Fatalf("hits = %+v", hits)
	}
	if hits := idx.TopK("secret remark", 5); len(hits) != 1 || hits[0].ID != a.Thread.ID {
		t.Fatalf("agent notes are searchable: %+v", hits)
	}

	views := 0
	if err := p.EachView(ctx, func(v domain.ThreadView) error {
		views++
		if v.MessageCount == 0 || len(v.Channels) != 1 {
			t.Errorf("view = %+v", v)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if views != 2 {
		t.Fatalf("views = %d", views)
	}
}

func TestRun_ProcessesQueuedWork(t *testing.T) {
	st := newStack(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.pipeline.Run(ctx) }()

	res := st.mustIngest(t, inbound(domain.ChannelEmail, "w@example.org", "I was charged twice, refund please", st.now))
	deadline := time.Now().Add(5 * time.Second)
	for {
		th, err := repo.GetThread(context.Background(), st.db, res.Thread.ID)
		if err == nil && !th.Stale() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline never annotated the thread")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestRefresh_SerializedPerThread(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()
	res := st.mustIngest(t, inbound(domain.ChannelEmail, "x@example.org", "where is my order", st.now))

	unlock := st.pipeline.refreshing.Lock(res.Thread.ID)
	done := make(chan error, 1)
	go func() { done <- st.pipeline.Refresh(ctx, res.Thread.ID) }()
	select {
	case <-done:
		t.Fatalf("refresh ran while another refresh held the thread")
	case <-time.After(50 * time.Millisecond):
	}
	// Other threads are not held up.
	other := st.mustIngest(t, inbound(domain.ChannelEmail, "y@example.org", "hi", st.now))
	if err := st.pipeline.Refresh(ctx, other.Thread.ID); err != nil {
		t.Fatalf("refresh other: %v", err)
	}

	unlock()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("refresh never resumed")
	}
	if n := st.pipeline.refreshing.held(); n != 0 {
		t.Fatalf("held keys = %d after refreshes", n)
	}
}
