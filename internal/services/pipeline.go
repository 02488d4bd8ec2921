package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/annotate"
	"github.com/tbourn/unified-inbox/internal/classify"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/priority"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
)

const pipelineTracer = "services/Pipeline"

// sweepBatch is the page size of background sweeps over open threads.
const sweepBatch = 256

// Pipeline keeps derived thread state current off the ingest path. It
// owns the feed membership engine, recomputes views, memberships and
// priority scores on the refresh queue, and calls the annotation service
// on the annotate queue. Both queues deduplicate thread IDs; when a queue
// is full the job is dropped and the periodic Tick picks it up.
//
// Pipeline implements Notifier so the thread and identity services can
// report changes to it.
type Pipeline struct {
	DB        *gorm.DB
	Engine    *classify.Engine
	Scorer    priority.Scorer
	Annotator annotate.Annotator
	Index     *search.Index

	RecentMessages int
	Workers        int

	// Now is the clock for wait-time computations.
	Now func() time.Time

	refreshQ  *jobQueue
	annotateQ *jobQueue
	// refreshing holds a thread while its view is rebuilt, so a refresh
	// always reads the store after the previous one wrote the engine.
	refreshing *KeyedMutex
}

// PipelineConfig sizes a Pipeline.
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	RecentMessages int
}

// NewPipeline builds a Pipeline and its classification engine.
func NewPipeline(db *gorm.DB, scorer priority.Scorer, ann annotate.Annotator, idx *search.Index, cfg PipelineConfig) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1024
	}
	if cfg.RecentMessages < 1 {
		cfg.RecentMessages = 20
	}
	p := &Pipeline{
		DB:             db,
		Scorer:         scorer,
		Annotator:      ann,
		Index:          idx,
		RecentMessages: cfg.RecentMessages,
		Workers:        cfg.Workers,
		Now:            time.Now,
		refreshQ:       newJobQueue("refresh", cfg.QueueSize),
		annotateQ:      newJobQueue("annotate", cfg.QueueSize),
		refreshing:     NewKeyedMutex(),
	}
	p.Engine = classify.NewEngine(p, p.onRescanDone)
	return p
}

// Close stops in-flight re-scans.
func (p *Pipeline) Close() { p.Engine.Close() }

// ThreadChanged schedules a refresh and, when reannotate is set, a new
// annotation.
func (p *Pipeline) ThreadChanged(threadID string, reannotate bool) {
	p.EnqueueRefresh(threadID)
	if reannotate {
		p.EnqueueAnnotate(threadID)
	}
}

// ThreadClosed drops a thread from feeds and search. Queued work for it
// finds the thread closed and does nothing.
func (p *Pipeline) ThreadClosed(threadID string) {
	unlock := p.refreshing.Lock(threadID)
	defer unlock()
	p.drop(threadID)
}

func (p *Pipeline) drop(threadID string) {
	p.Engine.Remove(threadID)
	if p.Index != nil {
		p.Index.Remove(threadID)
	}
}

// EnqueueRefresh queues a view refresh; it never blocks.
func (p *Pipeline) EnqueueRefresh(threadID string) bool { return p.refreshQ.push(threadID) }

// EnqueueAnnotate queues an annotation; it never blocks.
func (p *Pipeline) EnqueueAnnotate(threadID string) bool { return p.annotateQ.push(threadID) }

// Run processes both queues until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Workers; i++ {
		g.Go(func() error { return p.work(ctx, p.refreshQ, p.Refresh) })
		g.Go(func() error { return p.work(ctx, p.annotateQ, p.Annotate) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) work(ctx context.Context, q *jobQueue, fn func(context.Context, string) error) error {
	logger := log.With().Str("component", "pipeline").Str("queue", q.name).Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-q.ch:
			q.done(id)
			if err := runJob(ctx, id, fn); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("thread_id", id).Msg("job failed")
			}
		}
	}
}

// runJob isolates a panicking job from the worker.
func runJob(ctx context.Context, id string, fn func(context.Context, string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, id)
}

// Refresh rebuilds a thread's view, updates its feed memberships and
// stores its priority score. Closed or missing threads are removed from
// the engine and the search index.
func (p *Pipeline) Refresh(ctx context.Context, threadID string) error {
	unlock := p.refreshing.Lock(threadID)
	defer unlock()

	th, err := repo.GetThread(ctx, p.DB, threadID)
	if errors.Is(err, repo.ErrNotFound) {
		p.drop(threadID)
		return nil
	}
	if err != nil {
		return err
	}
	if th.Status != domain.ThreadOpen {
		p.drop(threadID)
		return nil
	}
	c, err := repo.GetContact(ctx, p.DB, th.ContactID)
	if err != nil {
		return err
	}
	ann, err := repo.GetAnnotation(ctx, p.DB, th.ID)
	if err != nil {
		return err
	}
	chans, err := repo.ThreadChannels(ctx, p.DB, []string{th.ID})
	if err != nil {
		return err
	}
	v := domain.BuildView(*th, c.Tier, ann, chans[th.ID], p.Now().UTC())
	ms, _ := p.Engine.Update(v)
	if _, err := repo.SetPriorityScore(ctx, p.DB, th.ID, p.score(v, ms)); err != nil {
		return err
	}
	return p.index(ctx, th)
}

func (p *Pipeline) score(v domain.ThreadView, ms []classify.Membership) int {
	weights := make([]int, len(ms))
	for i, m := range ms {
		weights[i] = m.Weight
	}
	return p.Scorer.Score(priority.Input{
		Sentiment:   v.Sentiment,
		FeedWeights: weights,
		Tier:        v.CustomerTier,
		Wait:        v.WaitTime,
	}).Total
}

// index refreshes the thread's search document when the thread changed
// since it was last indexed.
func (p *Pipeline) index(ctx context.Context, th *domain.Thread) error {
	if p.Index == nil {
		return nil
	}
	stamp := th.UpdatedAt.UnixNano()
	if cur, ok := p.Index.Version(th.ID); ok && cur >= stamp {
		return nil
	}
	msgs, err := repo.ListMessages(ctx, p.DB, th.ID, true)
	if err != nil {
		return err
	}
	segs := make([]string, 0, len(msgs)+1)
	segs = append(segs, th.Subject)
	for _, m := range msgs {
		segs = append(segs, m.Body)
	}
	p.Index.Upsert(th.ID, stamp, segs)
	return nil
}

// Annotate asks the annotation service about a stale open thread and
// stores the result if the thread has not moved on in the meantime.
// Failures leave the previous annotation in place and flag the thread.
func (p *Pipeline) Annotate(ctx context.Context, threadID string) error {
	ctx, span := observability.StartSpan(ctx, pipelineTracer, "Annotate", attribute.String("thread.id", threadID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	th, err := repo.GetThread(ctx, p.DB, threadID)
	if errors.Is(err, repo.ErrNotFound) {
		err = nil
		return nil
	}
	if err != nil {
		return err
	}
	if th.Status != domain.ThreadOpen || !th.Stale() {
		return nil
	}
	msgs, err := repo.RecentMessages(ctx, p.DB, th.ID, p.RecentMessages)
	if err != nil {
		return err
	}
	req := annotate.Request{ThreadID: th.ID, AnnotationVersion: th.Version, Messages: make([]annotate.Message, len(msgs))}
	for i, m := range msgs {
		req.Messages[i] = annotate.Message{
			Channel:      m.Channel,
			FromCustomer: m.SenderIdentityID != nil,
			SentAt:       m.SentAt,
			Body:         m.Body,
		}
	}

	start := time.Now()
	resp, aerr := p.Annotator.Annotate(ctx, req)
	secs := time.Since(start).Seconds()
	if aerr != nil {
		if ctx.Err() != nil {
			return nil
		}
		observability.Annotation("failed", secs)
		log.Warn().Err(aerr).Str("component", "pipeline").Str("thread_id", th.ID).
			Int64("version", th.Version).Msg("annotation unavailable; keeping previous snapshot")
		if err = repo.MarkAnnotationFailed(ctx, p.DB, th.ID, th.Version); err != nil && !errors.Is(err, repo.ErrStaleVersion) {
			return err
		}
		err = nil
		p.EnqueueRefresh(th.ID)
		return nil
	}
	if resp.ComputedForVersion == 0 {
		resp.ComputedForVersion = req.AnnotationVersion
	}

	stored, err := p.store(ctx, th.ID, resp)
	if err != nil {
		return err
	}
	if !stored {
		observability.Annotation("dropped", secs)
		return nil
	}
	observability.Annotation("stored", secs)
	return p.Refresh(ctx, th.ID)
}

// store saves resp unless the thread's version moved past the one it was
// computed for, or the thread closed.
func (p *Pipeline) store(ctx context.Context, threadID string, resp annotate.Response) (bool, error) {
	stored := false
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		th, err := repo.GetThread(ctx, tx, threadID)
		if err != nil {
			return err
		}
		if th.Status != domain.ThreadOpen || resp.ComputedForVersion < th.Version {
			return nil
		}
		ok, err := repo.SaveAnnotation(ctx, tx, domain.AnnotationSnapshot{
			ThreadID:           threadID,
			Sentiment:          resp.Sentiment,
			Intent:             resp.Intent,
			Tasks:              resp.Tasks,
			Deadlines:          resp.Deadlines,
			Confidence:         resp.Confidence,
			SuggestedTags:      resp.SuggestedTags,
			SuggestedPriority:  resp.SuggestedPriority,
			ComputedForVersion: resp.ComputedForVersion,
		})
		if err != nil || !ok {
			return err
		}
		if err := repo.SetAnnotatedVersion(ctx, tx, threadID, th.Version); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if errors.Is(err, repo.ErrStaleVersion) || errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return stored, err
}

// Tick refreshes every open thread, so wait-time driven scores advance,
// and queues stale threads for annotation.
func (p *Pipeline) Tick(ctx context.Context) error {
	logger := log.With().Str("component", "pipeline").Logger()
	after, refreshed := "", 0
	for {
		batch, err := repo.OpenThreadsAfter(ctx, p.DB, after, sweepBatch)
		if err != nil {
			return err
		}
		for _, th := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := runJob(ctx, th.ID, p.Refresh); err != nil {
				logger.Error().Err(err).Str("thread_id", th.ID).Msg("tick refresh failed")
				continue
			}
			refreshed++
		}
		if len(batch) < sweepBatch {
			break
		}
		after = batch[len(batch)-1].ID
	}

	stale, err := repo.StaleThreadIDs(ctx, p.DB, 4*sweepBatch)
	if err != nil {
		return err
	}
	for _, id := range stale {
		p.EnqueueAnnotate(id)
	}
	logger.Debug().Int("refreshed", refreshed).Int("stale", len(stale)).Msg("tick")
	return nil
}

// EachView yields the current view of every open thread; it backs feed
// re-scans.
func (p *Pipeline) EachView(ctx context.Context, fn func(domain.ThreadView) error) error {
	after := ""
	for {
		batch, err := repo.OpenThreadsAfter(ctx, p.DB, after, sweepBatch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		contactIDs := make([]string, len(batch))
		for i, th := range batch {
			ids[i], contactIDs[i] = th.ID, th.ContactID
		}
		contacts, err := repo.GetContacts(ctx, p.DB, contactIDs)
		if err != nil {
			return err
		}
		anns, err := repo.GetAnnotations(ctx, p.DB, ids)
		if err != nil {
			return err
		}
		chans, err := repo.ThreadChannels(ctx, p.DB, ids)
		if err != nil {
			return err
		}
		now := p.Now().UTC()
		for _, th := range batch {
			v := domain.BuildView(th, contacts[th.ContactID].Tier, anns[th.ID], chans[th.ID], now)
			if err := fn(v); err != nil {
				return err
			}
		}
		if len(batch) < sweepBatch {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

// Bootstrap loads every open thread into the engine and rebuilds the
// search index. Call it before installing feeds.
func (p *Pipeline) Bootstrap(ctx context.Context) error {
	n := 0
	if err := p.EachView(ctx, func(v domain.ThreadView) error {
		p.Engine.Update(v)
		n++
		return nil
	}); err != nil {
		return fmt.Errorf("load thread views: %w", err)
	}
	if err := p.rebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}
	log.Info().Str("component", "pipeline").Int("threads", n).Msg("pipeline bootstrapped")
	return nil
}

func (p *Pipeline) rebuildIndex(ctx context.Context) error {
	if p.Index == nil {
		return nil
	}
	bodies := map[string][]string{}
	after := ""
	for {
		msgs, err := repo.SearchableMessages(ctx, p.DB, after, 4*sweepBatch)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			bodies[m.ThreadID] = append(bodies[m.ThreadID], m.Body)
		}
		if len(msgs) < 4*sweepBatch {
			break
		}
		after = msgs[len(msgs)-1].ID
	}
	ids := make([]string, 0, len(bodies))
	for id := range bodies {
		ids = append(ids, id)
	}
	threads, err := repo.GetThreads(ctx, p.DB, ids)
	if err != nil {
		return err
	}
	for id, th := range threads {
		p.Index.Upsert(id, th.UpdatedAt.UnixNano(), append([]string{th.Subject}, bodies[id]...))
	}
	return nil
}

func (p *Pipeline) onRescanDone(feedID string, gen uint64, changed []string) {
	observability.Rescan(feedID)
	log.Info().Str("component", "classify").Str("feed_id", feedID).
		Uint64("generation", gen).Int("changed", len(changed)).Msg("feed re-scan completed")
	for _, id := range changed {
		p.EnqueueRefresh(id)
	}
}

// jobQueue is a bounded FIFO of thread IDs that holds each ID at most
// once.
type jobQueue struct {
	name    string
	ch      chan string
	mu      sync.Mutex
	pending map[string]struct{}
}

func newJobQueue(name string, size int) *jobQueue {
	return &jobQueue{name: name, ch: make(chan string, size), pending: map[string]struct{}{}}
}

// push enqueues id unless it is already waiting. It reports false when
// the queue is full.
func (q *jobQueue) push(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; ok {
		return true
	}
	select {
	case q.ch <- id:
		q.pending[id] = struct{}{}
		observability.QueueDepth(q.name, len(q.ch))
		return true
	default:
		observability.QueueDropped(q.name)
		return false
	}
}

// done releases id so it can be queued again while being processed.
func (q *jobQueue) done(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	observability.QueueDepth(q.name, len(q.ch))
	q.mu.Unlock()
}
