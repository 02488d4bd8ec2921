package classify

import (
	"context"
	"errors"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// rescanBatch is how many views are applied per lock acquisition.
const rescanBatch = 256

var errSuperseded = errors.New("rescan superseded")

// SetFeed installs or replaces a feed definition and starts a background
// re-scan of every known thread for that feed alone. Any re-scan still
// running for the feed is cancelled. The returned generation can be
// passed to Wait.
func (e *Engine) SetFeed(def FeedDef) uint64 {
	def.Filters = append(def.Filters[:0:0], def.Filters...)

	e.mu.Lock()
	fs, ok := e.feeds[def.ID]
	if !ok {
		fs = &feedState{members: map[string]float64{}, signal: make(chan struct{})}
		e.feeds[def.ID] = fs
	}
	fs.def = def
	if fs.cancel != nil {
		fs.cancel()
	}
	fs.gen++
	gen := fs.gen
	ctx, cancel := context.WithCancel(e.baseCtx)
	fs.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go e.rescan(ctx, def.ID, gen)
	return gen
}

// DeleteFeed forgets a feed and cancels its re-scan.
func (e *Engine) DeleteFeed(feedID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fs, ok := e.feeds[feedID]
	if !ok {
		return
	}
	if fs.cancel != nil {
		fs.cancel()
	}
	close(fs.signal)
	delete(e.feeds, feedID)
}

// Wait blocks until the re-scan of the given generation, or a later one,
// has completed for the feed.
func (e *Engine) Wait(ctx context.Context, feedID string, gen uint64) error {
	for {
		e.mu.RLock()
		fs, ok := e.feeds[feedID]
		if !ok {
			e.mu.RUnlock()
			return ErrUnknownFeed
		}
		if fs.completed >= gen {
			err := fs.err
			e.mu.RUnlock()
			return err
		}
		sig := fs.signal
		e.mu.RUnlock()

		select {
		case <-sig:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) rescan(ctx context.Context, feedID string, gen uint64) {
	defer e.wg.Done()

	seen := map[string]struct{}{}
	var changed []string
	batch := make([]domain.ThreadView, 0, rescanBatch)

	flush := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		fs, ok := e.feeds[feedID]
		if !ok || fs.gen != gen {
			return errSuperseded
		}
		for _, v := range batch {
			seen[v.ThreadID] = struct{}{}
			cur, ok := e.views[v.ThreadID]
			if !ok || cur.Version < v.Version {
				// The source is ahead of the incremental path: adopt its
				// view for every feed.
				e.views[v.ThreadID] = v
				for id, other := range e.feeds {
					if id != feedID {
						other.score(v)
					}
				}
				cur = v
			}
			if fs.score(cur) {
				changed = append(changed, v.ThreadID)
			}
		}
		batch = batch[:0]
		return nil
	}

	err := e.source.EachView(ctx, func(v domain.ThreadView) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, v)
		if len(batch) >= rescanBatch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if errors.Is(err, errSuperseded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	fs, ok := e.feeds[feedID]
	if !ok || fs.gen != gen {
		e.mu.Unlock()
		return
	}
	if err == nil {
		// Threads the engine learned about while the source was being
		// read are scored from the cache; members the source no longer
		// knows about are dropped.
		for id, v := range e.views {
			if _, ok := seen[id]; !ok && fs.score(v) {
				changed = append(changed, id)
			}
		}
		for id := range fs.members {
			if _, ok := seen[id]; ok {
				continue
			}
			if _, cached := e.views[id]; !cached {
				delete(fs.members, id)
				changed = append(changed, id)
			}
		}
	}
	fs.err = err
	fs.completed = gen
	close(fs.signal)
	fs.signal = make(chan struct{})
	onDone := e.onDone
	e.mu.Unlock()

	if onDone != nil && err == nil {
		onDone(feedID, gen, changed)
	}
}
