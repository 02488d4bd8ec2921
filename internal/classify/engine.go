// Package classify maintains feed memberships. Each feed keeps its member
// set as a map from thread ID to confidence that is updated in place as
// thread views change; a full re-scan happens only when a feed's
// definition is edited, and runs in the background.
package classify

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// ErrUnknownFeed is returned for feed IDs the engine has never seen.
var ErrUnknownFeed = errors.New("unknown feed")

// FeedDef is the part of a feed the engine evaluates.
type FeedDef struct {
	ID        string
	Threshold float64
	Weight    int
	Filters   []domain.Predicate
}

// Membership is one (feed, confidence) pair of a thread.
type Membership struct {
	FeedID     string  `json:"feed_id"`
	Confidence float64 `json:"confidence"`
	Weight     int     `json:"weight"`
}

// ViewSource yields the current views of all classifiable threads.
// fn is called once per view; returning a non-nil error stops iteration.
type ViewSource interface {
	EachView(ctx context.Context, fn func(domain.ThreadView) error) error
}

// RescanDone is notified when a re-scan completes. changed lists the
// threads whose membership in the feed changed.
type RescanDone func(feedID string, generation uint64, changed []string)

// Engine is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	feeds  map[string]*feedState
	views  map[string]domain.ThreadView
	source ViewSource
	onDone RescanDone

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

type feedState struct {
	def     FeedDef
	members map[string]float64

	gen       uint64 // latest requested re-scan
	completed uint64 // latest finished re-scan
	err       error  // outcome of the completed re-scan
	cancel    context.CancelFunc
	signal    chan struct{} // closed and replaced whenever completed advances
}

// NewEngine returns an empty engine. src feeds re-scans; onDone may be nil.
func NewEngine(src ViewSource, onDone RescanDone) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		feeds:   map[string]*feedState{},
		views:   map[string]domain.ThreadView{},
		source:  src,
		onDone:  onDone,
		baseCtx: ctx,
		stop:    cancel,
	}
}

// Close cancels running re-scans and waits for them to exit.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}

// Confidence is the mean of the filter scores of def against v; a feed
// without filters scores 0. Scores are summed in sorted order so the
// result does not depend on filter order.
func Confidence(def FeedDef, v domain.ThreadView) float64 {
	if len(def.Filters) == 0 {
		return 0
	}
	scores := make([]float64, len(def.Filters))
	for i, p := range def.Filters {
		scores[i] = clampUnit(p.Score(v))
	}
	sort.Float64s(scores)
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func clampUnit(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Classify evaluates v against every feed without touching stored state.
func (e *Engine) Classify(v domain.ThreadView) []Membership {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Membership
	for _, fs := range e.feeds {
		if c := Confidence(fs.def, v); c >= fs.def.Threshold {
			out = append(out, Membership{FeedID: fs.def.ID, Confidence: c, Weight: fs.def.Weight})
		}
	}
	sortMemberships(out)
	return out
}

// Update records v and re-scores it against every feed when its
// classification-relevant fields changed. A view older than the stored
// one is ignored. It returns the thread's memberships and whether any of
// them changed.
func (e *Engine) Update(v domain.ThreadView) ([]Membership, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.views[v.ThreadID]; ok {
		if v.Version < prev.Version {
			return e.membershipsLocked(v.ThreadID), false
		}
		if prev.SameClassification(v) {
			e.views[v.ThreadID] = v
			return e.membershipsLocked(v.ThreadID), false
		}
	}
	changed := e.applyLocked(v)
	return e.membershipsLocked(v.ThreadID), changed
}

func (e *Engine) applyLocked(v domain.ThreadView) bool {
	e.views[v.ThreadID] = v
	changed := false
	for _, fs := range e.feeds {
		changed = fs.score(v) || changed
	}
	return changed
}

// score updates the membership of v in the feed and reports a change.
func (fs *feedState) score(v domain.ThreadView) bool {
	c := Confidence(fs.def, v)
	old, was := fs.members[v.ThreadID]
	if c >= fs.def.Threshold {
		fs.members[v.ThreadID] = c
		return !was || old != c
	}
	if was {
		delete(fs.members, v.ThreadID)
		return true
	}
	return false
}

// Remove drops a thread from every feed, e.g. once it is archived or
// merged away.
func (e *Engine) Remove(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.views, threadID)
	for _, fs := range e.feeds {
		delete(fs.members, threadID)
	}
}

// Memberships returns the stored memberships of a thread.
func (e *Engine) Memberships(threadID string) []Membership {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.membershipsLocked(threadID)
}

func (e *Engine) membershipsLocked(threadID string) []Membership {
	out := []Membership{}
	for id, fs := range e.feeds {
		if c, ok := fs.members[threadID]; ok {
			out = append(out, Membership{FeedID: id, Confidence: c, Weight: fs.def.Weight})
		}
	}
	sortMemberships(out)
	return out
}

func sortMemberships(ms []Membership) {
	slices.SortFunc(ms, func(a, b Membership) int {
		switch {
		case a.FeedID < b.FeedID:
			return -1
		case a.FeedID > b.FeedID:
			return 1
		}
		return 0
	})
}

// Members returns a copy of the feed's member set.
func (e *Engine) Members(feedID string) (map[string]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fs, ok := e.feeds[feedID]
	if !ok {
		return nil, ErrUnknownFeed
	}
	out := make(map[string]float64, len(fs.members))
	for k, v := range fs.members {
		out[k] = v
	}
	return out, nil
}

// Status describes the re-scan state of a feed.
type Status struct {
	Generation uint64 `json:"generation"`
	Completed  uint64 `json:"completed"`
	Running    bool   `json:"running"`
	Members    int    `json:"members"`
	Error      string `json:"error,omitempty"`
}

// Status reports the re-scan progress of a feed.
func (e *Engine) Status(feedID string) (Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fs, ok := e.feeds[feedID]
	if !ok {
		return Status{}, ErrUnknownFeed
	}
	st := Status{
		Generation: fs.gen,
		Completed:  fs.completed,
		Running:    fs.completed < fs.gen,
		Members:    len(fs.members),
	}
	if fs.err != nil {
		st.Error = fs.err.Error()
	}
	return st, nil
}
