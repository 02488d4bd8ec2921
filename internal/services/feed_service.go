package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/classify"
	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
)

const feedTracer = "services/FeedService"

// FeedIndex is the membership engine the FeedService keeps in sync with
// stored feed definitions. *classify.Engine implements it.
type FeedIndex interface {
	SetFeed(def classify.FeedDef) uint64
	DeleteFeed(feedID string)
	Members(feedID string) (map[string]float64, error)
	Status(feedID string) (classify.Status, error)
	Wait(ctx context.Context, feedID string, gen uint64) error
}

// FeedService manages feed definitions. Every edit is persisted first and
// then pushed to the membership engine, which re-scans the feed in the
// background and supersedes any re-scan still running for it.
type FeedService struct {
	DB               *gorm.DB
	Index            FeedIndex
	Threads          *ThreadService
	DefaultThreshold float64
}

// NewFeedService returns a FeedService over idx.
func NewFeedService(db *gorm.DB, idx FeedIndex, threads *ThreadService, defThreshold float64) *FeedService {
	return &FeedService{DB: db, Index: idx, Threads: threads, DefaultThreshold: defThreshold}
}

// FilterInput is one smart filter as submitted by the Console.
type FilterInput struct {
	Label     string           `json:"label"`
	Predicate domain.Predicate `json:"predicate"`
}

// FeedInput is a complete feed definition.
type FeedInput struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Threshold   *float64      `json:"threshold,omitempty"`
	Weight      int           `json:"weight"`
	Filters     []FilterInput `json:"filters"`
}

// FeedDetail is a feed with the re-scan it triggered.
type FeedDetail struct {
	Feed       domain.Feed     `json:"feed"`
	Generation uint64          `json:"generation"`
	Status     classify.Status `json:"status"`
}

func (s *FeedService) check(in *FeedInput) ([]domain.SmartFilter, float64, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, 0, fmt.Errorf("%w: name must not be empty", ErrInvalidFilter)
	}
	if len(in.Name) > 128 {
		return nil, 0, fmt.Errorf("%w: name longer than 128 bytes", ErrInvalidFilter)
	}
	th := s.DefaultThreshold
	if in.Threshold != nil {
		th = *in.Threshold
	}
	if th < 0 || th > 1 {
		return nil, 0, fmt.Errorf("%w: threshold must be in [0,1]", ErrInvalidFilter)
	}
	if in.Weight < 0 || in.Weight > 30 {
		return nil, 0, fmt.Errorf("%w: weight must be in [0,30]", ErrInvalidFilter)
	}
	out := make([]domain.SmartFilter, len(in.Filters))
	for i, f := range in.Filters {
		if err := f.Predicate.Validate(); err != nil {
			return nil, 0, fmt.Errorf("%w: filter %d: %v", ErrInvalidFilter, i, err)
		}
		out[i] = domain.SmartFilter{Label: strings.TrimSpace(f.Label), Predicate: f.Predicate}
	}
	return out, th, nil
}

// Create stores a new feed and starts its initial scan.
func (s *FeedService) Create(ctx context.Context, in FeedInput) (*FeedDetail, error) {
	ctx, span := observability.StartSpan(ctx, feedTracer, "Create")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	filters, th, err := s.check(&in)
	if err != nil {
		return nil, err
	}
	f, err := repo.CreateFeed(ctx, s.DB, domain.Feed{
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Threshold:   th,
		Weight:      in.Weight,
		Filters:     filters,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		err = ErrDuplicateFeed
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("feed.id", f.ID))
	return s.install(*f), nil
}

// Get returns a feed and its re-scan status.
func (s *FeedService) Get(ctx context.Context, id string) (*FeedDetail, error) {
	f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	st, _ := s.Index.Status(f.ID)
	return &FeedDetail{Feed: *f, Generation: st.Generation, Status: st}, nil
}

// List returns every feed ordered by name.
func (s *FeedService) List(ctx context.Context) ([]FeedDetail, error) {
	feeds, err := repo.ListFeeds(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]FeedDetail, len(feeds))
	for i, f := range feeds {
		st, _ := s.Index.Status(f.ID)
		out[i] = FeedDetail{Feed: f, Generation: st.Generation, Status: st}
	}
	return out, nil
}

// UpdateFilters replaces a feed's definition. version must match the
// stored feed; zero skips the check.
func (s *FeedService) UpdateFilters(ctx context.Context, id string, version int64, in FeedInput) (*FeedDetail, error) {
	ctx, span := observability.StartSpan(ctx, feedTracer, "UpdateFilters", attribute.String("feed.id", id))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name == "" {
		in.Name = cur.Name
	}
	if in.Threshold == nil {
		th := cur.Threshold
		in.Threshold = &th
	}
	filters, th, err := s.check(&in)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		version = cur.Version
	}
	_, err = repo.ReplaceFilters(ctx, s.DB, id, version, map[string]any{
		"name":        in.Name,
		"description": strings.TrimSpace(in.Description),
		"threshold":   th,
		"weight":      in.Weight,
	}, filters)
	switch {
	case errors.Is(err, repo.ErrStaleVersion):
		err = ErrConflictingVersion
		return nil, err
	case errors.Is(err, repo.ErrDuplicate):
		err = ErrDuplicateFeed
		return nil, err
	case err != nil:
		return nil, err
	}
	f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.install(*f), nil
}

// ReorderFilters changes the display order of a feed's filters. Order
// never affects membership, so no re-scan is started.
func (s *FeedService) ReorderFilters(ctx context.Context, id string, version int64, order []string) (*FeedDetail, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(order) != len(cur.Filters) {
		return nil, fmt.Errorf("%w: got %d ids for %d filters", ErrInvalidOrder, len(order), len(cur.Filters))
	}
	known := make(map[string]bool, len(cur.Filters))
	for _, f := range cur.Filters {
		known[f.ID] = true
	}
	for _, fid := range order {
		if !known[fid] {
			return nil, fmt.Errorf("%w: %q listed twice or not a filter of this feed", ErrInvalidOrder, fid)
		}
		delete(known, fid)
	}
	if version == 0 {
		version = cur.Version
	}
	if err := repo.SetFilterPositions(ctx, s.DB, id, version, order); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			return nil, ErrConflictingVersion
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a feed and its memberships.
func (s *FeedService) Delete(ctx context.Context, id string) error {
	err := repo.DeleteFeed(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrFeedNotFound
	}
	if err != nil {
		return err
	}
	s.Index.DeleteFeed(id)
	return nil
}

// ThreadsPage lists the open member threads of a feed in priority order.
func (s *FeedService) ThreadsPage(ctx context.Context, id string, page, pageSize int) ([]domain.Thread, int64, error) {
	members, err := s.Index.Members(id)
	if errors.Is(err, classify.ErrUnknownFeed) {
		return nil, 0, ErrFeedNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(members))
	for tid := range members {
		ids = append(ids, tid)
	}
	return s.Threads.page(ctx, repo.ThreadFilter{
		IDs:         ids,
		RestrictIDs: true,
		Statuses:    []domain.ThreadStatus{domain.ThreadOpen},
	}, page, pageSize)
}

// Status reports the re-scan state of a feed.
func (s *FeedService) Status(ctx context.Context, id string) (classify.Status, error) {
	st, err := s.Index.Status(id)
	if errors.Is(err, classify.ErrUnknownFeed) {
		return st, ErrFeedNotFound
	}
	return st, err
}

// WaitRescan blocks until the feed's re-scan of generation gen (or a
// later one) completed, or ctx ends.
func (s *FeedService) WaitRescan(ctx context.Context, id string, gen uint64) (classify.Status, error) {
	if err := s.Index.Wait(ctx, id, gen); err != nil {
		if errors.Is(err, classify.ErrUnknownFeed) {
			return classify.Status{}, ErrFeedNotFound
		}
		return classify.Status{}, err
	}
	return s.Status(ctx, id)
}

// Load pushes every stored feed into the engine; used at startup.
func (s *FeedService) Load(ctx context.Context) (int, error) {
	feeds, err := repo.ListFeeds(ctx, s.DB)
	if err != nil {
		return 0, err
	}
	for _, f := range feeds {
		s.Index.SetFeed(feedDef(f))
	}
	return len(feeds), nil
}

// Seed creates the seeded feeds whose names are not taken yet and reports
// how many were created.
func (s *FeedService) Seed(ctx context.Context, seeds []config.FeedSeed) (int, error) {
	created := 0
	for _, sd := range seeds {
		in := FeedInput{Name: sd.Name, Description: sd.Description, Threshold: sd.Threshold, Weight: sd.Weight}
		for _, fl := range sd.Filters {
			in.Filters = append(in.Filters, FilterInput{Label: fl.Label, Predicate: fl.Predicate.ToDomain()})
		}
		_, err := s.Create(ctx, in)
		if errors.Is(err, ErrDuplicateFeed) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed feed %q: %w", sd.Name, err)
		}
		created++
	}
	if created > 0 {
		log.Info().Str("component", "feeds").Int("created", created).Msg("feeds seeded")
	}
	return created, nil
}

func (s *FeedService) load(ctx context.Context, id string) (*domain.Feed, error) {
	f, err := repo.GetFeed(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFeedNotFound
	}
	return f, err
}

// install pushes f into the engine and returns its detail with the new
// generation.
func (s *FeedService) install(f domain.Feed) *FeedDetail {
	gen := s.Index.SetFeed(feedDef(f))
	st, _ := s.Index.Status(f.ID)
	return &FeedDetail{Feed: f, Generation: gen, Status: st}
}

func feedDef(f domain.Feed) classify.FeedDef {
	def := classify.FeedDef{ID: f.ID, Threshold: f.Threshold, Weight: f.Weight}
	for _, sf := range f.Filters {
		def.Filters = append(def.Filters, sf.Predicate)
	}
	return def
}
