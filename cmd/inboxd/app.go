package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/unified-inbox/internal/annotate"
	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/http/handlers"
	"github.com/tbourn/unified-inbox/internal/priority"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
	"github.com/tbourn/unified-inbox/internal/services"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg      config.Config
	db       *gorm.DB
	pipeline *services.Pipeline
	ingest   *services.IngestService
	ids      *services.IdentityService
	threads  *services.ThreadService
	feeds    *services.FeedService
}

// newApp opens the database, migrates it and wires the services. Feeds
// stored earlier are installed into the classification engine after the
// thread views are loaded.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := repo.OpenSQLite(cfg.DBPath, tracing.NewPlugin())
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), closeDB(db))
	}

	locks := services.NewKeyedMutex()
	idx := search.New()
	p := services.NewPipeline(db,
		priority.NewScorer(cfg.Feeds.WeightCap, cfg.Feeds.WaitSaturation),
		newAnnotator(cfg.Annotation), idx,
		services.PipelineConfig{
			Workers:        cfg.Pipeline.Workers,
			QueueSize:      cfg.Pipeline.QueueSize,
			RecentMessages: cfg.Annotation.RecentMessages,
		})

	threads := services.NewThreadService(db, locks, cfg.Threads.ContinuityWindow)
	threads.Notify = p
	threads.Feeds = p.Engine
	threads.Index = idx

	ids := services.NewIdentityService(db, locks, threads)
	ids.Notify = p
	ids.AutoMergeThreshold = cfg.Identity.AutoMergeThreshold
	ids.SuggestionFloor = cfg.Identity.SuggestionFloor
	ids.FuzzyRatio = cfg.Identity.FuzzyNameRatio
	ids.MergeRetries = cfg.Identity.MergeRetries

	a := &app{
		cfg:      cfg,
		db:       db,
		pipeline: p,
		ingest:   services.NewIngestService(db, locks, ids, threads),
		ids:      ids,
		threads:  threads,
		feeds:    services.NewFeedService(db, p.Engine, threads, cfg.Feeds.MembershipThreshold),
	}

	if err := p.Bootstrap(ctx); err != nil {
		return nil, errors.Join(err, a.close())
	}
	n, err := a.feeds.Load(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("load feeds: %w", err), a.close())
	}
	log.Info().Int("feeds", n).Str("db", cfg.DBPath).Msg("inbox ready")
	return a, nil
}

// seedFeeds creates the feeds of the configured seed file that do not
// exist yet.
func (a *app) seedFeeds(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	seeds, err := config.LoadFeedSeeds(path, a.cfg.Feeds.MembershipThreshold)
	if err != nil {
		return 0, err
	}
	return a.feeds.Seed(ctx, seeds)
}

func (a *app) handlers() *handlers.Handlers {
	return handlers.New(a.ingest, a.ids, a.threads, a.feeds)
}

func (a *app) close() error {
	a.pipeline.Close()
	return closeDB(a.db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newAnnotator picks the OpenAI annotator when a key is configured and
// the local heuristic otherwise, behind retries and a shared rate limit.
func newAnnotator(c config.AnnotationConfig) annotate.Annotator {
	var base annotate.Annotator = annotate.Heuristic{}
	if c.OpenAIKey != "" {
		base = annotate.NewOpenAI(c.OpenAIKey, c.OpenAIModel, c.OpenAIBaseURL)
		log.Info().Str("model", c.OpenAIModel).Msg("openai annotator enabled")
	}
	var limiter *rate.Limiter
	if c.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.RPS), 1)
	}
	r := annotate.NewResilient(base, annotate.RetryConfig{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.BackoffInitial,
		MaxBackoff:     c.BackoffMax,
		Timeout:        c.Timeout,
	}, limiter)
	r.OnRetry = func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("wait", wait).Str("component", "annotate").Msg("annotation attempt failed, retrying")
	}
	return r
}
