// Package wiring assembles the pipeline, scheduler and ranking components
// from a loaded configuration.
package wiring

import (
	"context"
	"errors"
	"fmt"

	"contentmill/internal/archive"
	"contentmill/internal/batch"
	"contentmill/internal/catalog"
	"contentmill/internal/config"
	"contentmill/internal/generate"
	"contentmill/internal/logging"
	"contentmill/internal/notify"
	"contentmill/internal/pipeline"
	"contentmill/internal/ranking"
	"contentmill/internal/scoring"
	"contentmill/internal/store"
	"contentmill/internal/trends"
)

// App holds every wired component. Close releases the store.
type App struct {
	Config       *config.Config
	Store        store.Store
	Catalog      *catalog.Catalog
	Orchestrator *pipeline.Orchestrator
	Scorer       *scoring.Engine
	Ranker       *ranking.Engine
	Provider     batch.CandidateProvider
	Scheduler    *batch.Scheduler
	Service      *batch.Service
	Usage        *generate.Tracker
}

type options struct {
	store      store.Store
	generators generate.Factory
	provider   batch.CandidateProvider
	archiver   batch.Archiver
	notifiers  []batch.Notifier
}

// Option overrides a component Build would otherwise create from config.
type Option func(*options)

func WithStore(st store.Store) Option { return func(o *options) { o.store = st } }
func WithGenerators(f generate.Factory) Option { return func(o *options) { o.generators = f } }
func WithProvider(p batch.CandidateProvider) Option { return func(o *options) { o.provider = p } }
func WithArchiver(a batch.Archiver) Option { return func(o *options) { o.archiver = a } }
func WithNotifier(n batch.Notifier) Option { return func(o *options) { o.notifiers = append(o.notifiers, n) } }

// Build wires an App from cfg. On error nothing is left open.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (app *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	app = &App{Config: cfg, Usage: generate.NewTracker(generate.DefaultPricing())}

	app.Store = o.store
	if app.Store == nil {
		if app.Store, err = OpenStore(ctx, cfg.Store.Driver, cfg.Store.DSN); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = app.Store.Close()
			}
		}()
	}

	if app.Catalog, err = catalog.Load(cfg.Catalog.Path); err != nil {
		return nil, err
	}

	gens := o.generators
	if gens == nil {
		gens, err = generate.New(ctx, cfg.Generation.Provider, generate.GeminiConfig{
			APIKey:          cfg.APIKey(),
			Model:           cfg.Generation.Model,
			Temperature:     cfg.Generation.Temperature,
			MaxOutputTokens: cfg.Generation.MaxOutputTokens,
			JSONMode:        true,
		})
		if err != nil {
			return nil, err
		}
	}
	gens = gens.Meter(app.Usage).Limit(generate.NewLimiter(cfg.Generation.RequestsPerMinute, cfg.Generation.Burst))

	reg, err := app.Catalog.Build(gens)
	if err != nil {
		return nil, err
	}
	app.Orchestrator = pipeline.NewOrchestrator(reg,
		pipeline.WithRecorder(app.Store),
		pipeline.WithStateLoader(app.Store),
		pipeline.WithStepTimeout(cfg.Generation.StepTimeout),
		pipeline.WithLogger(logging.New("pipeline")),
	)

	if app.Scorer, err = scoring.NewEngine(scoring.StandardFactors(),
		scoring.WithUntappedHalfLife(cfg.Scoring.UntappedHalfLife)); err != nil {
		return nil, err
	}

	rankOpts := []ranking.Option{
		ranking.WithTopN(cfg.Ranking.TopN),
		ranking.WithTimeout(cfg.Ranking.Timeout),
	}
	if cfg.Ranking.Reorder {
		rankOpts = append(rankOpts, ranking.WithReorderer(ranking.GeneratorReorderer{
			Generator: gens(pipeline.StepDescriptor{Name: "reorder"}),
			Audience:  cfg.Ranking.Audience,
		}))
	}
	if app.Ranker, err = ranking.NewEngine(rankOpts...); err != nil {
		return nil, err
	}

	app.Provider = o.provider
	if app.Provider == nil {
		app.Provider = Provider(cfg.Batch.Candidates)
	}

	schedOpts := []batch.SchedulerOption{batch.WithNotifier(notify.NewLog())}
	for _, n := range o.notifiers {
		schedOpts = append(schedOpts, batch.WithNotifier(n))
	}
	app.Scheduler = batch.NewScheduler(batch.Config{
		Concurrency:   cfg.Batch.Concurrency,
		ChunkPause:    cfg.Batch.ChunkPause,
		ProgressEvery: cfg.Batch.ProgressEvery,
		Mode:          batch.Mode(cfg.Batch.Mode),
	}, schedOpts...)

	arch := o.archiver
	if arch == nil {
		if arch, err = Archiver(ctx, cfg); err != nil {
			return nil, err
		}
	}
	var svcOpts []batch.ServiceOption
	if arch != nil {
		svcOpts = append(svcOpts, batch.WithArchiver(arch))
	}
	app.Service = batch.NewService(app.Store, app.Orchestrator, app.Scorer, app.Ranker, app.Provider, app.Scheduler, svcOpts...)

	logging.New("wiring").Debug("app wired",
		"store", cfg.Store.Driver, "provider", cfg.Generation.Provider,
		"steps", len(reg.Steps()), "reorder", cfg.Ranking.Reorder, "archive", arch != nil)
	return app, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// OpenStore opens the configured backend: memory, sqlite (dsn is a file
// path) or postgres (dsn is a connection URL).
func OpenStore(ctx context.Context, driver, dsn string) (store.Store, error) {
	switch driver {
	case "memory":
		return store.NewMemStore(), nil
	case "", "sqlite":
		if dsn == "" {
			dsn = store.DefaultDBPath
		}
		return store.Open(dsn)
	case "postgres":
		return store.OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// ErrNoCandidateSource is returned by the provider when no candidate file
// is configured.
var ErrNoCandidateSource = errors.New("no candidate file configured (set batch.candidates or --candidates)")

type noSource struct{}

func (noSource) Candidates(context.Context) ([]scoring.Candidate, error) {
	return nil, ErrNoCandidateSource
}

// Provider reads candidates from path on every batch.
func Provider(path string) batch.CandidateProvider {
	if path == "" {
		return noSource{}
	}
	return trends.FileProvider{Path: path}
}

// Archiver returns the MinIO archiver, or nil when no endpoint is set.
func Archiver(ctx context.Context, cfg *config.Config) (batch.Archiver, error) {
	ac := archive.Config{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Bucket:    cfg.Archive.Bucket,
		Region:    cfg.Archive.Region,
		Prefix:    cfg.Archive.Prefix,
		UseSSL:    cfg.Archive.UseSSL,
	}
	if !ac.Enabled() {
		return nil, nil
	}
	a, err := archive.New(ctx, ac)
	if err != nil {
		return nil, err
	}
	return a, nil
}
