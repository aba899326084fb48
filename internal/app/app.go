package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/p2parb/internal/briefing"
	"github.com/newthinker/p2parb/internal/config"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/journal"
	"github.com/newthinker/p2parb/internal/kpi"
	"github.com/newthinker/p2parb/internal/metrics"
	"github.com/newthinker/p2parb/internal/rotation"
	"github.com/newthinker/p2parb/internal/simulation"
	"github.com/newthinker/p2parb/internal/storage/archive"
	"go.uber.org/zap"
)

// App wires every component from one configuration.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time

	engine       *engine.Engine
	journal      *journal.TransactionLog
	debrief      *journal.DebriefLog
	rotations    *rotation.Manager
	simRotations *rotation.Manager
	archive      archive.Storage
	briefing     *briefing.Service
	reporter     *kpi.Reporter
	simulator    *simulation.Simulator

	mu     sync.Mutex
	closed bool
}

// Option configures an App.
type Option func(*App)

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// WithArchive replaces the archive backend selected by the configuration.
func WithArchive(store archive.Storage) Option {
	return func(a *App) {
		a.archive = store
	}
}

// New creates a new App instance. The configuration is validated and the
// engine snapshot built before any file is touched.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	snap, err := engine.SnapshotFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRegistry(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.archive == nil {
		if a.archive, err = archive.NewFromConfig(cfg.Archive); err != nil {
			return nil, fmt.Errorf("creating archive: %w", err)
		}
	}

	a.rotations, err = rotation.Open(cfg.Files.RotationState, logger.Named("rotation"), rotation.WithClock(a.now))
	if err != nil {
		return nil, fmt.Errorf("opening rotation state: %w", err)
	}
	a.simRotations, err = rotation.Open(cfg.Files.SimulationState, logger.Named("simulation"), rotation.WithClock(a.now))
	if err != nil {
		return nil, fmt.Errorf("opening simulation state: %w", err)
	}

	a.engine = engine.New(snap, logger.Named("engine"), engine.WithMetrics(a.metrics))
	a.journal = journal.NewTransactionLog(cfg.Files.Transactions, a.metrics, journal.WithLogger(logger.Named("journal")))
	a.debrief = journal.NewDebriefLog(cfg.Files.Debriefing, journal.WithLogger(logger.Named("journal")))
	a.reporter = kpi.NewReporter(a.archive, logger.Named("kpi"), a.metrics)

	a.briefing = briefing.New(briefing.Deps{
		Engine:    a.engine,
		Journal:   a.journal,
		Debrief:   a.debrief,
		Rotations: a.rotations,
		Plans:     a.archive,
		Logger:    logger.Named("briefing"),
		Metrics:   a.metrics,
	}, briefing.WithClock(a.now))

	a.simulator = simulation.New(simulation.Deps{
		Engine:    a.engine,
		Rotations: a.simRotations,
		Store:     a.archive,
		Logger:    logger.Named("simulation"),
		Metrics:   a.metrics,
	}, simulation.WithClock(a.now))

	return a, nil
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Logger() *zap.Logger { return a.logger }
func (a *App) Metrics() *metrics.Registry { return a.metrics }
func (a *App) Engine() *engine.Engine { return a.engine }
func (a *App) Journal() *journal.TransactionLog { return a.journal }
func (a *App) Debrief() *journal.DebriefLog { return a.debrief }
func (a *App) Rotations() *rotation.Manager { return a.rotations }
func (a *App) Archive() archive.Storage { return a.archive }
func (a *App) Briefing() *briefing.Service { return a.briefing }
func (a *App) Reporter() *kpi.Reporter { return a.reporter }
func (a *App) Simulator() *simulation.Simulator { return a.simulator }

// Reload re-reads the configuration file and swaps the engine snapshot.
// Only market prices, rates and engine settings take effect; file and
// archive locations keep their startup values.
func (a *App) Reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	snap, err := engine.SnapshotFromConfig(cfg)
	if err != nil {
		return err
	}
	a.engine.Reload(snap)
	a.logger.Info("configuration reloaded", zap.Int("markets", len(cfg.Markets)))
	return nil
}

// Report summarizes the whole journal and archives the daily and monthly
// KPI files.
func (a *App) Report(ctx context.Context) ([]kpi.RotationSummary, *kpi.SaveResult, error) {
	entries, err := a.journal.Entries()
	if err != nil {
		return nil, nil, err
	}
	summaries := kpi.Summarize(entries, a.logger.Named("kpi"))
	res, err := a.reporter.Save(ctx, summaries, entries, a.now())
	if err != nil {
		return summaries, nil, err
	}
	return summaries, res, nil
}

// Close flushes metrics to the textfile when enabled. It is safe to call
// more than once.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	if !a.cfg.Metrics.Enabled {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warn("writing metrics textfile", zap.Error(err))
		return err
	}
	return nil
}
