// Package engine prices P2P bridge routes and searches the configured
// markets for profitable ones.
package engine

import (
	"strings"
	"sync/atomic"

	"github.com/newthinker/p2parb/internal/config"
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/metrics"
	"go.uber.org/zap"
)

// Settings are the tunables read alongside markets and rates.
type Settings struct {
	ProfitThresholdPct float64
	CyclesPerRotation  int
	DefaultMethod      core.ConversionMethod
}

// Snapshot is an immutable view of markets, rates and settings. Readers
// never see a partially reloaded configuration.
type Snapshot struct {
	markets    []core.Market
	byCurrency map[string]core.Market
	rates      core.RateTable
	settings   Settings
}

// NewSnapshot copies its inputs. When a currency appears twice the first
// market wins.
func NewSnapshot(markets []core.Market, rates core.RateTable, settings Settings) *Snapshot {
	if settings.CyclesPerRotation < 1 {
		settings.CyclesPerRotation = 1
	}
	if settings.DefaultMethod == "" {
		settings.DefaultMethod = core.MethodForex
	}

	s := &Snapshot{
		markets:    make([]core.Market, len(markets)),
		byCurrency: make(map[string]core.Market, len(markets)),
		rates:      rates.Clone(),
		settings:   settings,
	}
	copy(s.markets, markets)
	for _, m := range s.markets {
		if _, dup := s.byCurrency[m.Currency]; !dup {
			s.byCurrency[m.Currency] = m
		}
	}
	return s
}

// SnapshotFromConfig builds a snapshot from a loaded configuration.
func SnapshotFromConfig(cfg *config.Config) (*Snapshot, error) {
	method, err := cfg.ConversionMethod()
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	return NewSnapshot(cfg.Markets, cfg.ForexRates, Settings{
		ProfitThresholdPct: cfg.ProfitThresholdPct,
		CyclesPerRotation:  cfg.CyclesPerRotation,
		DefaultMethod:      method,
	}), nil
}

// Markets returns a copy of the configured markets in config order.
func (s *Snapshot) Markets() []core.Market {
	out := make([]core.Market, len(s.markets))
	copy(out, s.markets)
	return out
}

// Market looks up a market by currency code.
func (s *Snapshot) Market(currency string) (core.Market, bool) {
	m, ok := s.byCurrency[currency]
	return m, ok
}

// HasMarket reports whether a market exists for the currency.
func (s *Snapshot) HasMarket(currency string) bool {
	_, ok := s.byCurrency[currency]
	return ok
}

// Rates returns a copy of the rate table.
func (s *Snapshot) Rates() core.RateTable {
	return s.rates.Clone()
}

// Settings returns the snapshot settings.
func (s *Snapshot) Settings() Settings {
	return s.settings
}

// Engine evaluates routes against the current snapshot. It is safe for
// concurrent use; Reload swaps the snapshot atomically.
type Engine struct {
	snap    atomic.Pointer[Snapshot]
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records route and search metrics into reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) {
		e.metrics = reg
	}
}

// New creates an engine over snap.
func New(snap *Snapshot, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	e.snap.Store(snap)
	return e
}

// Snapshot returns the snapshot currently in use.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Reload replaces the snapshot. In-flight calls finish on the old one.
func (e *Engine) Reload(snap *Snapshot) {
	e.snap.Store(snap)
	e.logger.Info("configuration reloaded",
		zap.Int("markets", len(snap.markets)),
		zap.Int("rates", len(snap.rates)),
	)
}

// ValidateSnapshot runs the coherence checks on the current snapshot and
// records one metric per alert.
func (e *Engine) ValidateSnapshot() []Alert {
	s := e.Snapshot()
	alerts := ValidateConfig(s.markets, s.rates)
	for _, a := range alerts {
		e.metrics.RecordAlert(string(a.Type), string(a.Severity))
	}
	return alerts
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
