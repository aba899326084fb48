// Package simulation replays a rotation on configured prices: it picks a
// route, prices every cycle with the compounding bridge amount and archives
// the resulting journal, plan and report.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/journal"
	"github.com/newthinker/p2parb/internal/metrics"
	"github.com/newthinker/p2parb/internal/money"
	"github.com/newthinker/p2parb/internal/rotation"
	"github.com/newthinker/p2parb/internal/storage/archive"
	"go.uber.org/zap"
)

const (
	// MaxCapital bounds the simulated initial capital.
	MaxCapital = 1_000_000.0

	// MaxCycles bounds the number of simulated cycles.
	MaxCycles = 100

	paymentMethod  = "Simulation"
	forexMethod    = "Forex"
	forexCounterID = "FOREX_SIM"
)

// Output file names inside a simulation directory.
const (
	TransactionsFile = "transactions.csv"
	PlanFile         = "plan.json"
	ConfigFile       = "simulation_config.json"
	ReportFile       = "simulation_report.txt"
)

// Simulator runs simulated rotations against the engine's current snapshot.
type Simulator struct {
	engine    *engine.Engine
	rotations *rotation.Manager
	store     archive.Storage
	logger    *zap.Logger
	metrics   *metrics.Registry
	now       func() time.Time
	newID     func() string
}

// Deps are the collaborators of a Simulator.
type Deps struct {
	Engine    *engine.Engine
	Rotations *rotation.Manager
	Store     archive.Storage
	Logger    *zap.Logger
	Metrics   *metrics.Registry
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

// WithIDs overrides the simulation id generator.
func WithIDs(newID func() string) Option {
	return func(s *Simulator) {
		s.newID = newID
	}
}

// New creates a new Simulator
func New(deps Deps, opts ...Option) *Simulator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		engine:    deps.Engine,
		rotations: deps.Rotations,
		store:     deps.Store,
		logger:    logger,
		metrics:   deps.Metrics,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir is the archive directory of a simulation.
func Dir(id string) string {
	return path.Join("simulations", id)
}

// Run executes a simulation. Cycles after the first buy with the loop
// currency (EUR when unset) and sell in the chosen route's selling market.
// A cycle that cannot be priced ends the simulation early; the cycles
// already run are still archived.
func (s *Simulator) Run(ctx context.Context, p Params) (*Result, error) {
	res, err := s.run(ctx, p)
	switch {
	case err == nil && res.Stopped:
		s.metrics.RecordSimulation("stopped")
	case err == nil:
		s.metrics.RecordSimulation("ok")
	case errors.Is(err, core.ErrNoRoute):
		s.metrics.RecordSimulation("no_route")
	default:
		s.metrics.RecordSimulation("failed")
	}
	return res, err
}

func (s *Simulator) run(ctx context.Context, p Params) (*Result, error) {
	snap := s.engine.Snapshot()
	p, src, err := normalize(snap, p)
	if err != nil {
		return nil, err
	}

	initial := p.Capital / (src.BuyPrice * (1 + src.FeePct/100))
	if !(initial > 0) || math.IsInf(initial, 0) {
		return nil, core.Errorf(core.ErrInvalidInput, "capital %v %s buys no %s", p.Capital, p.SourcingCurrency, core.BridgeAsset)
	}

	routes := s.engine.Search(engine.SearchOptions{
		TopN:             len(snap.Markets()),
		SourcingCurrency: p.SourcingCurrency,
		ExcludedMarkets:  p.ExcludedMarkets,
		LoopCurrency:     p.LoopCurrency,
		Method:           p.Method,
	})
	if len(routes) == 0 {
		return nil, core.Errorf(core.ErrNoRoute, "no route from %s", p.SourcingCurrency)
	}
	if p.Choice < 1 || p.Choice > len(routes) {
		return nil, core.Errorf(core.ErrInvalidInput, "route choice %d out of range 1-%d", p.Choice, len(routes))
	}
	chosen := routes[p.Choice-1]

	now := s.now()
	id := s.newID()
	res := &Result{
		ID:          id,
		RotationID:  "SIM-" + id,
		Dir:         Dir(id),
		Params:      p,
		Route:       chosen,
		InitialUSDT: initial,
	}
	log := s.logger.With(zap.String("simulation_id", id))

	if err := s.rotations.Init(res.RotationID); err != nil {
		return nil, err
	}
	if p.LoopCurrency != "" {
		if err := s.rotations.SetLoopCurrency(res.RotationID, p.LoopCurrency); err != nil {
			return nil, err
		}
	}

	reinvest := p.LoopCurrency
	if reinvest == "" {
		reinvest = core.PivotCurrency
	}

	current := initial
	for cycle := 1; cycle <= p.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sourcing := chosen.SourcingCurrency
		if cycle > 1 {
			sourcing = reinvest
		}
		rows, route, err := s.simulateCycle(snap, res.RotationID, cycle, current, sourcing, chosen.SellingCurrency, reinvest, chosen.Method, now)
		if err != nil {
			log.Warn("simulation stopped", zap.Int("cycle", cycle), zap.Error(err))
			res.Stopped = true
			break
		}
		log.Debug("cycle simulated",
			zap.Int("cycle", cycle),
			zap.String("route", route.Description),
			zap.Float64("profit_pct", route.ProfitPct),
		)

		res.Entries = append(res.Entries, rows...)
		current = route.FinalAmount
		res.CyclesRun++
		if _, err := s.rotations.IncrementCycle(res.RotationID); err != nil {
			return nil, err
		}
	}

	res.FinalUSDT = current
	res.ProfitUSDT = current - initial
	res.ROIPct = res.ProfitUSDT / initial * 100

	if err := s.save(ctx, res, now); err != nil {
		return nil, fmt.Errorf("archiving simulation %s: %w", id, err)
	}

	log.Info("simulation finished",
		zap.String("route", chosen.Description),
		zap.Int("cycles", res.CyclesRun),
		zap.Float64("roi_pct", res.ROIPct),
	)
	return res, nil
}

func normalize(snap *engine.Snapshot, p Params) (Params, core.Market, error) {
	p.SourcingCurrency = strings.ToUpper(strings.TrimSpace(p.SourcingCurrency))
	p.LoopCurrency = strings.ToUpper(strings.TrimSpace(p.LoopCurrency))

	src, ok := snap.Market(p.SourcingCurrency)
	if !ok {
		return p, core.Market{}, core.Errorf(core.ErrMarketNotFound, "sourcing currency %q", p.SourcingCurrency)
	}
	if p.LoopCurrency != "" && !snap.HasMarket(p.LoopCurrency) {
		return p, core.Market{}, core.Errorf(core.ErrMarketNotFound, "loop currency %q", p.LoopCurrency)
	}
	if !(p.Capital > 0) || p.Capital > MaxCapital {
		return p, core.Market{}, core.Errorf(core.ErrInvalidInput, "capital must be in (0, %.0f], got %v", MaxCapital, p.Capital)
	}
	if p.Cycles < 1 || p.Cycles > MaxCycles {
		return p, core.Market{}, core.Errorf(core.ErrInvalidInput, "cycles must be in [1, %d], got %d", MaxCycles, p.Cycles)
	}
	if p.Choice == 0 {
		p.Choice = 1
	}
	if p.Method == "" {
		p.Method = snap.Settings().DefaultMethod
	}

	var excluded []string
	for _, c := range p.ExcludedMarkets {
		c = strings.ToUpper(strings.TrimSpace(c))
		if snap.HasMarket(c) {
			excluded = append(excluded, c)
		}
	}
	p.ExcludedMarkets = excluded
	return p, src, nil
}

// simulateCycle prices one cycle and renders its ACHAT, VENTE and
// CONVERSION rows. The conversion lands in reinvest; the engine settles in
// EUR so the EUR revenue is converted on to reinvest.
func (s *Simulator) simulateCycle(snap *engine.Snapshot, rotationID string, cycle int, amount float64,
	sourcing, selling, reinvest string, method core.ConversionMethod, now time.Time) ([]journal.Entry, *engine.Route, error) {
	route, err := s.engine.Evaluate(amount, sourcing, selling, method)
	if err != nil {
		return nil, nil, err
	}
	rate, err := engine.ResolveRate(core.PivotCurrency, reinvest, snap.Rates(), method)
	if err != nil {
		return nil, nil, err
	}
	if !(rate > 0) {
		return nil, nil, core.Errorf(core.ErrRateInvalid, "%s→%s=%v", core.PivotCurrency, reinvest, rate)
	}

	src, _ := snap.Market(sourcing)
	sell, _ := snap.Market(selling)
	netLocal := amount * sell.SellPrice * (1 - sell.FeePct/100)
	received := route.RevenueEUR * rate

	rows := []journal.Entry{
		{
			Date:           now,
			RotationID:     rotationID,
			Type:           core.TxAchat,
			Market:         sourcing,
			Currency:       sourcing,
			AmountUSDT:     money.Round(amount, 2),
			PriceLocal:     money.Round(src.BuyPrice, 4),
			AmountLocal:    roundLocal(amount*src.BuyPrice, sourcing),
			FeePct:         money.Round(src.FeePct, 2),
			PaymentMethod:  paymentMethod,
			CounterpartyID: fmt.Sprintf("SIM_BUYER_%d", cycle),
			Notes:          fmt.Sprintf("Cycle %d - simulated %s purchase", cycle, core.BridgeAsset),
		},
		{
			Date:           now,
			RotationID:     rotationID,
			Type:           core.TxVente,
			Market:         selling,
			Currency:       selling,
			AmountUSDT:     money.Round(amount, 2),
			PriceLocal:     money.Round(sell.SellPrice, 4),
			AmountLocal:    roundLocal(amount*sell.SellPrice, selling),
			FeePct:         money.Round(sell.FeePct, 2),
			PaymentMethod:  paymentMethod,
			CounterpartyID: fmt.Sprintf("SIM_SELLER_%d", cycle),
			Notes:          fmt.Sprintf("Cycle %d - simulated %s sale", cycle, core.BridgeAsset),
		},
		{
			Date:           now,
			RotationID:     rotationID,
			Type:           core.TxConversion,
			Market:         selling + "->" + reinvest,
			Currency:       reinvest,
			AmountUSDT:     money.Round(route.FinalAmount, 2),
			PriceLocal:     money.Round(netLocal/received, 3),
			AmountLocal:    roundLocal(received, reinvest),
			PaymentMethod:  forexMethod,
			CounterpartyID: forexCounterID,
			Notes:          fmt.Sprintf("Cycle %d - simulated conversion %s->%s", cycle, selling, reinvest),
		},
	}
	return rows, route, nil
}

func roundLocal(v float64, currency string) float64 {
	return money.Round(v, int32(money.Precision(currency)))
}

func (s *Simulator) save(ctx context.Context, res *Result, now time.Time) error {
	csvData, err := journal.EncodeEntries(res.Entries)
	if err != nil {
		return err
	}

	files := []struct {
		name string
		write func() error
	}{
		{TransactionsFile, func() error {
			return s.store.Write(ctx, path.Join(res.Dir, TransactionsFile), csvData)
		}},
		{PlanFile, func() error {
			return archive.WriteJSON(ctx, s.store, path.Join(res.Dir, PlanFile), res.Route.Plan)
		}},
		{ConfigFile, func() error {
			return archive.WriteJSON(ctx, s.store, path.Join(res.Dir, ConfigFile), res.record(now))
		}},
		{ReportFile, func() error {
			return s.store.Write(ctx, path.Join(res.Dir, ReportFile), []byte(renderReport(res, now)))
		}},
	}
	for _, f := range files {
		if err := f.write(); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
		res.Files = append(res.Files, path.Join(res.Dir, f.name))
	}
	return nil
}
