// Package briefing runs the operator workflow of a rotation: planning a
// route, tracking the next expected phase and journaling each trade.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/journal"
	"github.com/newthinker/p2parb/internal/metrics"
	"github.com/newthinker/p2parb/internal/money"
	"github.com/newthinker/p2parb/internal/rotation"
	"github.com/newthinker/p2parb/internal/storage/archive"
	"go.uber.org/zap"
)

// MaxAmount bounds every amount typed by the operator.
const MaxAmount = 1_000_000.0

// Service ties the engine, the journals, the rotation state and the plan
// store together.
type Service struct {
	engine    *engine.Engine
	journal   *journal.TransactionLog
	debrief   *journal.DebriefLog
	rotations *rotation.Manager
	plans     archive.Storage
	logger    *zap.Logger
	metrics   *metrics.Registry
	now       func() time.Time
}

// Deps are the collaborators of a Service.
type Deps struct {
	Engine    *engine.Engine
	Journal   *journal.TransactionLog
	Debrief   *journal.DebriefLog
	Rotations *rotation.Manager
	Plans     archive.Storage
	Logger    *zap.Logger
	Metrics   *metrics.Registry
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		engine:    deps.Engine,
		journal:   deps.Journal,
		debrief:   deps.Debrief,
		rotations: deps.Rotations,
		plans:     deps.Plans,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State is the progress of the most recent rotation in the journal.
type State struct {
	RotationID string
	Finished   bool
	Plan       *FlightPlan
	Completed  int
	NextPhase  *engine.Phase
	LastEntry  *journal.Entry
}

// Active reports whether a rotation is waiting for its next phase.
func (st *State) Active() bool {
	return st.RotationID != "" && !st.Finished && st.NextPhase != nil
}

// CurrentState reads the journal and the plan of its last rotation, or of
// a freshly planned rotation with no journal row yet. A rotation is
// finished once it has as many journal rows as plan phases or a closing
// row. A missing or unreadable plan reads as no rotation in progress.
func (s *Service) CurrentState(ctx context.Context) (*State, error) {
	entries, err := s.journal.Entries()
	if err != nil {
		return nil, err
	}

	lastID := ""
	for i := len(entries) - 1; i >= 0; i-- {
		if id := strings.TrimSpace(entries[i].RotationID); id != "" && id != journal.NotAvailable {
			lastID = id
			break
		}
	}
	if planned := s.latestPlanned(entries); planned != "" {
		lastID = planned
	}
	if lastID == "" {
		return &State{Finished: true}, nil
	}

	fp, err := s.loadPlan(ctx, lastID)
	if err != nil {
		if !errors.Is(err, core.ErrPlanNotFound) {
			s.logger.Error("flight plan unreadable", zap.String("rotation_id", lastID), zap.Error(err))
		}
		return &State{Finished: true}, nil
	}

	var rows []journal.Entry
	for _, e := range entries {
		if e.RotationID == lastID {
			rows = append(rows, e)
		}
	}

	st := &State{RotationID: lastID, Plan: fp, Completed: len(rows)}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		st.LastEntry = &last
	}
	if st.Completed >= fp.Plan.Len() || (st.LastEntry != nil && st.LastEntry.Type == core.TxCloture) {
		st.Finished = true
		return st, nil
	}
	next := fp.Plan.Phases[st.Completed]
	st.NextPhase = &next
	return st, nil
}

// latestPlanned returns the most recently created tracked rotation when it
// has no journal row yet.
func (s *Service) latestPlanned(entries []journal.Entry) string {
	var (
		latest  string
		created time.Time
	)
	for _, id := range s.rotations.IDs() {
		r, ok := s.rotations.Get(id)
		if !ok {
			continue
		}
		if latest == "" || !r.CreatedAt.Before(created) {
			latest, created = id, r.CreatedAt.Time
		}
	}
	if latest == "" {
		return ""
	}
	for _, e := range entries {
		if e.RotationID == latest {
			return ""
		}
	}
	return latest
}

func (s *Service) activeState(ctx context.Context) (*State, error) {
	st, err := s.CurrentState(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Active() {
		return nil, core.Errorf(core.ErrRotationNotFound, "no rotation in progress")
	}
	return st, nil
}

// PlanOptions select the route of a new rotation.
type PlanOptions struct {
	// Choice is the 1-based rank of the route among the candidates.
	Choice           int
	TopN             int
	Method           core.ConversionMethod
	SourcingCurrency string
	ExcludedMarkets  []string
}

// Candidates lists the routes above the profitability threshold. The loop
// currency of the last rotation stays eligible even when excluded.
func (s *Service) Candidates(ctx context.Context, opts PlanOptions) ([]engine.Route, string, error) {
	lastID, err := s.journal.LastRotationID()
	if err != nil {
		return nil, "", err
	}
	routes := s.engine.Search(engine.SearchOptions{
		TopN:             opts.TopN,
		ApplyThreshold:   true,
		SourcingCurrency: opts.SourcingCurrency,
		ExcludedMarkets:  opts.ExcludedMarkets,
		LoopCurrency:     s.rotations.LoopCurrency(lastID),
		Method:           opts.Method,
	})
	return routes, lastID, nil
}

// PlanRotation picks a route, allocates the next rotation id, stores the
// flight plan, opens a debrief row and starts tracking the rotation.
func (s *Service) PlanRotation(ctx context.Context, opts PlanOptions) (*FlightPlan, error) {
	routes, lastID, err := s.Candidates(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, core.Errorf(core.ErrNoRoute, "no route above the profitability threshold")
	}

	choice := opts.Choice
	if choice == 0 {
		choice = 1
	}
	if choice < 1 || choice > len(routes) {
		return nil, core.Errorf(core.ErrInvalidInput, "route choice %d out of range 1-%d", choice, len(routes))
	}

	now := s.now()
	id := rotation.NextRotationID(lastID, now)
	for {
		exists, err := s.planExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			break
		}
		id = rotation.NextRotationID(id, now)
	}

	fp := &FlightPlan{RotationID: id, CreatedAt: now, Route: routes[choice-1]}
	if err := s.savePlan(ctx, fp); err != nil {
		return nil, fmt.Errorf("saving flight plan: %w", err)
	}
	if err := s.debrief.Append(journal.Debrief{Date: now, RotationID: id}); err != nil {
		return nil, err
	}
	if err := s.rotations.Init(id); err != nil {
		return nil, err
	}

	s.metrics.RecordRotationOpened()
	s.logger.Info("rotation planned",
		zap.String("rotation_id", id),
		zap.String("route", fp.Description),
		zap.Float64("profit_pct", fp.ProfitPct),
	)
	return fp, nil
}

// PhaseInput is what the operator reports for one phase. ACHAT and VENTE
// use Market, AmountUSDT and AmountLocal; CONVERSION uses AmountSent and
// AmountReceived.
type PhaseInput struct {
	Type           core.TransactionType
	Market         string
	AmountUSDT     float64
	AmountLocal    float64
	AmountSent     float64
	AmountReceived float64
	FeePct         float64
	PaymentMethod  string
	CounterpartyID string
	Notes          string

	// Lesson is stored in the debrief journal when the rotation closes.
	Lesson string
}

// LogResult describes a journaled phase.
type LogResult struct {
	RotationID string
	Phase      engine.Phase
	Entry      journal.Entry
	// Cycle is the rotation's current cycle after the phase.
	Cycle    int
	Closed   bool
	Warnings []string
	// LoopCurrency is set when the notes close a cycle and a loop currency
	// is configured; AddLoopCycle can then extend the plan.
	LoopCurrency string
}

// LogPhase journals the next expected phase. Logging a different type is
// a sequence error; use ForceTransaction or ForceClose instead.
func (s *Service) LogPhase(ctx context.Context, in PhaseInput) (*LogResult, error) {
	st, err := s.activeState(ctx)
	if err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = st.NextPhase.Type
	}
	if in.Type != st.NextPhase.Type {
		return nil, core.Errorf(core.ErrInvalidInput, "plan expects %s, got %s", st.NextPhase.Type, in.Type)
	}
	return s.logPhase(ctx, st, *st.NextPhase, in, "")
}

// ForceTransaction journals a trade of another type than planned. It
// replaces the expected phase; the plan continues with the following one.
func (s *Service) ForceTransaction(ctx context.Context, in PhaseInput, reason string) (*LogResult, error) {
	switch in.Type {
	case core.TxAchat, core.TxVente, core.TxConversion:
	default:
		return nil, core.Errorf(core.ErrInvalidInput, "cannot force a %q transaction", in.Type)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, core.Errorf(core.ErrInvalidInput, "a reason is required to force a transaction")
	}

	st, err := s.activeState(ctx)
	if err != nil {
		return nil, err
	}

	phase := *st.NextPhase
	if in.Type == core.TxConversion && phase.Type != core.TxConversion {
		phase.MarketFrom, phase.MarketTo = phase.Market, core.PivotCurrency
	}
	if in.Type != core.TxConversion && phase.Type == core.TxConversion {
		phase.Market = phase.MarketFrom
	}
	phase.Type = in.Type
	phase.Description = "[FORCE] " + reason

	if err := s.rotations.RecordForced(st.RotationID, in.Type, reason); err != nil {
		return nil, err
	}
	s.logger.Warn("forced transaction",
		zap.String("rotation_id", st.RotationID),
		zap.String("type", string(in.Type)),
		zap.String("expected", string(st.NextPhase.Type)),
		zap.String("reason", reason),
	)
	return s.logPhase(ctx, st, phase, in, "")
}

// ForceClose ends the rotation before its plan is complete.
func (s *Service) ForceClose(ctx context.Context, reason, lesson string) (*LogResult, error) {
	st, err := s.activeState(ctx)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	if err := s.rotations.RecordForced(st.RotationID, core.TxCloture, reason); err != nil {
		return nil, err
	}
	note := fmt.Sprintf("CLOTURE FORCEE - Motif: %s - Route %s", reason, st.RotationID)
	if lesson != "" {
		lesson = "FORCEE - " + lesson
	}
	phase := engine.Phase{Type: core.TxCloture, Description: "[FORCE] " + reason}
	if st.NextPhase != nil {
		phase.Cycle = st.NextPhase.Cycle
	}
	return s.logPhase(ctx, st, phase, PhaseInput{Type: core.TxCloture, Lesson: lesson}, note)
}

func (s *Service) logPhase(ctx context.Context, st *State, phase engine.Phase, in PhaseInput, closeNote string) (*LogResult, error) {
	snap := s.engine.Snapshot()
	res := &LogResult{RotationID: st.RotationID, Phase: phase}
	entry := journal.Entry{
		Date:           s.now(),
		RotationID:     st.RotationID,
		Type:           phase.Type,
		PaymentMethod:  strings.TrimSpace(in.PaymentMethod),
		CounterpartyID: strings.TrimSpace(in.CounterpartyID),
		Notes:          strings.TrimSpace(in.Notes),
	}

	switch phase.Type {
	case core.TxCloture:
		entry.Market, entry.Currency = journal.NotAvailable, journal.NotAvailable
		entry.PaymentMethod, entry.CounterpartyID = "", ""
		entry.Notes = closeNote
		if entry.Notes == "" {
			entry.Notes = "Cloture normale de la route " + st.RotationID
		}

	case core.TxConversion:
		if err := checkAmount("amount sent", in.AmountSent); err != nil {
			return nil, err
		}
		if err := checkAmount("amount received", in.AmountReceived); err != nil {
			return nil, err
		}
		usdt := in.AmountUSDT
		if st.LastEntry != nil && st.LastEntry.AmountUSDT > 0 {
			usdt = st.LastEntry.AmountUSDT
		} else {
			res.Warnings = append(res.Warnings, "no bridge amount on the previous transaction")
		}
		entry.Market = phase.MarketFrom + "->" + phase.MarketTo
		entry.Currency = phase.MarketTo
		entry.AmountUSDT = usdt
		entry.PriceLocal = money.Round(in.AmountSent/in.AmountReceived, 3)
		entry.AmountLocal = in.AmountReceived

	case core.TxAchat, core.TxVente:
		market := strings.ToUpper(strings.TrimSpace(in.Market))
		if market == "" {
			market = phase.Market
		}
		if !snap.HasMarket(market) {
			return nil, core.Errorf(core.ErrMarketNotFound, "%s", market)
		}
		if phase.Market != "" && market != phase.Market {
			res.Warnings = append(res.Warnings, fmt.Sprintf("plan expects market %s, logged %s", phase.Market, market))
		}
		if err := checkAmount("bridge amount", in.AmountUSDT); err != nil {
			return nil, err
		}
		if err := checkAmount("local amount", in.AmountLocal); err != nil {
			return nil, err
		}
		if in.FeePct < 0 || math.IsNaN(in.FeePct) || math.IsInf(in.FeePct, 0) {
			return nil, core.Errorf(core.ErrInvalidInput, "fee must be a non-negative number, got %v", in.FeePct)
		}
		entry.Market, entry.Currency = market, market
		entry.AmountUSDT = in.AmountUSDT
		entry.AmountLocal = in.AmountLocal
		entry.PriceLocal = money.Round(in.AmountLocal/in.AmountUSDT, 4)
		entry.FeePct = in.FeePct

	default:
		return nil, core.Errorf(core.ErrInvalidInput, "unknown transaction type %q", phase.Type)
	}

	if err := s.journal.Append(entry); err != nil {
		return nil, err
	}
	res.Entry = entry
	log := s.logger.With(zap.String("rotation_id", st.RotationID), zap.String("type", string(phase.Type)))
	log.Info("phase logged", zap.Int("cycle", phase.Cycle), zap.Int("phase", phase.PhaseInCycle))

	switch phase.Type {
	case core.TxConversion:
		if _, ok := s.rotations.Get(st.RotationID); !ok {
			if err := s.rotations.Init(st.RotationID); err != nil {
				return nil, err
			}
		}
		cycle, err := s.rotations.IncrementCycle(st.RotationID)
		if err != nil {
			return nil, err
		}
		res.Cycle = cycle
	case core.TxCloture:
		res.Closed = true
		if in.Lesson != "" {
			if _, err := s.debrief.SetLesson(st.RotationID, strings.TrimSpace(in.Lesson)); err != nil {
				log.Error("saving lesson failed", zap.Error(err))
				res.Warnings = append(res.Warnings, "lesson not saved: "+err.Error())
			}
		}
	}
	if res.Cycle == 0 {
		if r, ok := s.rotations.Get(st.RotationID); ok {
			res.Cycle = r.CurrentCycle
		}
	}

	if closesCycle(entry.Notes) {
		res.LoopCurrency = s.rotations.LoopCurrency(st.RotationID)
	}
	return res, nil
}

func checkAmount(name string, v float64) error {
	if !(v > 0) || v > MaxAmount || math.IsInf(v, 0) {
		return core.Errorf(core.ErrInvalidInput, "%s must be in (0, %.0f], got %v", name, MaxAmount, v)
	}
	return nil
}

// closesCycle reports whether journal notes mark the end of a cycle.
func closesCycle(notes string) bool {
	n := strings.ToLower(notes)
	return strings.Contains(n, "cloture du cycle") || strings.Contains(n, "clôture du cycle")
}

// SetLoopCurrency sets the currency later cycles of the current rotation
// loop on. It must be a configured market.
func (s *Service) SetLoopCurrency(ctx context.Context, currency string) (string, error) {
	st, err := s.activeState(ctx)
	if err != nil {
		return "", err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !s.engine.Snapshot().HasMarket(currency) {
		return "", core.Errorf(core.ErrMarketNotFound, "%s is not a configured market", currency)
	}
	if err := s.rotations.SetLoopCurrency(st.RotationID, currency); err != nil {
		return "", err
	}
	s.logger.Info("loop currency set", zap.String("rotation_id", st.RotationID), zap.String("currency", currency))
	return st.RotationID, nil
}

// AddLoopCycle replaces the closing phase of the current plan with one
// more cycle on the loop currency, then closes again. It returns the new
// cycle number.
func (s *Service) AddLoopCycle(ctx context.Context) (int, error) {
	st, err := s.activeState(ctx)
	if err != nil {
		return 0, err
	}
	loop := s.rotations.LoopCurrency(st.RotationID)
	if loop == "" {
		return 0, core.Errorf(core.ErrInvalidInput, "no loop currency set for %s", st.RotationID)
	}

	fp := st.Plan
	phases := make([]engine.Phase, 0, len(fp.Plan.Phases)+4)
	last := 1
	for _, p := range fp.Plan.Phases {
		if p.Type == core.TxCloture {
			continue
		}
		phases = append(phases, p)
		if p.Cycle > last {
			last = p.Cycle
		}
	}

	cycle := last + 1
	fp.Plan.Phases = append(phases, loopCycle(cycle, loop, fp.SellingCurrency)...)
	if err := s.savePlan(ctx, fp); err != nil {
		return 0, fmt.Errorf("saving flight plan: %w", err)
	}
	s.logger.Info("loop cycle added",
		zap.String("rotation_id", st.RotationID),
		zap.Int("cycle", cycle),
		zap.String("loop_currency", loop),
	)
	return cycle, nil
}

// Stats returns the rotation state summary of the current or given rotation.
func (s *Service) Stats(ctx context.Context, id string) (rotation.Stats, string, error) {
	if id == "" {
		st, err := s.CurrentState(ctx)
		if err != nil {
			return rotation.Stats{}, "", err
		}
		id = st.RotationID
	}
	if id == "" {
		return rotation.Stats{}, "", core.Errorf(core.ErrRotationNotFound, "no rotation in the journal")
	}
	stats, err := s.rotations.Stats(id)
	return stats, id, err
}
