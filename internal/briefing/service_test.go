package briefing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/journal"
	"github.com/newthinker/p2parb/internal/rotation"
	"github.com/newthinker/p2parb/internal/storage/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var markets = []core.Market{
	{Currency: "EUR", BuyPrice: 0.857, SellPrice: 0.851, FeePct: 0.1, Name: "Europe"},
	{Currency: "XAF", BuyPrice: 595.86, SellPrice: 593.65, FeePct: 0, Name: "Cameroun"},
	{Currency: "XOF", BuyPrice: 590, SellPrice: 588, FeePct: 0.5, Name: "Senegal"},
	{Currency: "KES", BuyPrice: 130, SellPrice: 128.5, FeePct: 0.2, Name: "Kenya"},
}

var rates = core.RateTable{
	"XAF/EUR": core.ScalarRate{Rate: 655.957},
	"XOF/EUR": core.ScalarRate{Rate: 655.957},
	"KES/EUR": core.QuotedRate{Bid: 140, Ask: 141, BankSpreadPct: 2},
}

type fixture struct {
	svc       *Service
	journal   *journal.TransactionLog
	debrief   *journal.DebriefLog
	rotations *rotation.Manager
	plans     archive.Storage
}

// stepClock advances one minute per call so creation times are ordered.
func stepClock() func() time.Time {
	t := time.Date(2025, 3, 14, 9, 0, 0, 0, time.Local)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newFixture(t *testing.T, cycles int, threshold float64) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := stepClock()

	snap := engine.NewSnapshot(markets, rates, engine.Settings{
		ProfitThresholdPct: threshold,
		CyclesPerRotation:  cycles,
		DefaultMethod:      core.MethodForex,
	})
	rot, err := rotation.Open(filepath.Join(dir, "rotation_state.json"), nil, rotation.WithClock(clock))
	require.NoError(t, err)
	store, err := archive.NewLocalFS(filepath.Join(dir, "archive"))
	require.NoError(t, err)

	f := &fixture{
		journal:   journal.NewTransactionLog(filepath.Join(dir, "transactions.csv"), nil, journal.WithRetry(1, 0)),
		debrief:   journal.NewDebriefLog(filepath.Join(dir, "debriefing.csv"), journal.WithRetry(1, 0)),
		rotations: rot,
		plans:     store,
	}
	f.svc = New(Deps{
		Engine:    engine.New(snap, nil),
		Journal:   f.journal,
		Debrief:   f.debrief,
		Rotations: rot,
		Plans:     store,
	}, WithClock(clock))
	return f
}

func TestCurrentState_EmptyJournal(t *testing.T) {
	f := newFixture(t, 2, 1.0)

	st, err := f.svc.CurrentState(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Finished)
	assert.Equal(t, "", st.RotationID)
	assert.False(t, st.Active())
}

func TestPlanRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 1.0)

	fp, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)

	assert.Equal(t, "R20250314-1", fp.RotationID)
	assert.Equal(t, "EUR", fp.SourcingCurrency)
	assert.Equal(t, "KES", fp.SellingCurrency)
	assert.Equal(t, 7, fp.Plan.Len())

	exists, err := f.plans.Exists(ctx, "plans/R20250314-1.json")
	require.NoError(t, err)
	assert.True(t, exists)

	debriefs, err := f.debrief.Entries()
	require.NoError(t, err)
	require.Len(t, debriefs, 1)
	assert.Equal(t, "R20250314-1", debriefs[0].RotationID)

	r, ok := f.rotations.Get("R20250314-1")
	require.True(t, ok)
	assert.Equal(t, 1, r.CurrentCycle)

	st, err := f.svc.CurrentState(ctx)
	require.NoError(t, err)
	require.True(t, st.Active())
	assert.Equal(t, "R20250314-1", st.RotationID)
	assert.Equal(t, 0, st.Completed)
	assert.Equal(t, core.TxAchat, st.NextPhase.Type)
	assert.Equal(t, "EUR", st.NextPhase.Market)
	assert.Nil(t, st.LastEntry)
}

func TestPlanRotation_ChoiceAndIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1.0)

	_, err := f.svc.PlanRotation(ctx, PlanOptions{Choice: 4})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	first, err := f.svc.PlanRotation(ctx, PlanOptions{Choice: 2})
	require.NoError(t, err)
	assert.Equal(t, "XAF", first.SellingCurrency)

	second, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, "R20250314-2", second.RotationID, "an unused plan keeps its id")

	st, err := f.svc.CurrentState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "R20250314-2", st.RotationID)
}

func TestPlanRotation_NoRoute(t *testing.T) {
	f := newFixture(t, 1, 50)

	_, err := f.svc.PlanRotation(context.Background(), PlanOptions{})
	assert.True(t, errors.Is(err, core.ErrNoRoute))
}

func TestLogPhase_NoRotation(t *testing.T) {
	f := newFixture(t, 1, 1.0)

	_, err := f.svc.LogPhase(context.Background(), PhaseInput{Type: core.TxAchat})
	assert.True(t, errors.Is(err, core.ErrRotationNotFound))
}

func TestLogPhase_FullRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1.0)
	_, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)

	res, err := f.svc.LogPhase(ctx, PhaseInput{
		Type: core.TxAchat, AmountUSDT: 100, AmountLocal: 86, FeePct: 0.1,
		PaymentMethod: "SEPA", CounterpartyID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", res.Entry.Market)
	assert.Equal(t, 0.86, res.Entry.PriceLocal)
	assert.Empty(t, res.Warnings)

	_, err = f.svc.LogPhase(ctx, PhaseInput{Type: core.TxConversion, AmountSent: 1, AmountReceived: 1})
	assert.True(t, errors.Is(err, core.ErrInvalidInput), "out of sequence")

	res, err = f.svc.LogPhase(ctx, PhaseInput{Type: core.TxVente, Market: "kes", AmountUSDT: 100, AmountLocal: 12850})
	require.NoError(t, err)
	assert.Equal(t, "KES", res.Entry.Currency)
	assert.Equal(t, 128.5, res.Entry.PriceLocal)

	res, err = f.svc.LogPhase(ctx, PhaseInput{Type: core.TxConversion, AmountSent: 12850, AmountReceived: 91, PaymentMethod: "Wise"})
	require.NoError(t, err)
	assert.Equal(t, "KES->EUR", res.Entry.Market)
	assert.Equal(t, "EUR", res.Entry.Currency)
	assert.Equal(t, 100.0, res.Entry.AmountUSDT, "bridge amount carried from the previous row")
	assert.Equal(t, 141.209, res.Entry.PriceLocal)
	assert.Equal(t, 91.0, res.Entry.AmountLocal)
	assert.Equal(t, 2, res.Cycle)

	res, err = f.svc.LogPhase(ctx, PhaseInput{Lesson: "KES sells fast"})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, core.TxCloture, res.Entry.Type)
	assert.Equal(t, "Cloture normale de la route R20250314-1", res.Entry.Notes)
	assert.Equal(t, 0.0, res.Entry.AmountUSDT)

	st, err := f.svc.CurrentState(ctx)
	require.NoError(t, err)
	assert.True(t, st.Finished)
	assert.Equal(t, 4, st.Completed)

	debriefs, err := f.debrief.Entries()
	require.NoError(t, err)
	assert.Equal(t, "KES sells fast", debriefs[0].Lesson)

	entries, err := f.journal.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "N/A", entries[3].Market)
	assert.Equal(t, "SEPA", entries[0].PaymentMethod)
	assert.Equal(t, "N/A", entries[1].PaymentMethod)
}

func TestLogPhase_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1.0)
	_, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   PhaseInput
		want *core.Error
	}{
		{"zero bridge amount", PhaseInput{AmountUSDT: 0, AmountLocal: 86}, core.ErrInvalidInput},
		{"zero local amount", PhaseInput{AmountUSDT: 100, AmountLocal: 0}, core.ErrInvalidInput},
		{"above bound", PhaseInput{AmountUSDT: 2_000_000, AmountLocal: 86}, core.ErrInvalidInput},
		{"negative fee", PhaseInput{AmountUSDT: 100, AmountLocal: 86, FeePct: -1}, core.ErrInvalidInput},
		{"unknown market", PhaseInput{Market: "GBP", AmountUSDT: 100, AmountLocal: 86}, core.ErrMarketNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.LogPhase(ctx, tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	entries, err := f.journal.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected input writes nothing")

	res, err := f.svc.LogPhase(ctx, PhaseInput{Market: "XAF", AmountUSDT: 100, AmountLocal: 59586})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1, "market differs from plan")
}

func TestForceTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1.0)
	_, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)

	_, err = f.svc.ForceTransaction(ctx, PhaseInput{Type: core.TxCloture}, "why")
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	_, err = f.svc.ForceTransaction(ctx, PhaseInput{Type: core.TxVente}, " ")
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	res, err := f.svc.ForceTransaction(ctx, PhaseInput{
		Type: core.TxVente, Market: "KES", AmountUSDT: 50, AmountLocal: 6425,
	}, "already held USDT")
	require.NoError(t, err)
	assert.Equal(t, core.TxVente, res.Entry.Type)
	assert.Equal(t, "[FORCE] already held USDT", res.Phase.Description)

	r, ok := f.rotations.Get(res.RotationID)
	require.True(t, ok)
	require.Len(t, r.ForcedTransactions, 1)
	assert.Equal(t, core.TxVente, r.ForcedTransactions[0].Type)

	st, err := f.svc.CurrentState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, core.TxVente, st.NextPhase.Type, "plan continues with the following phase")
}

func TestForceClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 1.0)
	_, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)
	_, err = f.svc.LogPhase(ctx, PhaseInput{AmountUSDT: 100, AmountLocal: 86})
	require.NoError(t, err)

	res, err := f.svc.ForceClose(ctx, "partner gone", "keep a backup partner")
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, "CLOTURE FORCEE - Motif: partner gone - Route R20250314-1", res.Entry.Notes)

	st, err := f.svc.CurrentState(ctx)
	require.NoError(t, err)
	assert.True(t, st.Finished)

	debriefs, err := f.debrief.Entries()
	require.NoError(t, err)
	assert.Equal(t, "FORCEE - keep a backup partner", debriefs[0].Lesson)

	stats, id, err := f.svc.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "R20250314-1", id)
	assert.Equal(t, 1, stats.ForcedCount)

	_, err = f.svc.ForceClose(ctx, "again", "")
	assert.True(t, errors.Is(err, core.ErrRotationNotFound))
}

func TestLoopCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1.0)
	_, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)

	_, err = f.svc.AddLoopCycle(ctx)
	assert.True(t, errors.Is(err, core.ErrInvalidInput), "no loop currency yet")

	_, err = f.svc.SetLoopCurrency(ctx, "GBP")
	assert.True(t, errors.Is(err, core.ErrMarketNotFound))

	id, err := f.svc.SetLoopCurrency(ctx, "xaf")
	require.NoError(t, err)
	assert.Equal(t, "XAF", f.rotations.LoopCurrency(id))

	_, err = f.svc.LogPhase(ctx, PhaseInput{AmountUSDT: 100, AmountLocal: 86})
	require.NoError(t, err)
	_, err = f.svc.LogPhase(ctx, PhaseInput{AmountUSDT: 100, AmountLocal: 12850})
	require.NoError(t, err)
	res, err := f.svc.LogPhase(ctx, PhaseInput{AmountSent: 12850, AmountReceived: 91, Notes: "Cloture du cycle 1"})
	require.NoError(t, err)
	assert.Equal(t, "XAF", res.LoopCurrency)

	cycle, err := f.svc.AddLoopCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cycle)

	st, err := f.svc.CurrentState(ctx)
	require.NoError(t, err)
	require.True(t, st.Active())
	assert.Equal(t, 7, st.Plan.Plan.Len())
	assert.Equal(t, core.TxAchat, st.NextPhase.Type)
	assert.Equal(t, "XAF", st.NextPhase.Market)
	assert.Equal(t, 2, st.NextPhase.Cycle)

	last, ok := st.Plan.Plan.Last()
	require.True(t, ok)
	assert.Equal(t, core.TxCloture, last.Type)
	assert.Equal(t, "XAF", last.Market)

	conv := st.Plan.Plan.Phases[5]
	assert.Equal(t, "KES", conv.MarketFrom)
	assert.Equal(t, "XAF", conv.MarketTo)
}

func TestPlanRotation_LoopCurrencyOverridesExclusion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1.0)
	_, err := f.svc.PlanRotation(ctx, PlanOptions{})
	require.NoError(t, err)
	_, err = f.svc.SetLoopCurrency(ctx, "XAF")
	require.NoError(t, err)
	_, err = f.svc.LogPhase(ctx, PhaseInput{AmountUSDT: 100, AmountLocal: 86})
	require.NoError(t, err)

	routes, _, err := f.svc.Candidates(ctx, PlanOptions{TopN: 10, ExcludedMarkets: []string{"XAF", "KES"}})
	require.NoError(t, err)
	require.NotEmpty(t, routes)
	var sellers []string
	for _, r := range routes {
		sellers = append(sellers, r.SellingCurrency)
	}
	assert.Contains(t, sellers, "XAF")
	assert.NotContains(t, sellers, "KES")
}
