package engine_test

import (
	"errors"
	"math"
	"testing"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRate_Identity(t *testing.T) {
	for _, method := range []core.ConversionMethod{core.MethodForex, core.MethodBank} {
		rate, err := engine.ResolveRate("ZZZ", "ZZZ", nil, method)
		require.NoError(t, err)
		assert.Equal(t, 1.0, rate)
	}
}

func TestResolveRate_ScalarDirection(t *testing.T) {
	table := core.RateTable{"XAF/EUR": core.ScalarRate{Rate: 655.957}}

	toEUR, err := engine.ResolveRate("XAF", "EUR", table, core.MethodForex)
	require.NoError(t, err)
	assert.InDelta(t, 1/655.957, toEUR, 1e-12, "XAF→EUR divides by the rate")

	toXAF, err := engine.ResolveRate("EUR", "XAF", table, core.MethodForex)
	require.NoError(t, err)
	assert.Equal(t, 655.957, toXAF)

	bank, err := engine.ResolveRate("XAF", "EUR", table, core.MethodBank)
	require.NoError(t, err)
	assert.Equal(t, toEUR, bank, "method is ignored for scalar rates")
}

func TestResolveRate_ScalarRoundTrip(t *testing.T) {
	for _, r := range []float64{1e-6, 0.5, 1, 1.0837, 655.957, 1e6} {
		table := core.RateTable{"AAA/BBB": core.ScalarRate{Rate: r}}

		ab, err := engine.ResolveRate("AAA", "BBB", table, core.MethodForex)
		require.NoError(t, err)
		ba, err := engine.ResolveRate("BBB", "AAA", table, core.MethodForex)
		require.NoError(t, err)

		assert.InDelta(t, 1.0, ab*ba, 1e-12, "rate %v", r)
	}
}

func TestResolveRate_Missing(t *testing.T) {
	table := core.RateTable{"XAF/EUR": core.ScalarRate{Rate: 655.957}}

	_, err := engine.ResolveRate("KES", "EUR", table, core.MethodForex)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrRateMissing))
	assert.Contains(t, err.Error(), "KES")
	assert.Contains(t, err.Error(), "EUR")
}

func TestResolveRate_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		entry core.RateEntry
	}{
		{"zero scalar", core.ScalarRate{Rate: 0}},
		{"negative scalar", core.ScalarRate{Rate: -655.957}},
		{"NaN scalar", core.ScalarRate{Rate: math.NaN()}},
		{"infinite scalar", core.ScalarRate{Rate: math.Inf(1)}},
		{"zero bid", core.QuotedRate{Bid: 0, Ask: 660}},
		{"negative ask", core.QuotedRate{Bid: 650, Ask: -1}},
		{"NaN bid", core.QuotedRate{Bid: math.NaN(), Ask: 660}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := core.RateTable{"XAF/EUR": tt.entry}
			for _, method := range []core.ConversionMethod{core.MethodForex, core.MethodBank} {
				_, err := engine.ResolveRate("XAF", "EUR", table, method)
				assert.True(t, errors.Is(err, core.ErrRateInvalid), "%s: got %v", method, err)
			}
		})
	}
}

func TestResolveRate_QuotedForex(t *testing.T) {
	table := core.RateTable{"XAF/EUR": core.QuotedRate{Bid: 650, Ask: 660, BankSpreadPct: 1.5}}

	toEUR, err := engine.ResolveRate("XAF", "EUR", table, core.MethodForex)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/660, toEUR, 1e-15, "selling the base pays the ask")

	toXAF, err := engine.ResolveRate("EUR", "XAF", table, core.MethodForex)
	require.NoError(t, err)
	assert.Equal(t, 650.0, toXAF, "selling the quote receives the bid")
}

func TestResolveRate_QuotedBank(t *testing.T) {
	table := core.RateTable{"XAF/EUR": core.QuotedRate{Bid: 650, Ask: 660, BankSpreadPct: 1.5}}

	toEUR, err := engine.ResolveRate("XAF", "EUR", table, core.MethodBank)
	require.NoError(t, err)
	assert.InDelta(t, (1.0/655)*0.985, toEUR, 1e-15)

	toXAF, err := engine.ResolveRate("EUR", "XAF", table, core.MethodBank)
	require.NoError(t, err)
	assert.InDelta(t, 655*0.985, toXAF, 1e-9)
}

func TestResolveRate_BankWorseThanForex(t *testing.T) {
	tests := []struct {
		name  string
		quote core.QuotedRate
	}{
		{"XAF tight", core.QuotedRate{Bid: 650, Ask: 660, BankSpreadPct: 1.5}},
		{"KES", core.QuotedRate{Bid: 140, Ask: 141, BankSpreadPct: 2}},
		{"wide bank spread", core.QuotedRate{Bid: 1.08, Ask: 1.09, BankSpreadPct: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := core.RateTable{"LOC/EUR": tt.quote}
			for _, dir := range [][2]string{{"LOC", "EUR"}, {"EUR", "LOC"}} {
				forex, err := engine.ResolveRate(dir[0], dir[1], table, core.MethodForex)
				require.NoError(t, err)
				bank, err := engine.ResolveRate(dir[0], dir[1], table, core.MethodBank)
				require.NoError(t, err)
				assert.Less(t, bank, forex, "%s→%s", dir[0], dir[1])
			}
		})
	}
}

func TestResolveRate_InversePairLookup(t *testing.T) {
	table := core.RateTable{"EUR/USD": core.QuotedRate{Bid: 1.08, Ask: 1.09}}

	usdToEUR, err := engine.ResolveRate("USD", "EUR", table, core.MethodForex)
	require.NoError(t, err)
	assert.Equal(t, 1.08, usdToEUR, "USD is the quote of EUR/USD")

	eurToUSD, err := engine.ResolveRate("EUR", "USD", table, core.MethodForex)
	require.NoError(t, err)
	assert.InDelta(t, 1/1.09, eurToUSD, 1e-15)
}

func TestResolveRate_SpreadAbove100PercentIsNotClamped(t *testing.T) {
	table := core.RateTable{"XAF/EUR": core.QuotedRate{Bid: 650, Ask: 660, BankSpreadPct: 150}}

	rate, err := engine.ResolveRate("XAF", "EUR", table, core.MethodBank)
	require.NoError(t, err)
	assert.Less(t, rate, 0.0)
}

func TestResolveRate_DoesNotMutateTable(t *testing.T) {
	table := core.RateTable{"XAF/EUR": core.QuotedRate{Bid: 650, Ask: 660, BankSpreadPct: 1.5}}
	before := table.Clone()

	_, _ = engine.ResolveRate("EUR", "XAF", table, core.MethodBank)
	_, _ = engine.ResolveRate("KES", "EUR", table, core.MethodBank)

	assert.Equal(t, before, table)
}
