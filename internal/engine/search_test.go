package engine_test

import (
	"sync"
	"testing"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSearchInvariants(t *testing.T, routes []engine.Route) {
	t.Helper()
	for i, r := range routes {
		assert.GreaterOrEqual(t, r.ProfitPct, -90.0)
		assert.LessOrEqual(t, r.ProfitPct, 1000.0)
		if i > 0 {
			assert.LessOrEqual(t, r.ProfitPct, routes[i-1].ProfitPct, "routes must be sorted by profit")
		}
	}
}

func sellingCurrencies(routes []engine.Route) map[string]bool {
	out := map[string]bool{}
	for _, r := range routes {
		out[r.SellingCurrency] = true
	}
	return out
}

func TestSearch_AllPairs(t *testing.T) {
	e := engine.New(multiSnapshot(), nil)

	routes := e.Search(engine.SearchOptions{TopN: 50})

	require.Len(t, routes, 12)
	assertSearchInvariants(t, routes)
	assert.Equal(t, "EUR", routes[0].SourcingCurrency)
	assert.Equal(t, "KES", routes[0].SellingCurrency)
	for _, r := range routes {
		assert.Equal(t, engine.DefaultSearchAmount, r.InitialAmount)
		assert.Equal(t, core.MethodForex, r.Method)
	}
}

func TestSearch_TopN(t *testing.T) {
	e := engine.New(multiSnapshot(), nil)

	assert.Len(t, e.Search(engine.SearchOptions{TopN: 2}), 2)
	assert.Len(t, e.Search(engine.SearchOptions{}), engine.DefaultTopN)
}

func TestSearch_Threshold(t *testing.T) {
	e := engine.New(multiSnapshot(), nil)

	routes := e.Search(engine.SearchOptions{TopN: 50, ApplyThreshold: true})

	require.Len(t, routes, 3)
	for _, r := range routes {
		assert.GreaterOrEqual(t, r.ProfitPct, 1.0)
	}
	assert.Equal(t, routes, e.BestRoutes(50, core.MethodForex))
}

func TestSearch_SourcingFilter(t *testing.T) {
	e := engine.New(multiSnapshot(), nil)

	routes := e.Search(engine.SearchOptions{TopN: 50, SourcingCurrency: "eur"})

	require.Len(t, routes, 3)
	for _, r := range routes {
		assert.Equal(t, "EUR", r.SourcingCurrency)
	}
}

func TestSearch_ExclusionAndLoopOverride(t *testing.T) {
	e := engine.New(multiSnapshot(), nil)

	tests := []struct {
		name     string
		excluded []string
		loop     string
		wantXAF  bool
	}{
		{"excluded", []string{"XAF"}, "", false},
		{"excluded lower case", []string{"xaf"}, "", false},
		{"loop overrides exclusion", []string{"XAF", "XOF"}, "XAF", true},
		{"loop on other market", []string{"XAF"}, "KES", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := e.Search(engine.SearchOptions{TopN: 50, ExcludedMarkets: tt.excluded, LoopCurrency: tt.loop})
			selling := sellingCurrencies(routes)

			assert.Equal(t, tt.wantXAF, selling["XAF"])
			for _, r := range routes {
				for _, ex := range tt.excluded {
					if r.SellingCurrency == ex {
						assert.Equal(t, tt.loop, ex, "excluded market returned without loop override")
					}
				}
			}
		})
	}
}

func TestSearch_LoopScenario(t *testing.T) {
	e := engine.New(scenarioSnapshot(), nil)

	routes := e.Search(engine.SearchOptions{
		TopN:             5,
		ApplyThreshold:   true,
		SourcingCurrency: "EUR",
		ExcludedMarkets:  []string{"XAF"},
		LoopCurrency:     "XAF",
	})

	require.NotEmpty(t, routes)
	assert.True(t, sellingCurrencies(routes)["XAF"])
}

func TestSearch_BlockingAlertAborts(t *testing.T) {
	markets := append(multiSnapshot().Markets(), core.Market{Currency: "USD", BuyPrice: 0.93, SellPrice: 0.92})
	snap := engine.NewSnapshot(markets, multiSnapshot().Rates(), defaultSettings())
	e := engine.New(snap, nil)

	assert.Empty(t, e.Search(engine.SearchOptions{TopN: 50}))

	routes := e.Search(engine.SearchOptions{TopN: 50, SkipValidation: true})
	assert.Len(t, routes, 12, "USD routes have no rate and are skipped")
}

func TestSearch_WarningsDoNotBlock(t *testing.T) {
	markets := multiSnapshot().Markets()
	markets[3] = core.Market{Currency: "KES", BuyPrice: 150, SellPrice: 128.5, FeePct: 0.2}
	snap := engine.NewSnapshot(markets, multiSnapshot().Rates(), defaultSettings())
	require.NotEmpty(t, engine.ValidateConfig(snap.Markets(), snap.Rates()))

	e := engine.New(snap, nil)
	assert.NotEmpty(t, e.Search(engine.SearchOptions{TopN: 50}))
}

func TestSearch_NotEnoughMarkets(t *testing.T) {
	snap := engine.NewSnapshot([]core.Market{marketEUR}, core.RateTable{}, defaultSettings())
	e := engine.New(snap, nil)

	routes := e.Search(engine.SearchOptions{})
	assert.NotNil(t, routes)
	assert.Empty(t, routes)
}

func TestSearch_AnomalyFilter(t *testing.T) {
	markets := append(multiSnapshot().Markets(), core.Market{Currency: "ZZZ", BuyPrice: 1e6, SellPrice: 1e6})
	rates := multiSnapshot().Rates()
	rates["ZZZ/EUR"] = core.ScalarRate{Rate: 1}
	e := engine.New(engine.NewSnapshot(markets, rates, defaultSettings()), nil)

	require.NotNil(t, e.Calculate(1000, "EUR", "ZZZ", core.MethodForex), "route exists before filtering")

	routes := e.Search(engine.SearchOptions{TopN: 50})
	assertSearchInvariants(t, routes)
	for _, r := range routes {
		assert.NotEqual(t, "ZZZ", r.SellingCurrency)
		assert.NotEqual(t, "ZZZ", r.SourcingCurrency)
	}
}

func TestSearch_Amount(t *testing.T) {
	e := engine.New(scenarioSnapshot(), nil)

	routes := e.Search(engine.SearchOptions{Amount: 250})
	require.NotEmpty(t, routes)
	assert.Equal(t, 250.0, routes[0].InitialAmount)
}

func TestEngine_Reload(t *testing.T) {
	e := engine.New(multiSnapshot(), nil)
	require.Len(t, e.Search(engine.SearchOptions{TopN: 50}), 12)

	e.Reload(scenarioSnapshot())

	routes := e.Search(engine.SearchOptions{TopN: 50})
	require.Len(t, routes, 2)
	for _, r := range routes {
		assert.Contains(t, []string{"EUR", "XAF"}, r.SellingCurrency)
	}
}

func TestEngine_ConcurrentReload(t *testing.T) {
	e := engine.New(multiSnapshot(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				routes := e.Search(engine.SearchOptions{TopN: 50})
				n := len(routes)
				assert.True(t, n == 12 || n == 2, "search saw a mixed snapshot: %d routes", n)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			e.Reload(scenarioSnapshot())
		} else {
			e.Reload(multiSnapshot())
		}
	}
	wg.Wait()
}

func TestSnapshot_IsolatedFromInputs(t *testing.T) {
	markets := []core.Market{marketEUR, marketXAF}
	rates := core.RateTable{"XAF/EUR": core.ScalarRate{Rate: 655.957}}
	snap := engine.NewSnapshot(markets, rates, engine.Settings{})

	markets[1].SellPrice = 1
	rates["XAF/EUR"] = core.ScalarRate{Rate: 1}

	m, ok := snap.Market("XAF")
	require.True(t, ok)
	assert.Equal(t, 593.65, m.SellPrice)
	assert.Equal(t, core.ScalarRate{Rate: 655.957}, snap.Rates()["XAF/EUR"])
	assert.Equal(t, 1, snap.Settings().CyclesPerRotation)
	assert.Equal(t, core.MethodForex, snap.Settings().DefaultMethod)
}

func TestSearch_RecordsMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	e := engine.New(multiSnapshot(), nil, engine.WithMetrics(reg))

	routes := e.Search(engine.SearchOptions{TopN: 50})
	require.NotEmpty(t, routes)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				found[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				found[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 12.0, found["p2parb_routes_evaluated_total"])
	assert.Equal(t, 1.0, found["p2parb_searches_total"])
	assert.InDelta(t, routes[0].ProfitPct, found["p2parb_best_route_profit_pct"], 1e-9)
}
