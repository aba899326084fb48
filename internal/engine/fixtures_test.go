package engine_test

import (
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
)

var (
	marketEUR = core.Market{Currency: "EUR", BuyPrice: 0.857, SellPrice: 0.851, FeePct: 0.1, Name: "Europe"}
	marketXAF = core.Market{Currency: "XAF", BuyPrice: 595.86, SellPrice: 593.65, FeePct: 0, Name: "Cameroun"}
	marketXOF = core.Market{Currency: "XOF", BuyPrice: 590, SellPrice: 588, FeePct: 0.5, Name: "Senegal"}
	marketKES = core.Market{Currency: "KES", BuyPrice: 130, SellPrice: 128.5, FeePct: 0.2, Name: "Kenya"}
)

func defaultSettings() engine.Settings {
	return engine.Settings{
		ProfitThresholdPct: 1.0,
		CyclesPerRotation:  3,
		DefaultMethod:      core.MethodForex,
	}
}

// scenarioSnapshot is the two-market EUR/XAF setup with a legacy scalar rate.
func scenarioSnapshot() *engine.Snapshot {
	return engine.NewSnapshot(
		[]core.Market{marketEUR, marketXAF},
		core.RateTable{"XAF/EUR": core.ScalarRate{Rate: 655.957}},
		defaultSettings(),
	)
}

// multiSnapshot mixes scalar and quoted rates over four markets.
func multiSnapshot() *engine.Snapshot {
	return engine.NewSnapshot(
		[]core.Market{marketEUR, marketXAF, marketXOF, marketKES},
		core.RateTable{
			"XAF/EUR": core.ScalarRate{Rate: 655.957},
			"XOF/EUR": core.ScalarRate{Rate: 655.957},
			"KES/EUR": core.QuotedRate{Bid: 140, Ask: 141, BankSpreadPct: 2},
		},
		defaultSettings(),
	)
}
