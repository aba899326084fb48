package simulation

import (
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/journal"
)

// Params describe one simulated rotation.
type Params struct {
	SourcingCurrency string
	Capital          float64 // in SourcingCurrency
	Cycles           int
	LoopCurrency     string   // cycles after the first buy with it; EUR when empty
	ExcludedMarkets  []string // never used as selling market, except LoopCurrency
	Choice           int      // 1-based index into the ranked candidates
	Method           core.ConversionMethod
}

// Result holds the complete simulation output
type Result struct {
	ID          string
	RotationID  string
	Dir         string
	Params      Params
	Route       engine.Route
	Entries     []journal.Entry
	InitialUSDT float64
	FinalUSDT   float64
	ProfitUSDT  float64
	ROIPct      float64
	CyclesRun   int
	Stopped     bool // a cycle could not be priced
	Files       []string
}

// Record is the simulation_config.json document.
type Record struct {
	SimulationID string        `json:"simulation_id"`
	RotationID   string        `json:"rotation_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Parameters   RecordParams  `json:"parameters"`
	BestRoute    RecordRoute   `json:"best_route"`
	Results      RecordResults `json:"results"`
}

type RecordParams struct {
	SourcingCurrency   string   `json:"sourcing_currency"`
	Cycles             int      `json:"nb_cycles"`
	LoopCurrency       string   `json:"loop_currency,omitempty"`
	ExcludedMarkets    []string `json:"soft_excluded"`
	InitialCapital     float64  `json:"initial_capital"`
	InitialCapitalUSDT float64  `json:"initial_capital_usdt"`
}

type RecordRoute struct {
	Route     string                `json:"route"`
	MarginPct float64               `json:"margin_pct"`
	Sourcing  string                `json:"sourcing"`
	Selling   string                `json:"selling"`
	Method    core.ConversionMethod `json:"conversion_method"`
}

type RecordResults struct {
	InitialUSDT    float64 `json:"initial_usdt"`
	FinalUSDT      float64 `json:"final_usdt"`
	ProfitUSDT     float64 `json:"profit_usdt"`
	ROIPct         float64 `json:"roi_pct"`
	CyclesRun      int     `json:"cycles_run"`
	Stopped        bool    `json:"stopped"`
	NbTransactions int     `json:"nb_transactions"`
}

func (r *Result) record(now time.Time) Record {
	excluded := r.Params.ExcludedMarkets
	if excluded == nil {
		excluded = []string{}
	}
	return Record{
		SimulationID: r.ID,
		RotationID:   r.RotationID,
		Timestamp:    now,
		Parameters: RecordParams{
			SourcingCurrency:   r.Params.SourcingCurrency,
			Cycles:             r.Params.Cycles,
			LoopCurrency:       r.Params.LoopCurrency,
			ExcludedMarkets:    excluded,
			InitialCapital:     r.Params.Capital,
			InitialCapitalUSDT: r.InitialUSDT,
		},
		BestRoute: RecordRoute{
			Route:     r.Route.Description,
			MarginPct: r.Route.ProfitPct,
			Sourcing:  r.Route.SourcingCurrency,
			Selling:   r.Route.SellingCurrency,
			Method:    r.Route.Method,
		},
		Results: RecordResults{
			InitialUSDT:    r.InitialUSDT,
			FinalUSDT:      r.FinalUSDT,
			ProfitUSDT:     r.ProfitUSDT,
			ROIPct:         r.ROIPct,
			CyclesRun:      r.CyclesRun,
			Stopped:        r.Stopped,
			NbTransactions: len(r.Entries),
		},
	}
}
