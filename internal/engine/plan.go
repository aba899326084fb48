package engine

import (
	"fmt"

	"github.com/newthinker/p2parb/internal/core"
)

// Phase is one operator step of a rotation.
type Phase struct {
	Cycle        int                  `json:"cycle"`
	PhaseInCycle int                  `json:"phase_in_cycle"`
	Type         core.TransactionType `json:"type"`
	Market       string               `json:"market,omitempty"`
	MarketFrom   string               `json:"market_from,omitempty"`
	MarketTo     string               `json:"market_to,omitempty"`
	Description  string               `json:"description"`
}

// ExpectedMarket is the market the operator trades on in this phase. For a
// conversion it is the currency being converted from.
func (p Phase) ExpectedMarket() string {
	if p.Type == core.TxConversion {
		return p.MarketFrom
	}
	return p.Market
}

// Plan is the ordered flight plan of a rotation.
type Plan struct {
	Phases []Phase `json:"phases"`
}

// Len returns the number of phases.
func (p Plan) Len() int { return len(p.Phases) }

// Last returns the closing phase.
func (p Plan) Last() (Phase, bool) {
	if len(p.Phases) == 0 {
		return Phase{}, false
	}
	return p.Phases[len(p.Phases)-1], true
}

// buildPlan lays out cycles ACHAT, VENTE, CONVERSION and a final CLOTURE.
// Cycles after the first reinvest from the pivot market.
func buildPlan(sourcing, selling string, cycles int) Plan {
	if cycles < 1 {
		cycles = 1
	}

	phases := make([]Phase, 0, cycles*3+1)
	for c := 1; c <= cycles; c++ {
		buyMarket := sourcing
		buyDesc := fmt.Sprintf("Initial sourcing in %s", sourcing)
		sellDesc := fmt.Sprintf("Sell in %s", selling)
		convDesc := fmt.Sprintf("Convert %s→%s", selling, core.PivotCurrency)
		if c > 1 {
			buyMarket = core.PivotCurrency
			buyDesc = fmt.Sprintf("Reinvest cycle %d", c)
			sellDesc = fmt.Sprintf("Sell cycle %d", c)
			convDesc = fmt.Sprintf("Convert cycle %d", c)
		}

		phases = append(phases,
			Phase{Cycle: c, PhaseInCycle: 1, Type: core.TxAchat, Market: buyMarket, Description: buyDesc},
			Phase{Cycle: c, PhaseInCycle: 2, Type: core.TxVente, Market: selling, Description: sellDesc},
			Phase{Cycle: c, PhaseInCycle: 3, Type: core.TxConversion, MarketFrom: selling, MarketTo: core.PivotCurrency, Description: convDesc},
		)
	}
	phases = append(phases, Phase{
		Cycle:        cycles,
		PhaseInCycle: 4,
		Type:         core.TxCloture,
		Market:       core.PivotCurrency,
		Description:  "Close rotation",
	})

	return Plan{Phases: phases}
}
