package engine

import (
	"fmt"
	"math"

	"github.com/newthinker/p2parb/internal/core"
	"go.uber.org/zap"
)

// Route is the priced result of one bridge cycle.
type Route struct {
	SourcingCurrency string                `json:"sourcing_market_code"`
	SellingCurrency  string                `json:"selling_market_code"`
	Method           core.ConversionMethod `json:"conversion_method"`
	Description      string                `json:"detailed_route"`
	ProfitPct        float64               `json:"profit_pct"`
	ProfitUnits      float64               `json:"profit_usdt"`
	ProfitEUR        float64               `json:"profit_eur"`
	InitialAmount    float64               `json:"initial_amount_usdt"`
	FinalAmount      float64               `json:"final_amount_usdt"`
	CostEUR          float64               `json:"cost_eur"`
	RevenueEUR       float64               `json:"revenue_eur"`
	Details          []Detail              `json:"details"`
	Plan             Plan                  `json:"plan_de_vol"`
}

// Detail is one line of the route narrative.
type Detail struct {
	Step string `json:"step"`
	Text string `json:"text"`
}

// Calculate prices amount bridge units bought in sourcing, sold in selling,
// converted to EUR and reinvested. A nil result means no route: invalid
// amount, circular route, missing market, unresolvable rate or a
// non-positive intermediate amount.
func (e *Engine) Calculate(amount float64, sourcing, selling string, method core.ConversionMethod) *Route {
	route, err := e.Evaluate(amount, sourcing, selling, method)
	if err != nil {
		return nil
	}
	return route
}

// Evaluate is Calculate with the rejection reason. Every error carries
// core.ErrNoRoute.
func (e *Engine) Evaluate(amount float64, sourcing, selling string, method core.ConversionMethod) (*Route, error) {
	return e.evaluate(e.Snapshot(), amount, sourcing, selling, method)
}

func (e *Engine) evaluate(s *Snapshot, amount float64, sourcing, selling string, method core.ConversionMethod) (*Route, error) {
	route, err := calculate(s, amount, sourcing, selling, method)
	if err != nil {
		e.logger.Debug("route rejected",
			zap.String("sourcing", sourcing),
			zap.String("selling", selling),
			zap.Float64("amount", amount),
			zap.Error(err),
		)
		e.metrics.RecordRoute("rejected")
		return nil, err
	}

	if route.ProfitPct >= s.settings.ProfitThresholdPct {
		e.metrics.RecordRoute("profitable")
	} else {
		e.metrics.RecordRoute("unprofitable")
	}
	return route, nil
}

// positive rejects zero, negatives, NaN and infinities.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func noRoute(format string, args ...any) error {
	return core.Errorf(core.ErrNoRoute, format, args...)
}

func calculate(s *Snapshot, amount float64, sourcing, selling string, method core.ConversionMethod) (*Route, error) {
	if !positive(amount) {
		return nil, noRoute("invalid amount %v", amount)
	}
	if sourcing == selling {
		return nil, noRoute("circular route %s→%s", sourcing, selling)
	}
	if method == "" {
		method = s.settings.DefaultMethod
	}

	src, ok := s.Market(sourcing)
	if !ok {
		return nil, noRoute("no market for %s", sourcing)
	}
	sell, ok := s.Market(selling)
	if !ok {
		return nil, noRoute("no market for %s", selling)
	}
	eur, ok := s.Market(core.PivotCurrency)
	if !ok {
		return nil, noRoute("no %s market", core.PivotCurrency)
	}

	// Acquisition
	costLocal := amount * src.BuyPrice * (1 + src.FeePct/100)
	rate, err := ResolveRate(sourcing, core.PivotCurrency, s.rates, method)
	if err != nil {
		return nil, core.WrapError(core.ErrNoRoute, err)
	}
	costEUR := costLocal * rate
	if !positive(costEUR) {
		return nil, noRoute("acquisition cost %v EUR", costEUR)
	}

	// Disposal
	netLocal := amount * sell.SellPrice * (1 - sell.FeePct/100)
	if !positive(netLocal) {
		return nil, noRoute("net proceeds %v %s", netLocal, selling)
	}

	// Settlement
	rate, err = ResolveRate(selling, core.PivotCurrency, s.rates, method)
	if err != nil {
		return nil, core.WrapError(core.ErrNoRoute, err)
	}
	revenueEUR := netLocal * rate
	if !positive(revenueEUR) {
		return nil, noRoute("revenue %v EUR", revenueEUR)
	}

	// Reinvestment
	if !positive(eur.BuyPrice) {
		return nil, noRoute("%s buy price %v", core.PivotCurrency, eur.BuyPrice)
	}
	costPerUnit := eur.BuyPrice * (1 + eur.FeePct/100)
	if !positive(costPerUnit) {
		return nil, noRoute("reinvestment cost per unit %v", costPerUnit)
	}
	finalAmount := revenueEUR / costPerUnit
	if !positive(finalAmount) {
		return nil, noRoute("final amount %v", finalAmount)
	}

	profitEUR := revenueEUR - costEUR
	profitPct := 0.0
	if costEUR > 0 {
		profitPct = profitEUR / costEUR * 100
	}

	return &Route{
		SourcingCurrency: sourcing,
		SellingCurrency:  selling,
		Method:           method,
		Description:      fmt.Sprintf("%s → %s → %s → %s → %s", sourcing, core.BridgeAsset, selling, core.PivotCurrency, core.BridgeAsset),
		ProfitPct:        profitPct,
		ProfitUnits:      finalAmount - amount,
		ProfitEUR:        profitEUR,
		InitialAmount:    amount,
		FinalAmount:      finalAmount,
		CostEUR:          costEUR,
		RevenueEUR:       revenueEUR,
		Details: []Detail{
			{Step: "Sourcing", Text: fmt.Sprintf("Buy %.2f %s in %s = %.2f EUR", amount, core.BridgeAsset, sourcing, costEUR)},
			{Step: "Sale", Text: fmt.Sprintf("Sell %.2f %s = %.2f %s", amount, core.BridgeAsset, netLocal, selling)},
			{Step: "Conversion", Text: fmt.Sprintf("%.2f %s → %.2f EUR", netLocal, selling, revenueEUR)},
			{Step: "Reinvestment", Text: fmt.Sprintf("%.2f EUR → %.2f %s", revenueEUR, finalAmount, core.BridgeAsset)},
		},
		Plan: buildPlan(sourcing, selling, s.settings.CyclesPerRotation),
	}, nil
}
