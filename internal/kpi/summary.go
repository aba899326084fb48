// Package kpi reconciles journal rows into per-rotation results and
// aggregate performance indicators.
package kpi

import (
	"fmt"
	"strings"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// Rotations losing more than this percentage are kept but flagged.
	heavyLossPct = -95.0

	// Rotations gaining more than this percentage are treated as input errors.
	aberrantProfitPct = 500.0

	// A conversion moving more than this multiple of the invested bridge
	// units is flagged.
	suspectConversionRatio = 1.5
)

var hundred = decimal.NewFromInt(100)

// RotationSummary is the realized result of one rotation.
type RotationSummary struct {
	RotationID   string   `json:"Rotation_ID"`
	Date         string   `json:"Date"`
	USDTInvested float64  `json:"USDT_Invested"`
	EURInvested  float64  `json:"EUR_Invested"`
	EURFinal     float64  `json:"EUR_Final"`
	EURProfit    float64  `json:"EUR_Profit"`
	ProfitPct    float64  `json:"Profit_Pct"`
	Transactions int      `json:"Nb_Transactions"`
	Warnings     []string `json:"Warnings,omitempty"`
}

// Summarize groups entries by rotation id and computes the EUR invested,
// the EUR recovered and the profit of each rotation. Rotations without a
// positive EUR purchase or a positive EUR conversion are skipped, as are
// rotations with an implausible profit.
func Summarize(entries []journal.Entry, logger *zap.Logger) []RotationSummary {
	if logger == nil {
		logger = zap.NewNop()
	}

	groups := make(map[string][]journal.Entry)
	for _, e := range entries {
		groups[e.RotationID] = append(groups[e.RotationID], e)
	}

	var out []RotationSummary
	for _, id := range journal.RotationIDs(entries) {
		s, ok := summarizeRotation(id, groups[id], logger)
		if ok {
			out = append(out, s)
		}
	}
	return out
}

func summarizeRotation(id string, rows []journal.Entry, logger *zap.Logger) (RotationSummary, bool) {
	log := logger.With(zap.String("rotation_id", id))

	invested, usdtInvested, final := decimal.Zero, decimal.Zero, decimal.Zero
	purchases := 0
	for _, r := range rows {
		if r.Type != core.TxAchat {
			continue
		}
		purchases++
		if r.Currency != core.PivotCurrency {
			log.Warn("purchase ignored: not in pivot currency", zap.String("currency", r.Currency))
			continue
		}
		if r.AmountLocal <= 0 || r.AmountUSDT <= 0 {
			continue
		}
		invested = invested.Add(decimal.NewFromFloat(r.AmountLocal))
		usdtInvested = usdtInvested.Add(decimal.NewFromFloat(r.AmountUSDT))
	}
	if purchases == 0 {
		log.Warn("rotation has no purchase")
		return RotationSummary{}, false
	}
	if !invested.IsPositive() {
		log.Warn("rotation has no valid invested capital")
		return RotationSummary{}, false
	}

	var warnings []string
	limit := usdtInvested.Mul(decimal.NewFromFloat(suspectConversionRatio))
	for _, r := range rows {
		if r.Type != core.TxConversion {
			continue
		}
		if r.Currency == core.PivotCurrency && r.AmountLocal > 0 {
			final = final.Add(decimal.NewFromFloat(r.AmountLocal))
		}
		if decimal.NewFromFloat(r.AmountUSDT).GreaterThan(limit) {
			msg := fmt.Sprintf("conversion Amount_USDT %.2f exceeds %.2f invested", r.AmountUSDT, usdtInvested.InexactFloat64())
			log.Warn("suspect conversion amount", zap.Float64("amount_usdt", r.AmountUSDT))
			warnings = append(warnings, msg)
		}
	}
	if !final.IsPositive() {
		log.Warn("rotation has no final conversion to pivot currency")
		return RotationSummary{}, false
	}

	profit := final.Sub(invested)
	pct := profit.Div(invested).Mul(hundred)
	pctF := pct.InexactFloat64()

	if pctF < heavyLossPct {
		log.Warn("abnormal loss", zap.Float64("profit_pct", pctF))
		warnings = append(warnings, fmt.Sprintf("abnormal loss %.2f%%", pctF))
	}
	if pctF > aberrantProfitPct {
		log.Warn("aberrant profit, rotation skipped", zap.Float64("profit_pct", pctF))
		return RotationSummary{}, false
	}

	date := ""
	if d := rows[0].Date; !d.IsZero() {
		date = d.Format(journal.DateLayout)
	}

	return RotationSummary{
		RotationID:   id,
		Date:         date,
		USDTInvested: round2(usdtInvested),
		EURInvested:  round2(invested),
		EURFinal:     round2(final),
		EURProfit:    round2(profit),
		ProfitPct:    round2(pct),
		Transactions: len(rows),
		Warnings:     warnings,
	}, true
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// Day returns the YYYY-MM-DD part of the summary date.
func (s RotationSummary) Day() string {
	if i := strings.IndexByte(s.Date, ' '); i > 0 {
		return s.Date[:i]
	}
	return s.Date
}
