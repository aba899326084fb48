package kpi

import (
	"math"

	"github.com/shopspring/decimal"
)

// KPIs aggregates a set of rotation summaries.
type KPIs struct {
	TotalInvested  float64 `json:"total_invested"`
	TotalFinal     float64 `json:"total_final"`
	TotalProfit    float64 `json:"total_profit"`
	ROIGlobal      float64 `json:"roi_global"`
	AvgMargin      float64 `json:"avg_margin"`
	TotalRotations int     `json:"total_rotations"`

	WinningRotations int     `json:"winning_rotations"`
	WinRate          float64 `json:"win_rate"`     // Percentage of profitable rotations
	MaxDrawdown      float64 `json:"max_drawdown"` // Largest compounded peak-to-trough decline, percent
	SharpeRatio      float64 `json:"sharpe_ratio"` // Mean over stddev of per-rotation returns
}

// Aggregate computes totals and performance statistics in rotation order.
func Aggregate(summaries []RotationSummary) KPIs {
	if len(summaries) == 0 {
		return KPIs{}
	}

	invested, final, profit, margins := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	returns := make([]float64, 0, len(summaries))
	var winning int

	for _, s := range summaries {
		invested = invested.Add(decimal.NewFromFloat(s.EURInvested))
		final = final.Add(decimal.NewFromFloat(s.EURFinal))
		profit = profit.Add(decimal.NewFromFloat(s.EURProfit))
		margins = margins.Add(decimal.NewFromFloat(s.ProfitPct))
		returns = append(returns, s.ProfitPct/100)
		if s.EURProfit > 0 {
			winning++
		}
	}

	n := len(summaries)
	roi := decimal.Zero
	if invested.IsPositive() {
		roi = profit.Div(invested).Mul(hundred)
	}

	return KPIs{
		TotalInvested:    round2(invested),
		TotalFinal:       round2(final),
		TotalProfit:      round2(profit),
		ROIGlobal:        round2(roi),
		AvgMargin:        round2(margins.Div(decimal.NewFromInt(int64(n)))),
		TotalRotations:   n,
		WinningRotations: winning,
		WinRate:          round2(decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(n))).Mul(hundred)),
		MaxDrawdown:      round2(decimal.NewFromFloat(maxDrawdown(returns) * 100)),
		SharpeRatio:      round2(decimal.NewFromFloat(sharpeRatio(returns))),
	}
}

// maxDrawdown finds the largest peak-to-trough decline of the compounded
// returns.
func maxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	var maxDD float64
	peak := 1.0
	cumulative := 1.0

	for _, r := range returns {
		cumulative *= (1 + r)
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			dd := (peak - cumulative) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// sharpeRatio is the mean return over its sample standard deviation, with a
// zero risk-free rate. Rotations have no fixed period so it is not
// annualized.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))

	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
