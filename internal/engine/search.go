package engine

import (
	"sort"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"go.uber.org/zap"
)

const (
	// DefaultTopN is the number of routes returned when TopN is unset.
	DefaultTopN = 5

	// DefaultSearchAmount is the bridge amount every candidate is priced with.
	DefaultSearchAmount = 1000.0

	// Routes outside [minPlausiblePct, maxPlausiblePct] are treated as data errors.
	minPlausiblePct = -90.0
	maxPlausiblePct = 1000.0
)

// SearchOptions filter and bound a route search.
type SearchOptions struct {
	TopN           int
	SkipValidation bool
	ApplyThreshold bool

	// SourcingCurrency restricts the buy leg when set.
	SourcingCurrency string

	// ExcludedMarkets are skipped as selling markets, except LoopCurrency
	// which is always allowed.
	ExcludedMarkets []string
	LoopCurrency    string

	// Method defaults to the snapshot's default conversion method.
	Method core.ConversionMethod

	// Amount defaults to DefaultSearchAmount.
	Amount float64
}

// Search prices every ordered pair of distinct markets and returns the best
// routes by descending profit percentage. A blocking coherence alert or
// fewer than two markets yields an empty result.
func (e *Engine) Search(opts SearchOptions) []Route {
	start := time.Now()
	s := e.Snapshot()

	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.Amount == 0 {
		opts.Amount = DefaultSearchAmount
	}
	if opts.Method == "" {
		opts.Method = s.settings.DefaultMethod
	}
	sourcing := normalizeCurrency(opts.SourcingCurrency)
	loop := normalizeCurrency(opts.LoopCurrency)
	excluded := make(map[string]bool, len(opts.ExcludedMarkets))
	for _, c := range opts.ExcludedMarkets {
		excluded[normalizeCurrency(c)] = true
	}

	if !opts.SkipValidation {
		alerts := ValidateConfig(s.markets, s.rates)
		for _, a := range alerts {
			e.metrics.RecordAlert(string(a.Type), string(a.Severity))
		}
		if blocking := BlockingAlerts(alerts); len(blocking) > 0 {
			for _, a := range blocking {
				e.logger.Error("blocking configuration error",
					zap.String("type", string(a.Type)),
					zap.String("message", a.Message),
				)
			}
			e.metrics.RecordSearch("blocked", time.Since(start).Seconds())
			return []Route{}
		}
		if n := len(alerts); n > 0 {
			e.logger.Info("non-blocking configuration alerts", zap.Int("count", n))
		}
	}

	if len(s.markets) < 2 {
		e.logger.Error("not enough markets configured", zap.Int("markets", len(s.markets)))
		e.metrics.RecordSearch("empty", time.Since(start).Seconds())
		return []Route{}
	}

	var routes []Route
	for _, a := range s.markets {
		if sourcing != "" && a.Currency != sourcing {
			continue
		}
		for _, b := range s.markets {
			if a.Currency == b.Currency {
				continue
			}
			if excluded[b.Currency] && b.Currency != loop {
				e.logger.Debug("route excluded",
					zap.String("sourcing", a.Currency),
					zap.String("selling", b.Currency),
				)
				continue
			}
			route, err := e.evaluate(s, opts.Amount, a.Currency, b.Currency, opts.Method)
			if err != nil {
				continue
			}
			routes = append(routes, *route)
		}
	}

	if len(routes) == 0 {
		e.logger.Warn("no valid route found")
		e.metrics.RecordSearch("empty", time.Since(start).Seconds())
		return []Route{}
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].ProfitPct > routes[j].ProfitPct
	})

	kept := make([]Route, 0, len(routes))
	for _, r := range routes {
		switch {
		case r.ProfitPct < minPlausiblePct:
			e.logger.Debug("route rejected: excessive loss",
				zap.String("route", r.Description), zap.Float64("profit_pct", r.ProfitPct))
			continue
		case r.ProfitPct > maxPlausiblePct:
			e.logger.Debug("route rejected: implausible profit",
				zap.String("route", r.Description), zap.Float64("profit_pct", r.ProfitPct))
			continue
		case opts.ApplyThreshold && r.ProfitPct < s.settings.ProfitThresholdPct:
			e.logger.Debug("route rejected: below threshold",
				zap.String("route", r.Description), zap.Float64("profit_pct", r.ProfitPct))
			continue
		}
		kept = append(kept, r)
	}

	if len(kept) > opts.TopN {
		kept = kept[:opts.TopN]
	}

	e.metrics.RecordSearch("ok", time.Since(start).Seconds())
	if len(kept) > 0 {
		e.metrics.SetBestProfit(kept[0].ProfitPct)
	}
	return kept
}

// BestRoutes searches all markets with the profitability threshold applied.
func (e *Engine) BestRoutes(topN int, method core.ConversionMethod) []Route {
	return e.Search(SearchOptions{
		TopN:           topN,
		ApplyThreshold: true,
		Method:         method,
	})
}
