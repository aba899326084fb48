package engine

import (
	"math"

	"github.com/newthinker/p2parb/internal/core"
)

// ResolveRate returns how many units of to one unit of from converts into.
//
// The pair is looked up as "from/to" first and "to/from" second. A scalar
// entry r on "BASE/QUOTE" reads as r units of BASE per QUOTE, so BASE→QUOTE
// yields 1/r and QUOTE→BASE yields r whatever the method. Quoted entries
// always price against the caller: forex gives 1/ask selling BASE and bid
// selling QUOTE; bank applies bank_spread_pct to the mid in both directions.
//
// Errors carry core.ErrRateMissing, core.ErrRateInvalid or
// core.ErrRateInconsistent. The table is never modified.
func ResolveRate(from, to string, table core.RateTable, method core.ConversionMethod) (float64, error) {
	if from == to {
		return 1.0, nil
	}

	key := core.PairKey(from, to)
	entry, ok := table[key]
	if !ok {
		key = core.PairKey(to, from)
		entry, ok = table[key]
	}
	if !ok {
		return 0, core.Errorf(core.ErrRateMissing, "%s→%s", from, to)
	}

	base, quote, err := core.SplitPair(key)
	if err != nil {
		return 0, err
	}

	var forward bool
	switch {
	case from == base && to == quote:
		forward = true
	case from == quote && to == base:
		forward = false
	default:
		return 0, core.Errorf(core.ErrRateInconsistent, "pair %s, conversion %s→%s", key, from, to)
	}

	switch r := entry.(type) {
	case core.ScalarRate:
		if !(r.Rate > 0) || math.IsInf(r.Rate, 0) {
			return 0, core.Errorf(core.ErrRateInvalid, "%s=%v", key, r.Rate)
		}
		if forward {
			return 1.0 / r.Rate, nil
		}
		return r.Rate, nil

	case core.QuotedRate:
		if !(r.Bid > 0) || !(r.Ask > 0) {
			return 0, core.Errorf(core.ErrRateInvalid, "%s bid=%v ask=%v", key, r.Bid, r.Ask)
		}
		if method == core.MethodBank {
			mid := (r.Bid + r.Ask) / 2
			penalty := 1 - r.BankSpreadPct/100
			if forward {
				return (1 / mid) * penalty, nil
			}
			return mid * penalty, nil
		}
		if forward {
			return 1.0 / r.Ask, nil
		}
		return r.Bid, nil

	default:
		return 0, core.Errorf(core.ErrRateInvalid, "%s: unsupported entry %T", key, entry)
	}
}
