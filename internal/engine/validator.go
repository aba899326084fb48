package engine

import (
	"fmt"

	"github.com/newthinker/p2parb/internal/core"
)

// AlertType classifies a coherence finding.
type AlertType string

const (
	AlertNegativePrice  AlertType = "PRIX_NEGATIF"
	AlertNegativeFee    AlertType = "FRAIS_NEGATIFS"
	AlertNegativeRate   AlertType = "TAUX_NEGATIF"
	AlertNegativeSpread AlertType = "SPREAD_NEGATIF"
	AlertMissingRate    AlertType = "TAUX_MANQUANT"
	AlertInvertedSpread AlertType = "SPREAD_INVERSE"
	AlertSpreadAnomaly  AlertType = "ANOMALIE_SPREAD"
	AlertAbnormalSpread AlertType = "SPREAD_ANORMAL"
)

// Severity is ERROR or WARNING.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Alert is one finding of ValidateConfig.
type Alert struct {
	Type     AlertType `json:"type"`
	Severity Severity  `json:"severity"`
	Currency string    `json:"currency,omitempty"`
	Message  string    `json:"message"`
}

// Spread thresholds, in percent of the sell price.
const (
	invertedSpreadPct = -10.0
	anomalySpreadPct  = -0.5
	abnormalSpreadPct = 15.0
)

// ValidateConfig checks markets and rates for coherence problems. It never
// fails; findings come back as alerts in check order: market prices, rate
// components, pivot connectivity, then buy/sell spreads.
func ValidateConfig(markets []core.Market, table core.RateTable) []Alert {
	alerts := []Alert{}

	for _, m := range markets {
		if m.BuyPrice < 0 {
			alerts = append(alerts, errorAlert(AlertNegativePrice, m.Currency,
				"%s: negative buy price (%.4f)", m.Currency, m.BuyPrice))
		}
		if m.SellPrice < 0 {
			alerts = append(alerts, errorAlert(AlertNegativePrice, m.Currency,
				"%s: negative sell price (%.4f)", m.Currency, m.SellPrice))
		}
		if m.FeePct < 0 {
			alerts = append(alerts, errorAlert(AlertNegativeFee, m.Currency,
				"%s: negative fee (%.2f%%)", m.Currency, m.FeePct))
		}
	}

	for _, key := range table.Keys() {
		switch r := table[key].(type) {
		case core.ScalarRate:
			if r.Rate < 0 {
				alerts = append(alerts, errorAlert(AlertNegativeRate, "",
					"%s: negative rate (%.4f)", key, r.Rate))
			}
		case core.QuotedRate:
			if r.Bid < 0 {
				alerts = append(alerts, errorAlert(AlertNegativeRate, "",
					"%s: negative bid (%.4f)", key, r.Bid))
			}
			if r.Ask < 0 {
				alerts = append(alerts, errorAlert(AlertNegativeRate, "",
					"%s: negative ask (%.4f)", key, r.Ask))
			}
			if r.BankSpreadPct < 0 {
				alerts = append(alerts, errorAlert(AlertNegativeSpread, "",
					"%s: negative bank spread (%.2f%%)", key, r.BankSpreadPct))
			}
		}
	}

	pivot := DetectPivot(table)
	for _, m := range markets {
		if m.Currency == pivot {
			continue
		}
		_, direct := table[core.PairKey(m.Currency, pivot)]
		_, inverse := table[core.PairKey(pivot, m.Currency)]
		if !direct && !inverse {
			alerts = append(alerts, errorAlert(AlertMissingRate, m.Currency,
				"%s has no rate to pivot %s", m.Currency, pivot))
		}
	}

	for _, m := range markets {
		if !(m.BuyPrice > 0) || !(m.SellPrice > 0) {
			continue
		}
		spread := (m.BuyPrice - m.SellPrice) / m.SellPrice * 100
		switch {
		case spread < invertedSpreadPct:
			alerts = append(alerts, errorAlert(AlertInvertedSpread, m.Currency,
				"%s: extreme inverted spread (%.2f%%), check buy_price/sell_price", m.Currency, spread))
		case spread < anomalySpreadPct:
			alerts = append(alerts, warningAlert(AlertSpreadAnomaly, m.Currency,
				"%s: inverted spread (%.2f%%), possible arbitrage opportunity", m.Currency, spread))
		case spread > abnormalSpreadPct:
			alerts = append(alerts, warningAlert(AlertAbnormalSpread, m.Currency,
				"%s: wide spread (%.2f%%)", m.Currency, spread))
		}
	}

	return alerts
}

// DetectPivot returns the currency appearing in the most pair keys. Ties go
// to EUR when it is among them, otherwise to the currency seen first when
// walking keys in sorted order. An empty table yields EUR.
func DetectPivot(table core.RateTable) string {
	counts := map[string]int{}
	var order []string
	for _, key := range table.Keys() {
		base, quote, err := core.SplitPair(key)
		if err != nil {
			continue
		}
		for _, cur := range []string{base, quote} {
			if counts[cur] == 0 {
				order = append(order, cur)
			}
			counts[cur]++
		}
	}

	pivot, best := core.PivotCurrency, 0
	for _, cur := range order {
		if counts[cur] > best || (counts[cur] == best && cur == core.PivotCurrency) {
			pivot, best = cur, counts[cur]
		}
	}
	return pivot
}

// BlockingAlerts returns the alerts that must abort a route search: ERROR
// severity with type TAUX_MANQUANT or SPREAD_INVERSE. Everything else is
// informational.
func BlockingAlerts(alerts []Alert) []Alert {
	var blocking []Alert
	for _, a := range alerts {
		if a.Severity != SeverityError {
			continue
		}
		if a.Type == AlertMissingRate || a.Type == AlertInvertedSpread {
			blocking = append(blocking, a)
		}
	}
	return blocking
}

func errorAlert(t AlertType, currency, format string, args ...any) Alert {
	return Alert{Type: t, Severity: SeverityError, Currency: currency, Message: fmt.Sprintf(format, args...)}
}

func warningAlert(t AlertType, currency, format string, args ...any) Alert {
	return Alert{Type: t, Severity: SeverityWarning, Currency: currency, Message: fmt.Sprintf(format, args...)}
}
