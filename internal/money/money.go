// Package money formats and rounds amounts for reports and the CLI.
package money

import (
	"fmt"
	"strings"

	"github.com/leekchan/accounting"
	"github.com/shopspring/decimal"
)

// precisions lists currencies that do not use two decimals.
var precisions = map[string]int{
	"XAF": 0,
	"XOF": 0,
	"JPY": 0,
	"BTC": 8,
}

// Precision returns the number of decimals displayed for a currency.
func Precision(currency string) int {
	if p, ok := precisions[strings.ToUpper(currency)]; ok {
		return p
	}
	return 2
}

// Amount formats v with thousands separators, without a currency code.
func Amount(v float64, currency string) string {
	ac := accounting.Accounting{Symbol: "", Precision: Precision(currency)}
	return ac.FormatMoneyFloat64(v)
}

// Format formats v followed by its currency code, e.g. "1,234.50 EUR".
func Format(v float64, currency string) string {
	return Amount(v, currency) + " " + strings.ToUpper(currency)
}

// Pct formats a signed percentage with two decimals.
func Pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", Round(v, 2))
}

// Round rounds half away from zero in decimal arithmetic.
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Sum adds values in decimal arithmetic.
func Sum(values ...float64) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total
}
