package core

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// PivotCurrency is the settlement currency every rotation reinvests through.
	PivotCurrency = "EUR"

	// BridgeAsset is the tradable unit bought and sold on P2P markets.
	BridgeAsset = "USDT"
)

// Market is a P2P market for the bridge asset quoted in one local currency.
// BuyPrice and SellPrice are local currency units per unit of bridge asset.
type Market struct {
	Currency  string  `mapstructure:"currency" json:"currency"`
	BuyPrice  float64 `mapstructure:"buy_price" json:"buy_price"`
	SellPrice float64 `mapstructure:"sell_price" json:"sell_price"`
	FeePct    float64 `mapstructure:"fee_pct" json:"fee_pct"`
	Name      string  `mapstructure:"name" json:"name"`
}

// ConversionMethod selects how fiat conversions are priced.
type ConversionMethod string

const (
	MethodForex ConversionMethod = "forex"
	MethodBank  ConversionMethod = "bank"
)

// ParseConversionMethod parses a method name; empty input yields forex.
func ParseConversionMethod(s string) (ConversionMethod, error) {
	switch ConversionMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodForex:
		return MethodForex, nil
	case MethodBank:
		return MethodBank, nil
	default:
		return "", Errorf(ErrInvalidInput, "unknown conversion method %q", s)
	}
}

// TransactionType is the kind of a rotation phase or journal row.
type TransactionType string

const (
	TxAchat      TransactionType = "ACHAT"
	TxVente      TransactionType = "VENTE"
	TxConversion TransactionType = "CONVERSION"
	TxCloture    TransactionType = "CLOTURE"
)

// IsValid reports whether t is a known transaction type.
func (t TransactionType) IsValid() bool {
	switch t {
	case TxAchat, TxVente, TxConversion, TxCloture:
		return true
	}
	return false
}

// RateEntry is one forex rate table value. It is either a ScalarRate or a
// QuotedRate.
type RateEntry interface {
	rateEntry()
}

// ScalarRate is the legacy single-number format. For a pair "BASE/QUOTE"
// it reads as Rate units of BASE per unit of QUOTE.
type ScalarRate struct {
	Rate float64
}

// QuotedRate is a two-sided quote with an extra retail bank penalty.
type QuotedRate struct {
	Bid           float64
	Ask           float64
	BankSpreadPct float64
}

func (ScalarRate) rateEntry() {}
func (QuotedRate) rateEntry() {}

// RateTable maps "BASE/QUOTE" keys to rate entries.
type RateTable map[string]RateEntry

// PairKey builds the "BASE/QUOTE" key.
func PairKey(base, quote string) string {
	return base + "/" + quote
}

// SplitPair splits a "BASE/QUOTE" key.
func SplitPair(key string) (base, quote string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", Errorf(ErrConfigInvalid, "malformed currency pair %q", key)
	}
	return parts[0], parts[1], nil
}

// Keys returns the pair keys in sorted order.
func (t RateTable) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy; entries are values so the copy is independent.
func (t RateTable) Clone() RateTable {
	out := make(RateTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// String renders an entry for logs and CLI output.
func (r ScalarRate) String() string {
	return fmt.Sprintf("%g", r.Rate)
}

func (r QuotedRate) String() string {
	return fmt.Sprintf("bid=%g ask=%g bank_spread=%g%%", r.Bid, r.Ask, r.BankSpreadPct)
}
