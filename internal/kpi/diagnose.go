package kpi

import (
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/journal"
	"github.com/newthinker/p2parb/internal/money"
)

// A conversion Amount_USDT above this was most likely typed in local units.
const localUnitsSuspectThreshold = 100000.0

// DiagnosisLine is one journal row as seen by the diagnosis.
type DiagnosisLine struct {
	Type        core.TransactionType
	Currency    string
	AmountUSDT  float64
	AmountLocal float64
	// Suspect marks a conversion whose bridge amount looks like local units.
	Suspect bool
}

// Diagnosis is the coherence report of one rotation.
type Diagnosis struct {
	RotationID string
	Lines      []DiagnosisLine
	USDTIn     float64
	EURIn      float64
	EUROut     float64
	ProfitEUR  float64
	ProfitPct  float64
}

// Suspects returns the lines flagged as suspect.
func (d *Diagnosis) Suspects() []DiagnosisLine {
	var out []DiagnosisLine
	for _, l := range d.Lines {
		if l.Suspect {
			out = append(out, l)
		}
	}
	return out
}

// Diagnose lists a rotation's trades grouped by type and recomputes its
// invested and recovered EUR without the filtering Summarize applies.
func Diagnose(entries []journal.Entry, id string) (*Diagnosis, error) {
	var rows []journal.Entry
	for _, e := range entries {
		if e.RotationID == id {
			rows = append(rows, e)
		}
	}
	if len(rows) == 0 {
		return nil, core.Errorf(core.ErrRotationNotFound, "no journal rows for %s", id)
	}

	d := &Diagnosis{RotationID: id}
	for _, t := range []core.TransactionType{core.TxAchat, core.TxVente, core.TxConversion} {
		for _, r := range rows {
			if r.Type != t {
				continue
			}
			d.Lines = append(d.Lines, DiagnosisLine{
				Type:        r.Type,
				Currency:    r.Currency,
				AmountUSDT:  r.AmountUSDT,
				AmountLocal: r.AmountLocal,
				Suspect:     t == core.TxConversion && r.AmountUSDT > localUnitsSuspectThreshold,
			})
		}
	}

	var usdtIn, eurIn, eurOut []float64
	for _, r := range rows {
		switch {
		case r.Type == core.TxAchat:
			usdtIn = append(usdtIn, r.AmountUSDT)
			if r.Currency == core.PivotCurrency {
				eurIn = append(eurIn, r.AmountLocal)
			}
		case r.Type == core.TxConversion && r.Currency == core.PivotCurrency:
			eurOut = append(eurOut, r.AmountLocal)
		}
	}

	in, out := money.Sum(eurIn...), money.Sum(eurOut...)
	profit := out.Sub(in)
	d.USDTIn = round2(money.Sum(usdtIn...))
	d.EURIn = round2(in)
	d.EUROut = round2(out)
	d.ProfitEUR = round2(profit)
	if in.IsPositive() {
		d.ProfitPct = round2(profit.Div(in).Mul(hundred))
	}
	return d, nil
}
