package simulation

import (
	"fmt"
	"strings"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/money"
)

const reportWidth = 70

// renderReport produces the human readable simulation_report.txt.
func renderReport(res *Result, now time.Time) string {
	var b strings.Builder
	rule := strings.Repeat("=", reportWidth)
	thin := strings.Repeat("-", reportWidth)
	p := res.Params

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "ROTATION SIMULATION REPORT")
	fmt.Fprintf(&b, "Generated:  %s\n", now.Format("02/01/2006 15:04:05"))
	fmt.Fprintf(&b, "Simulation: %s\n", res.ID)
	fmt.Fprintf(&b, "Rotation:   %s\n", res.RotationID)
	fmt.Fprintln(&b, rule)

	loop := p.LoopCurrency
	if loop == "" {
		loop = "auto (" + core.PivotCurrency + ")"
	}
	excluded := strings.Join(p.ExcludedMarkets, ", ")
	if excluded == "" {
		excluded = "none"
	}

	fmt.Fprintln(&b, "\nPARAMETERS")
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "  %-26s %s\n", "Sourcing currency:", p.SourcingCurrency)
	fmt.Fprintf(&b, "  %-26s %s\n", "Initial capital:", money.Format(p.Capital, p.SourcingCurrency))
	fmt.Fprintf(&b, "  %-26s = %.6f %s\n", "", res.InitialUSDT, core.BridgeAsset)
	fmt.Fprintf(&b, "  %-26s %d\n", "Cycles:", p.Cycles)
	fmt.Fprintf(&b, "  %-26s %s\n", "Loop currency:", loop)
	fmt.Fprintf(&b, "  %-26s %s\n", "Excluded selling markets:", excluded)

	fmt.Fprintln(&b, "\nSELECTED ROUTE")
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "  %-26s %s\n", "Path:", res.Route.Description)
	fmt.Fprintf(&b, "  %-26s %s\n", "Theoretical margin:", money.Pct(res.Route.ProfitPct))
	fmt.Fprintf(&b, "  %-26s %s\n", "Conversion method:", res.Route.Method)
	fmt.Fprintf(&b, "  %-26s %s\n", "Sourcing market:", res.Route.SourcingCurrency)
	fmt.Fprintf(&b, "  %-26s %s\n", "Selling market:", res.Route.SellingCurrency)

	fmt.Fprintln(&b, "\nSIMULATED TRANSACTIONS")
	fmt.Fprintln(&b, thin)
	for i, e := range res.Entries {
		fmt.Fprintf(&b, "\n  Transaction %d (%s)\n", i+1, e.Type)
		fmt.Fprintf(&b, "    %-16s %s\n", "Market:", e.Market)
		fmt.Fprintf(&b, "    %-16s %.6f\n", "Amount USDT:", e.AmountUSDT)
		fmt.Fprintf(&b, "    %-16s %.6f\n", "Local price:", e.PriceLocal)
		fmt.Fprintf(&b, "    %-16s %s\n", "Local amount:", money.Format(e.AmountLocal, e.Currency))
		fmt.Fprintf(&b, "    %-16s %g%%\n", "Fee:", e.FeePct)
		fmt.Fprintf(&b, "    %-16s %s\n", "Counterparty:", e.CounterpartyID)
	}
	if res.Stopped {
		fmt.Fprintf(&b, "\n  Stopped after %d of %d cycles: a cycle could not be priced.\n", res.CyclesRun, p.Cycles)
	}

	fmt.Fprintln(&b, "\n"+rule)
	fmt.Fprintln(&b, "FINAL RESULT")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "  %-26s %.6f\n", "Initial capital (USDT):", res.InitialUSDT)
	fmt.Fprintf(&b, "  %-26s %.6f\n", "Final capital (USDT):", res.FinalUSDT)
	fmt.Fprintf(&b, "  %-26s %.6f\n", "Profit (USDT):", res.ProfitUSDT)
	fmt.Fprintf(&b, "  %-26s %s\n", "ROI:", money.Pct(res.ROIPct))
	fmt.Fprintf(&b, "  %-26s %d\n", "Transactions:", len(res.Entries))
	fmt.Fprintln(&b, rule)
	return b.String()
}
