package main

import (
	"context"
	"fmt"

	"github.com/newthinker/p2parb/internal/app"
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/kpi"
	"github.com/newthinker/p2parb/internal/money"
	"github.com/spf13/cobra"
)

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "KPI reporting",
}

var kpiReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Reconcile the journal and archive daily and monthly KPI files",
	RunE:  runKPIReport,
}

var kpiDiagnoseCmd = &cobra.Command{
	Use:   "diagnose <rotation-id>",
	Short: "Recompute one rotation from its journal rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runKPIDiagnose,
}

func init() {
	rootCmd.AddCommand(kpiCmd)
	kpiCmd.AddCommand(kpiReportCmd)
	kpiCmd.AddCommand(kpiDiagnoseCmd)
}

func runKPIReport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		summaries, res, err := a.Report(ctx)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No complete rotation in the journal.")
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "ROTATION\tDATE\tUSDT IN\tEUR IN\tEUR OUT\tPROFIT\tMARGIN\tTX\t")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%d\t\n",
				s.RotationID, s.Date, s.USDTInvested,
				money.Amount(s.EURInvested, core.PivotCurrency),
				money.Amount(s.EURFinal, core.PivotCurrency),
				money.Amount(s.EURProfit, core.PivotCurrency),
				money.Pct(s.ProfitPct), s.Transactions)
		}
		w.Flush()

		for _, s := range summaries {
			for _, warning := range s.Warnings {
				fmt.Printf("warning %s: %s\n", s.RotationID, warning)
			}
		}

		printKPIs(kpi.Aggregate(summaries))

		fmt.Println()
		if res.NewCount > 0 {
			fmt.Printf("Daily report: %s (%d new, %d already reported)\n", res.SummaryFile, res.NewCount, res.Skipped)
		} else {
			fmt.Printf("No new rotation to report (%d already reported today)\n", res.Skipped)
		}
		fmt.Printf("Monthly KPIs: %s\n", res.MonthlyFile)
		return nil
	})
}

func printKPIs(k kpi.KPIs) {
	fmt.Println()
	w := newTable()
	fmt.Fprintf(w, "Rotations\t%d (%d winning, %.1f%%)\n", k.TotalRotations, k.WinningRotations, k.WinRate)
	fmt.Fprintf(w, "Invested\t%s\n", money.Format(k.TotalInvested, core.PivotCurrency))
	fmt.Fprintf(w, "Recovered\t%s\n", money.Format(k.TotalFinal, core.PivotCurrency))
	fmt.Fprintf(w, "Profit\t%s\n", money.Format(k.TotalProfit, core.PivotCurrency))
	fmt.Fprintf(w, "Global ROI\t%s\n", money.Pct(k.ROIGlobal))
	fmt.Fprintf(w, "Average margin\t%s\n", money.Pct(k.AvgMargin))
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", k.MaxDrawdown)
	fmt.Fprintf(w, "Sharpe ratio\t%.2f\n", k.SharpeRatio)
	w.Flush()
}

func runKPIDiagnose(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		entries, err := a.Journal().RotationEntries(args[0])
		if err != nil {
			return err
		}
		d, err := kpi.Diagnose(entries, args[0])
		if err != nil {
			return err
		}

		w := newTable()
		fmt.Fprintln(w, "TYPE\tCURRENCY\tUSDT\tLOCAL\t\t")
		for _, l := range d.Lines {
			flag := ""
			if l.Suspect {
				flag = "suspect: USDT amount looks like local units"
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t\n", l.Type, l.Currency, l.AmountUSDT, money.Amount(l.AmountLocal, l.Currency), flag)
		}
		w.Flush()

		fmt.Println()
		fmt.Printf("USDT invested: %.2f\n", d.USDTIn)
		fmt.Printf("EUR invested:  %s\n", money.Format(d.EURIn, core.PivotCurrency))
		fmt.Printf("EUR recovered: %s\n", money.Format(d.EUROut, core.PivotCurrency))
		fmt.Printf("Profit:        %s (%s)\n", money.Format(d.ProfitEUR, core.PivotCurrency), money.Pct(d.ProfitPct))
		if n := len(d.Suspects()); n > 0 {
			fmt.Printf("%d suspect line(s): check the journal before reporting.\n", n)
		}
		return nil
	})
}
