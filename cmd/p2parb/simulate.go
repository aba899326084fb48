package main

import (
	"context"
	"fmt"

	"github.com/newthinker/p2parb/internal/app"
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/money"
	"github.com/newthinker/p2parb/internal/simulation"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a multi-cycle rotation on configured prices",
	RunE:  runSimulate,
}

var (
	simSource  string
	simCapital float64
	simCycles  int
	simLoop    string
	simExclude string
	simChoice  int
	simMethod  string
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simSource, "source", core.PivotCurrency, "sourcing currency")
	simulateCmd.Flags().Float64Var(&simCapital, "capital", 1000, "initial capital in the sourcing currency")
	simulateCmd.Flags().IntVar(&simCycles, "cycles", 1, "number of cycles")
	simulateCmd.Flags().StringVar(&simLoop, "loop", "", "loop currency for cycles after the first")
	simulateCmd.Flags().StringVar(&simExclude, "exclude", "", "comma separated selling markets to skip")
	simulateCmd.Flags().IntVar(&simChoice, "choice", 1, "rank of the route to simulate")
	simulateCmd.Flags().StringVarP(&simMethod, "method", "m", "", "conversion method (forex or bank)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	method, err := parseMethod(simMethod)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Simulator().Run(ctx, simulation.Params{
			SourcingCurrency: simSource,
			Capital:          simCapital,
			Cycles:           simCycles,
			LoopCurrency:     simLoop,
			ExcludedMarkets:  splitList(simExclude),
			Choice:           simChoice,
			Method:           method,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Simulation %s: %s (%s)\n\n", res.ID, res.Route.Description, money.Pct(res.Route.ProfitPct))
		w := newTable()
		fmt.Fprintln(w, "#\tTYPE\tMARKET\tUSDT\tLOCAL\t")
		for i, e := range res.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\t\n", i+1, e.Type, e.Market, e.AmountUSDT, money.Format(e.AmountLocal, e.Currency))
		}
		w.Flush()

		fmt.Println()
		if res.Stopped {
			fmt.Printf("Stopped after %d of %d cycles: a cycle could not be priced.\n", res.CyclesRun, simCycles)
		}
		fmt.Printf("Initial: %.6f USDT\n", res.InitialUSDT)
		fmt.Printf("Final:   %.6f USDT\n", res.FinalUSDT)
		fmt.Printf("Profit:  %.6f USDT (%s)\n", res.ProfitUSDT, money.Pct(res.ROIPct))
		fmt.Println()
		for _, f := range res.Files {
			fmt.Printf("  %s\n", f)
		}
		return nil
	})
}
