package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/newthinker/p2parb/internal/app"
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/money"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the most profitable routes",
	RunE:  runRoutes,
}

var calcCmd = &cobra.Command{
	Use:   "calc <sourcing> <selling>",
	Short: "Price a single route",
	Args:  cobra.ExactArgs(2),
	RunE:  runCalc,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check markets and rates for coherence problems",
	RunE:  runValidate,
}

var (
	routesTop     int
	routesSource  string
	routesExclude string
	routesLoop    string
	routesMethod  string
	routesAll     bool
	routesAmount  float64
	calcAmount    float64
	calcMethod    string
	calcShowPlan  bool
)

func init() {
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(calcCmd)
	rootCmd.AddCommand(validateCmd)

	routesCmd.Flags().IntVarP(&routesTop, "top", "n", engine.DefaultTopN, "number of routes to show")
	routesCmd.Flags().StringVar(&routesSource, "source", "", "only buy in this currency")
	routesCmd.Flags().StringVar(&routesExclude, "exclude", "", "comma separated selling markets to skip")
	routesCmd.Flags().StringVar(&routesLoop, "loop", "", "loop currency, allowed even when excluded")
	routesCmd.Flags().StringVarP(&routesMethod, "method", "m", "", "conversion method (forex or bank)")
	routesCmd.Flags().BoolVar(&routesAll, "all", false, "include routes below the profitability threshold")
	routesCmd.Flags().Float64Var(&routesAmount, "amount", engine.DefaultSearchAmount, "USDT amount to price with")

	calcCmd.Flags().Float64Var(&calcAmount, "amount", engine.DefaultSearchAmount, "USDT amount")
	calcCmd.Flags().StringVarP(&calcMethod, "method", "m", "", "conversion method (forex or bank)")
	calcCmd.Flags().BoolVar(&calcShowPlan, "plan", false, "print the flight plan")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	method, err := parseMethod(routesMethod)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		routes := a.Engine().Search(engine.SearchOptions{
			TopN:             routesTop,
			ApplyThreshold:   !routesAll,
			SourcingCurrency: routesSource,
			ExcludedMarkets:  splitList(routesExclude),
			LoopCurrency:     routesLoop,
			Method:           method,
			Amount:           routesAmount,
		})
		if len(routes) == 0 {
			fmt.Println("No route found.")
			return nil
		}
		printRoutes(routes)
		return nil
	})
}

func printRoutes(routes []engine.Route) {
	w := newTable()
	fmt.Fprintln(w, "#\tROUTE\tMETHOD\tPROFIT\tPROFIT EUR\tFINAL USDT\t")
	for i, r := range routes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.2f\t\n",
			i+1, r.Description, r.Method, money.Pct(r.ProfitPct),
			money.Format(r.ProfitEUR, core.PivotCurrency), r.FinalAmount)
	}
	w.Flush()
}

func runCalc(cmd *cobra.Command, args []string) error {
	method, err := parseMethod(calcMethod)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		sourcing, selling := strings.ToUpper(args[0]), strings.ToUpper(args[1])
		route, err := a.Engine().Evaluate(calcAmount, sourcing, selling, method)
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n\n", route.Description, route.Method)
		for _, d := range route.Details {
			fmt.Printf("  %-13s %s\n", d.Step+":", d.Text)
		}
		fmt.Println()
		fmt.Printf("  Cost:    %s\n", money.Format(route.CostEUR, core.PivotCurrency))
		fmt.Printf("  Revenue: %s\n", money.Format(route.RevenueEUR, core.PivotCurrency))
		fmt.Printf("  Profit:  %s (%s)\n", money.Format(route.ProfitEUR, core.PivotCurrency), money.Pct(route.ProfitPct))
		fmt.Printf("  USDT:    %.2f -> %.2f\n", route.InitialAmount, route.FinalAmount)

		if calcShowPlan {
			fmt.Println()
			printPlan(route.Plan, 0)
		}
		return nil
	})
}

// printPlan lists the phases; the first done phases are marked complete.
func printPlan(plan engine.Plan, done int) {
	w := newTable()
	fmt.Fprintln(w, "\tCYCLE\tPHASE\tTYPE\tMARKET\tDESCRIPTION\t")
	for i, p := range plan.Phases {
		mark := " "
		switch {
		case i < done:
			mark = "x"
		case i == done:
			mark = ">"
		}
		market := p.Market
		if p.Type == core.TxConversion {
			market = p.MarketFrom + "->" + p.MarketTo
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t\n", mark, p.Cycle, p.PhaseInCycle, p.Type, market, p.Description)
	}
	w.Flush()
}

func runValidate(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		alerts := a.Engine().ValidateSnapshot()
		if len(alerts) == 0 {
			fmt.Println("Configuration is coherent.")
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "SEVERITY\tTYPE\tCURRENCY\tMESSAGE\t")
		for _, al := range alerts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", al.Severity, al.Type, al.Currency, al.Message)
		}
		w.Flush()

		if blocking := engine.BlockingAlerts(alerts); len(blocking) > 0 {
			return fmt.Errorf("%d blocking configuration error(s)", len(blocking))
		}
		return nil
	})
}
