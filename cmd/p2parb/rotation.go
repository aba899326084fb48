package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/newthinker/p2parb/internal/app"
	"github.com/newthinker/p2parb/internal/briefing"
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/money"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rotationCmd = &cobra.Command{
	Use:   "rotation",
	Short: "Rotation operations",
	Long:  `Commands to plan a rotation, follow its flight plan and journal each phase.`,
}

var rotationPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a new rotation on one of the best routes",
	RunE:  runRotationPlan,
}

var rotationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current rotation and its next phase",
	RunE:  runRotationStatus,
}

var rotationLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Journal the next phase of the current rotation",
	RunE:  runRotationLog,
}

var rotationForceCmd = &cobra.Command{
	Use:   "force",
	Short: "Journal a transaction out of plan order",
	RunE:  runRotationForce,
}

var rotationCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the current rotation early",
	RunE:  runRotationClose,
}

var rotationLoopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Loop currency operations",
}

var rotationLoopSetCmd = &cobra.Command{
	Use:   "set <currency>",
	Short: "Set the loop currency of the current rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  runRotationLoopSet,
}

var rotationLoopAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a cycle on the loop currency to the flight plan",
	RunE:  runRotationLoopAdd,
}

var rotationStatsCmd = &cobra.Command{
	Use:   "stats [rotation-id]",
	Short: "Show rotation statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRotationStats,
}

// phaseFlags are the trade details shared by log and force.
type phaseFlags struct {
	txType       string
	market       string
	usdt         float64
	local        float64
	sent         float64
	received     float64
	fee          float64
	payment      string
	counterparty string
	notes        string
	lesson       string
}

func (f *phaseFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.txType, "type", "", "transaction type (ACHAT, VENTE, CONVERSION, CLOTURE)")
	fs.StringVar(&f.market, "market", "", "market currency")
	fs.Float64Var(&f.usdt, "usdt", 0, "USDT amount")
	fs.Float64Var(&f.local, "local", 0, "local currency amount")
	fs.Float64Var(&f.sent, "sent", 0, "amount sent in a conversion")
	fs.Float64Var(&f.received, "received", 0, "amount received in a conversion")
	fs.Float64Var(&f.fee, "fee", 0, "fee percentage")
	fs.StringVar(&f.payment, "payment", "", "payment method")
	fs.StringVar(&f.counterparty, "counterparty", "", "counterparty id")
	fs.StringVar(&f.notes, "notes", "", "free notes")
	fs.StringVar(&f.lesson, "lesson", "", "lesson learned, saved to the debriefing")
}

func (f *phaseFlags) input() briefing.PhaseInput {
	return briefing.PhaseInput{
		Type:           core.TransactionType(strings.ToUpper(strings.TrimSpace(f.txType))),
		Market:         f.market,
		AmountUSDT:     f.usdt,
		AmountLocal:    f.local,
		AmountSent:     f.sent,
		AmountReceived: f.received,
		FeePct:         f.fee,
		PaymentMethod:  f.payment,
		CounterpartyID: f.counterparty,
		Notes:          f.notes,
		Lesson:         f.lesson,
	}
}

var (
	planChoice  int
	planTop     int
	planSource  string
	planExclude string
	planMethod  string
	planDryRun  bool

	logFlags   phaseFlags
	forceFlags phaseFlags

	forceReason string
	closeReason string
	closeLesson string
)

func init() {
	rootCmd.AddCommand(rotationCmd)
	rotationCmd.AddCommand(rotationPlanCmd)
	rotationCmd.AddCommand(rotationStatusCmd)
	rotationCmd.AddCommand(rotationLogCmd)
	rotationCmd.AddCommand(rotationForceCmd)
	rotationCmd.AddCommand(rotationCloseCmd)
	rotationCmd.AddCommand(rotationLoopCmd)
	rotationCmd.AddCommand(rotationStatsCmd)
	rotationLoopCmd.AddCommand(rotationLoopSetCmd)
	rotationLoopCmd.AddCommand(rotationLoopAddCmd)

	rotationPlanCmd.Flags().IntVar(&planChoice, "choice", 1, "rank of the route to plan")
	rotationPlanCmd.Flags().IntVarP(&planTop, "top", "n", 5, "number of candidate routes")
	rotationPlanCmd.Flags().StringVar(&planSource, "source", "", "only buy in this currency")
	rotationPlanCmd.Flags().StringVar(&planExclude, "exclude", "", "comma separated selling markets to skip")
	rotationPlanCmd.Flags().StringVarP(&planMethod, "method", "m", "", "conversion method (forex or bank)")
	rotationPlanCmd.Flags().BoolVar(&planDryRun, "dry-run", false, "only list the candidate routes")

	logFlags.register(rotationLogCmd.Flags())
	forceFlags.register(rotationForceCmd.Flags())
	rotationForceCmd.Flags().StringVar(&forceReason, "reason", "", "why the transaction is out of plan")
	rotationForceCmd.MarkFlagRequired("reason")
	rotationForceCmd.MarkFlagRequired("type")

	rotationCloseCmd.Flags().StringVar(&closeReason, "reason", "", "why the rotation is closed early")
	rotationCloseCmd.Flags().StringVar(&closeLesson, "lesson", "", "lesson learned")
	rotationCloseCmd.MarkFlagRequired("reason")
}

func runRotationPlan(cmd *cobra.Command, args []string) error {
	method, err := parseMethod(planMethod)
	if err != nil {
		return err
	}
	opts := briefing.PlanOptions{
		Choice:           planChoice,
		TopN:             planTop,
		Method:           method,
		SourcingCurrency: planSource,
		ExcludedMarkets:  splitList(planExclude),
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		svc := a.Briefing()

		st, err := svc.CurrentState(ctx)
		if err != nil {
			return err
		}
		if st.Active() {
			return fmt.Errorf("rotation %s is still in progress: next phase %s", st.RotationID, st.NextPhase.Description)
		}

		if planDryRun {
			routes, _, err := svc.Candidates(ctx, opts)
			if err != nil {
				return err
			}
			if len(routes) == 0 {
				fmt.Println("No route above the profitability threshold.")
				return nil
			}
			printRoutes(routes)
			return nil
		}

		fp, err := svc.PlanRotation(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Rotation %s planned: %s (%s)\n\n", fp.RotationID, fp.Description, money.Pct(fp.ProfitPct))
		printPlan(fp.Plan, 0)
		return nil
	})
}

func runRotationStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		st, err := a.Briefing().CurrentState(ctx)
		if err != nil {
			return err
		}
		if st.RotationID == "" {
			fmt.Println("No rotation yet. Run 'p2parb rotation plan'.")
			return nil
		}

		status := "in progress"
		if st.Finished {
			status = "finished"
		}
		fmt.Printf("Rotation %s: %s\n", st.RotationID, status)
		if st.Plan == nil {
			return nil
		}
		fmt.Printf("Route: %s\n", st.Plan.Description)
		fmt.Printf("Progress: %d/%d phases\n\n", st.Completed, st.Plan.Plan.Len())
		printPlan(st.Plan.Plan, st.Completed)

		if st.LastEntry != nil {
			e := st.LastEntry
			fmt.Printf("\nLast entry: %s %s %s on %s\n", e.Type, money.Format(e.AmountLocal, e.Currency), e.Market, e.Date.Format("2006-01-02 15:04"))
		}
		return nil
	})
}

func printLogResult(res *briefing.LogResult) {
	fmt.Printf("Logged %s for rotation %s (cycle %d)\n", res.Entry.Type, res.RotationID, res.Cycle)
	if res.Entry.Type != core.TxCloture {
		fmt.Printf("  %s at %g = %s\n", res.Entry.Market, res.Entry.PriceLocal, money.Format(res.Entry.AmountLocal, res.Entry.Currency))
	}
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	if res.Closed {
		fmt.Println("Rotation closed.")
	}
	if res.LoopCurrency != "" {
		fmt.Printf("Cycle closed on %s. Run 'p2parb rotation loop add' to plan another cycle.\n", res.LoopCurrency)
	}
}

func runRotationLog(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Briefing().LogPhase(ctx, logFlags.input())
		if err != nil {
			return err
		}
		printLogResult(res)
		return nil
	})
}

func runRotationForce(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Briefing().ForceTransaction(ctx, forceFlags.input(), forceReason)
		if err != nil {
			return err
		}
		printLogResult(res)
		return nil
	})
}

func runRotationClose(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Briefing().ForceClose(ctx, closeReason, closeLesson)
		if err != nil {
			return err
		}
		printLogResult(res)
		return nil
	})
}

func runRotationLoopSet(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		id, err := a.Briefing().SetLoopCurrency(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Loop currency of %s set to %s\n", id, strings.ToUpper(args[0]))
		return nil
	})
}

func runRotationLoopAdd(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		cycle, err := a.Briefing().AddLoopCycle(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cycle %d added to the flight plan\n", cycle)
		return nil
	})
}

func runRotationStats(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		stats, id, err := a.Briefing().Stats(ctx, id)
		if err != nil {
			return err
		}

		loop := stats.LoopCurrency
		if loop == "" {
			loop = "-"
		}
		w := newTable()
		fmt.Fprintf(w, "Rotation\t%s\n", id)
		fmt.Fprintf(w, "Created\t%s\n", stats.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "Current cycle\t%d\n", stats.CurrentCycle)
		fmt.Fprintf(w, "Cycles completed\t%d\n", stats.CyclesCompleted)
		fmt.Fprintf(w, "Loop currency\t%s\n", loop)
		fmt.Fprintf(w, "Forced transactions\t%d\n", stats.ForcedCount)
		return w.Flush()
	})
}
