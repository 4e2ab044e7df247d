package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/warp/stay-engine/closeout"
	"github.com/warp/stay-engine/config"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/report"
	"github.com/warp/stay-engine/store/sqlite"
)

// app is what every subcommand needs once the root has loaded config.
type app struct {
	cfg     *config.Config
	store   *sqlite.Store
	redis   *redis.Client
	reports *report.Service
	logger  *slog.Logger
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var dbPath string

	root := &cobra.Command{
		Use:           "stayctl",
		Short:         "Stay engine operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			a.cfg = cfg
			a.logger = config.NewLogger(cfg, cmd.ErrOrStderr())

			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
			}
			a.store = store

			// Share the server's report cache so a close here invalidates it.
			var cache *report.Cache
			if cfg.RedisAddr != "" {
				a.redis = redis.NewClient(&redis.Options{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				})
				cache = report.NewCache(a.redis, cfg.ReportTTL)
				cache.Logger = a.logger
			}
			a.reports = report.NewService(store, store, cache, a.logger)
			a.reports.FixedCostPerStay = cfg.FixedCostPerStay
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides STAY_DB_PATH)")

	root.AddCommand(contractsCmd(a), reportCmd(a))
	return root
}

// =============================================================================
// CONTRACTS
// =============================================================================

func contractsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "List and close out contracts",
	}
	cmd.AddCommand(contractsListCmd(a), closeoutCmd(a, false), closeoutCmd(a, true))
	return cmd
}

func contractsListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts, newest start first",
		RunE: func(cmd *cobra.Command, args []string) error {
			contracts, err := a.store.ListContracts(cmd.Context())
			if err != nil {
				return err
			}
			today := generic.Today()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tUNIT\tSTART\tEND\tNIGHTS\tTOTAL\tDEPOSIT\tSTATUS")
			for _, c := range contracts {
				state := contractStatus(c, today)
				if status != "" && state != status {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					c.Code, c.UnitID, c.StartDate, c.PlannedEndDate,
					c.TotalNights, c.TotalPrice, c.Deposit, state)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show open, overdue or closed contracts")
	return cmd
}

func contractStatus(c rental.Contract, today generic.Date) string {
	switch {
	case c.IsClosed:
		return "closed"
	case c.IsOverdue(today):
		return "overdue"
	default:
		return "open"
	}
}

// closeoutCmd builds "preview" or, with commit set, "close".
func closeoutCmd(a *app, commit bool) *cobra.Command {
	var (
		early     bool
		initiator string
		manual    int64
		end       string
		reason    string
	)

	use, short := "preview CODE", "Compute a settlement without saving it"
	if commit {
		use, short = "close CODE", "Compute and commit a settlement"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := rental.CloseoutDecision{
				EarlyCheckout: early,
				Initiator:     rental.Initiator(initiator),
				Reason:        reason,
			}
			if cmd.Flags().Changed("manual-refund") {
				d.ManualRefund = &manual
			}
			if end != "" {
				e, err := generic.ParseDate(end)
				if err != nil {
					return err
				}
				d.ActualEnd = &e
			}
			if err := d.Validate(); err != nil {
				return err
			}

			svc := closeout.NewService(a.store, a.logger)
			if !commit {
				out, err := svc.Preview(cmd.Context(), args[0], d)
				if err != nil {
					return err
				}
				return printOutcome(cmd.OutOrStdout(), args[0], out, false)
			}
			_, out, err := svc.Close(cmd.Context(), args[0], d)
			if err != nil {
				return err
			}
			a.reports.Invalidate(cmd.Context())
			return printOutcome(cmd.OutOrStdout(), args[0], out, true)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&early, "early", false, "Early checkout")
	f.StringVar(&initiator, "initiator", "", "Who ended the lease early: tenant or landlord")
	f.Int64Var(&manual, "manual-refund", 0, "Refund set by hand (landlord early checkout only)")
	f.StringVar(&end, "end", "", "Actual end date YYYY-MM-DD (default: planned end, or today when early)")
	f.StringVar(&reason, "reason", "", "Early checkout reason")
	return cmd
}

func printOutcome(w io.Writer, code string, out closeout.Outcome, committed bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	r := out.Result
	fmt.Fprintf(tw, "contract\t%s\n", code)
	fmt.Fprintf(tw, "case\t%s\n", r.Case)
	fmt.Fprintf(tw, "actual end\t%s\n", out.ActualEnd)
	fmt.Fprintf(tw, "lived nights\t%d\n", r.LivedNights)
	fmt.Fprintf(tw, "unused nights\t%d\n", r.UnusedNights)
	fmt.Fprintf(tw, "used amount\t%d\n", r.UsedAmount)
	fmt.Fprintf(tw, "unused amount\t%d\n", r.UnusedAmount)
	fmt.Fprintf(tw, "penalties\t%d\n", r.PenaltiesTotal)
	fmt.Fprintf(tw, "refund\t%d\n", r.RefundAmount)
	fmt.Fprintf(tw, "extra due\t%d\n", r.ExtraDueAmount)
	if committed {
		fmt.Fprintln(tw, "status\tclosed")
	} else {
		fmt.Fprintln(tw, "status\tpreview (not saved)")
	}
	return tw.Flush()
}

// =============================================================================
// REPORTS
// =============================================================================

func reportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export xlsx reports",
	}

	var asOf string
	finance := &cobra.Command{
		Use:   "finance",
		Short: "Monthly revenue allocation, one sheet per month",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := generic.Today()
			if asOf != "" {
				var err error
				if d, err = generic.ParseDate(asOf); err != nil {
					return err
				}
			}
			rep, err := a.reports.Finance(cmd.Context(), d)
			if err != nil {
				return err
			}
			return writeOut(cmd, func(w io.Writer) error { return report.WriteFinanceWorkbook(w, rep) })
		},
	}
	finance.Flags().StringVar(&asOf, "as-of", "", "Reference date YYYY-MM-DD (default today)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Summary and contract list",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, contracts, err := a.reports.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeOut(cmd, func(w io.Writer) error { return report.WriteStatsWorkbook(w, summary, contracts) })
		},
	}

	expenses := &cobra.Command{
		Use:   "expenses",
		Short: "Expenses grouped by month",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.reports.ExpenseList(cmd.Context())
			if err != nil {
				return err
			}
			return writeOut(cmd, func(w io.Writer) error { return report.WriteExpensesWorkbook(w, list) })
		},
	}

	for _, c := range []*cobra.Command{finance, stats, expenses} {
		c.Flags().StringP("out", "o", "", "Output file (required)")
		_ = c.MarkFlagRequired("out")
		cmd.AddCommand(c)
	}
	return cmd
}

func writeOut(cmd *cobra.Command, render func(io.Writer) error) error {
	path, _ := cmd.Flags().GetString("out")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
