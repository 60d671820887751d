// Command ledgerctl runs ledger maintenance operations against the database.
//
// Commands:
//
//	distribute [-date YYYY-MM-DD] [-force]   Run the daily ROI and commission distribution
//	trace -user <id>                          Replay one user's ledger and report the first divergence
//	check                                     Compare every stored balance with its transaction totals
//	duplicates                                List users holding duplicated ACTIVE investments
//	cancel-duplicates [-dry-run]              Cancel duplicates, keeping the earliest of each group
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"newroi/ledger-service/internal/config"
	"newroi/ledger-service/internal/notify"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/internal/service"
	"newroi/ledger-service/pkg/db"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
)

var errUsage = errors.New("usage")

type app struct {
	distribution   service.DistributionService
	reconciliation service.ReconciliationService
	remediation    service.RemediationService
	out            io.Writer
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	switch os.Args[1] {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	}

	config.LoadEnvFiles()
	log := logger.NewLogger("ledgerctl")
	log.Logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	database, err := db.NewConnection(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var notifier notify.Notifier = notify.Nop{}
	if redisClient, err := db.NewRedisClient(ctx, cfg.Redis); err != nil {
		log.WithError(err).Warn("Redis unavailable, distribution events will not be published")
	} else {
		defer redisClient.Close()
		notifier = notify.NewRedisPublisher(redisClient)
	}

	store := repository.NewStore(database.DB)
	ledger := service.NewLedgerService(store, log)
	settings := service.NewSettingsService(store, log)

	a := &app{
		distribution:   service.NewDistributionService(store, ledger, settings, notifier, nil, log, cfg.Distribution.Location),
		reconciliation: service.NewReconciliationService(store, log),
		remediation:    service.NewRemediationService(store, log),
		out:            os.Stdout,
	}

	err = a.run(ctx, os.Args[1:])
	if errors.Is(err, errUsage) {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", service.Reason(err))
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ledgerctl <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  distribute [-date YYYY-MM-DD] [-force]   Run the daily distribution")
	fmt.Fprintln(w, "  trace -user <id> [-steps]                 Trace one user's balance")
	fmt.Fprintln(w, "  check                                     Check every user's balance")
	fmt.Fprintln(w, "  duplicates                                List duplicated ACTIVE investments")
	fmt.Fprintln(w, "  cancel-duplicates [-dry-run]              Cancel duplicates, keeping the earliest")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts -json to print the raw result.")
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "distribute":
		return a.distribute(ctx, rest)
	case "trace":
		return a.trace(ctx, rest)
	case "check":
		return a.check(ctx, rest)
	case "duplicates":
		return a.duplicates(ctx, rest)
	case "cancel-duplicates":
		return a.cancelDuplicates(ctx, rest)
	default:
		fmt.Fprintf(a.out, "Unknown command: %s\n", cmd)
		return errUsage
	}
}

func newFlagSet(name string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asJSON := fs.Bool("json", false, "print the raw result as JSON")
	return fs, asJSON
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) distribute(ctx context.Context, args []string) error {
	fs, asJSON := newFlagSet("distribute")
	date := fs.String("date", "", "calendar date to distribute for (default today)")
	force := fs.Bool("force", false, "re-credit investments already processed for the date")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	req := service.RunRequest{ForceRerun: *force, IsManual: true}
	if *date != "" {
		d, err := time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("invalid -date %q: %w", *date, err)
		}
		req.Date = d
	}

	summary, err := a.distribution.Run(ctx, req)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(summary)
	}

	fmt.Fprintf(a.out, "Run %s for %s\n", summary.RunID, summary.Date)
	fmt.Fprintf(a.out, "  considered: %d  credited: %d  skipped: %d  missed: %d  failed: %d  completed: %d\n",
		summary.Considered, summary.Credited, summary.Skipped, summary.Missed, summary.Failed, summary.Completed)
	fmt.Fprintf(a.out, "  ROI: %s  commissions: %s (%d paid, %d missed)  missed total: %s\n",
		helpers.FormatMoney(summary.TotalROI), helpers.FormatMoney(summary.TotalCommission),
		summary.CommissionsPaid, summary.CommissionsMissed, helpers.FormatMoney(summary.TotalMissed))
	for _, f := range summary.Failures {
		fmt.Fprintf(a.out, "  FAILED investment #%d (user #%d): %s\n", f.InvestmentID, f.UserID, f.Error)
	}
	if summary.Stopped {
		fmt.Fprintln(a.out, "  Run stopped before every investment was processed; rerun to finish.")
	}
	return nil
}

func (a *app) trace(ctx context.Context, args []string) error {
	fs, asJSON := newFlagSet("trace")
	userID := fs.Uint64("user", 0, "user id")
	steps := fs.Bool("steps", false, "print every replayed transaction")
	if err := fs.Parse(args); err != nil || *userID == 0 {
		return errUsage
	}

	trace, err := a.reconciliation.TraceBalance(ctx, *userID)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(trace)
	}

	fmt.Fprintf(a.out, "User #%d  stored: %s  computed: %s  difference: %s\n",
		trace.UserID, trace.StoredBalance.String(), trace.ComputedBalance.String(), trace.Difference.String())
	if *steps {
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TX\tTYPE\tAMOUNT\tRECORDED\tREPLAYED\tOK")
		for _, s := range trace.Steps {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n",
				s.TransactionID, s.Type, s.Amount.String(), s.RecordedNew.String(), s.ReplayedNew.String(), s.Matches)
		}
		tw.Flush()
	}
	if trace.Consistent {
		fmt.Fprintln(a.out, "Ledger is consistent.")
		return nil
	}
	if d := trace.FirstDivergence; d != nil {
		fmt.Fprintf(a.out, "First divergence at transaction #%d: %s\n", d.Transaction.ID, d.Explanation)
	}
	return nil
}

func (a *app) check(ctx context.Context, args []string) error {
	fs, asJSON := newFlagSet("check")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	report, err := a.reconciliation.CheckAllBalances(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(report)
	}

	if len(report.Errors) > 0 {
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tEMAIL\tSTORED\tEXPECTED\tGAP")
		for _, c := range report.Errors {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", c.UserID, c.Email, c.Stored.String(), c.Expected.String(), c.Gap.String())
		}
		tw.Flush()
	}
	fmt.Fprintf(a.out, "Checked %d users: %d passed, %d failed (%.2f%% success)\n",
		report.Checked, report.Passed, report.Failed, report.SuccessRate)
	return nil
}

func (a *app) duplicates(ctx context.Context, args []string) error {
	fs, asJSON := newFlagSet("duplicates")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	users, err := a.remediation.FindDuplicateActiveInvestments(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(users)
	}

	if len(users) == 0 {
		fmt.Fprintln(a.out, "No user holds more than one ACTIVE investment.")
		return nil
	}
	for _, u := range users {
		fmt.Fprintf(a.out, "User #%d: %d active investments\n", u.UserID, u.ActiveCount)
		for _, g := range u.DuplicateGroups() {
			fmt.Fprintf(a.out, "  %s x%d:", helpers.FormatMoney(g.Amount), len(g.Investments))
			for _, inv := range g.Investments {
				fmt.Fprintf(a.out, " #%d", inv.ID)
			}
			fmt.Fprintln(a.out)
		}
	}
	return nil
}

func (a *app) cancelDuplicates(ctx context.Context, args []string) error {
	fs, asJSON := newFlagSet("cancel-duplicates")
	dryRun := fs.Bool("dry-run", false, "report what would be cancelled without writing")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	report, err := a.remediation.CancelDuplicates(ctx, service.PolicyKeepEarliest, *dryRun)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(report)
	}

	verb := "Cancelled"
	if report.DryRun {
		verb = "Would cancel"
	}
	fmt.Fprintf(a.out, "%s %d investments across %d users (kept %d): %v\n",
		verb, len(report.Cancelled), report.UsersAffected, len(report.Kept), report.Cancelled)
	return nil
}
