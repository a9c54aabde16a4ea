package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/cfdledger/journal"
	"github.com/rustyeddy/cfdledger/scenario"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Play a scenario script through the engine",
	Long: `Run a scenario: open accounts, seed prices and play each step
(submit, execute, cancel, prices, close, correct, correct_order, backfill,
adjust, recalculate, evaluate) against a fresh engine.

Accounts from the config are opened unless the scenario lists its own.
Transactions, snapshots and alerts go to the configured journal.

Example:
  cfdledger run -c ledger.yaml examples/scenarios/round_trip.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runJSON bool

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	l, err := newLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close(context.Background())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if len(sc.Accounts) == 0 {
		if err := l.openAccounts(ctx); err != nil {
			return err
		}
	}

	res, runErr := scenario.NewRunner(l.engine, l.log).Run(ctx, sc)
	if res != nil {
		out := cmd.OutOrStdout()
		if runJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			printResult(out, res)
		}
	}
	if runErr != nil {
		return fmt.Errorf("scenario %q: %w", sc.Name, runErr)
	}
	return nil
}

func printResult(w io.Writer, res *scenario.Result) {
	fmt.Fprintf(w, "Scenario: %s (%d steps)\n", res.Name, len(res.Steps))
	for _, s := range res.Steps {
		if s.Error != "" {
			fmt.Fprintf(w, "  %3d %-14s rejected: %s\n", s.Step, s.Action, s.Error)
			continue
		}
		fmt.Fprintf(w, "  %3d %-14s %s\n", s.Step, s.Action, s.ID)
	}

	fmt.Fprintln(w, "\nFinal Results:")
	for _, a := range res.Accounts {
		fmt.Fprintf(w, "  %s (%s)\n", a.ID, a.Currency)
		fmt.Fprintf(w, "    Balance:      %12.2f\n", a.Balance)
		fmt.Fprintf(w, "    Equity:       %12.2f\n", a.Equity)
		fmt.Fprintf(w, "    Margin Used:  %12.2f\n", a.MarginUsed)
		fmt.Fprintf(w, "    Free Margin:  %12.2f\n", a.FreeMargin)
		if r, ok := a.FiniteMarginRatio(); ok {
			fmt.Fprintf(w, "    Margin Ratio: %12.4f\n", r)
		}
		fmt.Fprintf(w, "    Trades:       %d (%d won, %d lost)\n", a.TotalTrades, a.WinningTrades, a.LosingTrades)
	}

	if len(res.Alerts) > 0 {
		fmt.Fprintln(w, "\nAlerts:")
		for _, al := range res.Alerts {
			fmt.Fprint(w, journal.FormatAlertOrg(al))
		}
	}
}
