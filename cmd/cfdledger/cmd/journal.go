package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/cfdledger/engine"
	"github.com/rustyeddy/cfdledger/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the transaction journal",
	Long: `Query and audit journal records from the SQLite database.

Subcommands:
  accounts  - List journaled accounts
  tx        - Show one transaction and its corrections
  list      - List an account's transactions, optionally in a time range
  day       - List an account's transactions on a specific day
  alerts    - List an account's alerts
  replay    - Fold an account's log into cash totals

Examples:
  cfdledger journal tx <transaction-id>
  cfdledger journal list ACC-001 --from 2026-03-01T00:00:00Z
  cfdledger journal day ACC-001 2026-03-02
  cfdledger journal replay ACC-001 --csv transactions.csv`,
}

var journalAccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List journaled accounts",
	Args:  cobra.NoArgs,
	RunE:  runJournalAccounts,
}

var journalTxCmd = &cobra.Command{
	Use:   "tx <transaction-id>",
	Short: "Show one transaction and its corrections",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTx,
}

var journalListCmd = &cobra.Command{
	Use:   "list <account>",
	Short: "List an account's transactions",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalList,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <account> <YYYY-MM-DD>",
	Short: "List an account's transactions on a specific day",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalDay,
}

var journalAlertsCmd = &cobra.Command{
	Use:   "alerts <account>",
	Short: "List an account's alerts",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalAlerts,
}

var journalReplayCmd = &cobra.Command{
	Use:   "replay <account>",
	Short: "Fold an account's journaled log into cash totals",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalReplay,
}

var (
	journalDBPath string
	journalFrom   string
	journalTo     string
	journalCSV    string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalAccountsCmd)
	journalCmd.AddCommand(journalTxCmd)
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalAlertsCmd)
	journalCmd.AddCommand(journalReplayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default journal.db_path from config)")
	journalListCmd.Flags().StringVar(&journalFrom, "from", "", "RFC3339 start (inclusive)")
	journalListCmd.Flags().StringVar(&journalTo, "to", "", "RFC3339 end (exclusive)")
	journalReplayCmd.Flags().StringVar(&journalCSV, "csv", "", "read the log from a transactions CSV instead of the DB")
}

func openJournalDB() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Journal.DBPath
	}
	if path == "" {
		path = "./cfdledger.sqlite"
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalAccounts(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	ids, err := j.Accounts()
	if err != nil {
		return fmt.Errorf("query accounts: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, "\n"))
	return nil
}

func runJournalTx(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	tx, err := j.GetTransaction(args[0])
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	corrections, err := j.ListCorrections(tx.ID)
	if err != nil {
		return fmt.Errorf("query corrections: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, journal.FormatTransactionOrg(tx))
	if len(corrections) > 0 {
		fmt.Fprintln(out)
		fmt.Fprint(out, journal.FormatTransactionsOrg(corrections))
	}
	return nil
}

func runJournalList(cmd *cobra.Command, args []string) error {
	from, err := parseTime("from", journalFrom)
	if err != nil {
		return err
	}
	to, err := parseTime("to", journalTo)
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return fmt.Errorf("--from must be before --to")
	}

	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	var txs []engine.Transaction
	if from.IsZero() && to.IsZero() {
		txs, err = j.ListTransactions(args[0])
	} else {
		if to.IsZero() {
			to = time.Now().Add(time.Hour)
		}
		txs, err = j.ListTransactionsBetween(args[0], from, to)
	}
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), journal.FormatTransactionsOrg(txs))
	return nil
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	start, end, err := dayBounds(time.Local, args[1])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	txs, err := j.ListTransactionsBetween(args[0], start, end)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), journal.FormatTransactionsOrg(txs))
	return nil
}

func runJournalAlerts(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	alerts, err := j.ListAlerts(args[0])
	if err != nil {
		return fmt.Errorf("query alerts: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, al := range alerts {
		fmt.Fprint(out, journal.FormatAlertOrg(al))
	}
	return nil
}

func runJournalReplay(cmd *cobra.Command, args []string) error {
	var txs []engine.Transaction
	if journalCSV != "" {
		f, err := os.Open(journalCSV)
		if err != nil {
			return fmt.Errorf("open csv: %w", err)
		}
		defer f.Close()
		txs, err = journal.ReadTransactionsCSV(f)
		if err != nil {
			return fmt.Errorf("read csv: %w", err)
		}
	} else {
		j, err := openJournalDB()
		if err != nil {
			return err
		}
		defer j.Close()
		txs, err = j.ListTransactions(args[0])
		if err != nil {
			return fmt.Errorf("query transactions: %w", err)
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), journal.FormatTotalsOrg(journal.Summarize(args[0], txs)))
	return nil
}

func parseTime(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad --%s: %w", flag, err)
		}
	}
	return t, nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)
	return start, end, nil
}
