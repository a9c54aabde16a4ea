package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/cfdledger/api"
	"github.com/rustyeddy/cfdledger/scenario"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve account and risk reports over HTTP",
	Long: `Open the configured accounts and serve the read-only reporting API
(accounts, positions, orders, transactions, alerts, stats, risk) plus
/healthz and /metrics.

A scenario can be played first to seed the books.

Example:
  cfdledger serve -c ledger.yaml --listen :8080 --seed examples/scenarios/round_trip.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen string
	serveSeed   string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default api.listen from config)")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "", "scenario to play before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.API.Listen = serveListen
	}

	l, err := newLedger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Close(ctx); err != nil {
			l.log.Error("shutdown", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := l.openAccounts(ctx); err != nil {
		return err
	}
	if serveSeed != "" {
		sc, err := scenario.Load(serveSeed)
		if err != nil {
			return err
		}
		if _, err := scenario.NewRunner(l.engine, l.log).Run(ctx, sc); err != nil {
			return fmt.Errorf("seed %q: %w", serveSeed, err)
		}
		// hand the clock back to wall time once seeding is done
		l.engine.SetClock(time.Now)
	}

	handler := api.NewRouter(api.Deps{Ledger: l.engine, Metrics: l.metrics, Logger: l.log})
	l.log.Info("serving", "addr", cfg.API.Listen, "accounts", len(l.engine.Accounts()))

	if err := api.Serve(ctx, cfg.API.Listen, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
