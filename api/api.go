// Package api is the read-only HTTP reporting interface over the engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rustyeddy/cfdledger/engine"
	"github.com/rustyeddy/cfdledger/internal/logger"
	"github.com/rustyeddy/cfdledger/metrics"
)

// Ledger is the read side of the engine the API serves.
type Ledger interface {
	Accounts() []string
	Snapshot(accountID string) (engine.Account, error)
	Positions(accountID string) ([]engine.Position, error)
	Orders(accountID string) ([]engine.Order, error)
	Transactions(accountID string, from, to time.Time) ([]engine.Transaction, error)
	Alerts(accountID string) ([]engine.Alert, error)
	Statistics(accountID string, from, to time.Time) (engine.Stats, error)
	Risk(accountID string) (engine.RiskReport, error)
}

type Deps struct {
	Ledger  Ledger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrConsistency):
		status = http.StatusConflict
	}
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	h := &handler{ledger: d.Ledger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.listAccounts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.account)
			r.Get("/positions", h.positions)
			r.Get("/orders", h.orders)
			r.Get("/transactions", h.transactions)
			r.Get("/alerts", h.alerts)
			r.Get("/stats", h.stats)
			r.Get("/risk", h.risk)
		})
	})
	return r
}

func requestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "dur", time.Since(start))
		})
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
