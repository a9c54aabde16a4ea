package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rustyeddy/cfdledger/engine"
)

type handler struct {
	ledger Ledger
}

// accountView adds the margin ratio, omitted while it is undefined.
type accountView struct {
	engine.Account
	MarginRatio *float64 `json:"marginRatio,omitempty"`
}

func viewOf(a engine.Account) accountView {
	v := accountView{Account: a}
	if r, ok := a.FiniteMarginRatio(); ok {
		v.MarginRatio = &r
	}
	return v
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	ids := h.ledger.Accounts()
	out := make([]accountView, 0, len(ids))
	for _, id := range ids {
		a, err := h.ledger.Snapshot(id)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, viewOf(a))
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *handler) account(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(a))
}

func (h *handler) positions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.ledger.Positions(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if ps == nil {
		ps = []engine.Position{}
	}
	WriteJSON(w, http.StatusOK, ps)
}

func (h *handler) orders(w http.ResponseWriter, r *http.Request) {
	list, err := h.ledger.Orders(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *handler) transactions(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	txs, err := h.ledger.Transactions(chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, txs)
}

func (h *handler) alerts(w http.ResponseWriter, r *http.Request) {
	as, err := h.ledger.Alerts(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if as == nil {
		as = []engine.Alert{}
	}
	WriteJSON(w, http.StatusOK, as)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := h.ledger.Statistics(chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

func (h *handler) risk(w http.ResponseWriter, r *http.Request) {
	rep, err := h.ledger.Risk(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

// timeRange reads the optional RFC3339 from and to query parameters.
func timeRange(r *http.Request) (from, to time.Time, err error) {
	parse := func(name string) (time.Time, error) {
		s := r.URL.Query().Get(name)
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, &engine.ValidationError{Field: name, Reason: fmt.Sprintf("%q is not an RFC3339 time", s)}
		}
		return t, nil
	}
	if from, err = parse("from"); err != nil {
		return
	}
	if to, err = parse("to"); err != nil {
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		err = &engine.ValidationError{Field: "to", Reason: "range ends before it starts"}
	}
	return
}
