package httpapi

import (
	"net/http"
	"strings"
	"time"

	"finbook.org/internal/audit"
	"finbook.org/internal/finance"
	"finbook.org/internal/obs"
)

type createCashbackRequest struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Type          string `json:"cashback_type"`
	Value         string `json:"cashback_value"`
	Base          int64  `json:"base_amount"`
	BudgetCap     int64  `json:"budget_cap"`
	CycleTag      string `json:"cycle_tag"`
	Note          string `json:"note"`
}

func (a *API) handleCashbackCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listCashback(w, r)
	case http.MethodPost:
		a.createCashback(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCashbackResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/cashback/")
	if !strings.HasSuffix(path, "/apply") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := strings.TrimSuffix(strings.TrimSuffix(path, "/apply"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "cashback movement not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.applyCashback(w, r, id)
}

func (a *API) createCashback(w http.ResponseWriter, r *http.Request) {
	var req createCashbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cb, err := a.svc.CreateCashback(r.Context(), finance.CreateCashbackInput{
		AccountID:     req.AccountID,
		TransactionID: req.TransactionID,
		Type:          finance.CashbackType(req.Type),
		Value:         req.Value,
		Base:          req.Base,
		BudgetCap:     req.BudgetCap,
		CycleTag:      req.CycleTag,
		Note:          req.Note,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "cashback.create", map[string]any{
		"cashback_movement_id": cb.ID,
		"account_id":           cb.AccountID,
		"amount":               cb.Amount,
	})
	w.Header().Set("Location", "/v1/cashback/"+cb.ID)
	writeJSON(w, http.StatusCreated, cb)
}

func (a *API) listCashback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := finance.CashbackFilter{
		AccountID: strings.TrimSpace(q.Get("account_id")),
		CycleTag:  strings.TrimSpace(q.Get("cycle_tag")),
	}

	movements, summary, err := a.svc.ListCashback(r.Context(), f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if movements == nil {
		movements = []finance.CashbackMovement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    movements,
		"summary": summary,
	})
}

func (a *API) applyCashback(w http.ResponseWriter, r *http.Request, id string) {
	cb, err := a.svc.ApplyCashback(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.CountTransaction(string(finance.TxCashback))
	if a.stream != nil {
		a.publish("cashback_apply", finance.Transaction{
			ID:        cb.TransactionID,
			AccountID: cb.AccountID,
			Type:      finance.TxCashback,
			Amount:    cb.Amount,
		})
	}
	_ = audit.LogEvent(r.Context(), "cashback.apply", map[string]any{
		"cashback_movement_id": id,
		"status":               string(cb.Status),
		"amount":               cb.Amount,
		"applied_at":           time.Now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, cb)
}
