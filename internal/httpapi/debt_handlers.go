package httpapi

import (
	"net/http"
	"strings"
	"time"

	"finbook.org/internal/audit"
	"finbook.org/internal/finance"
)

type createDebtRequest struct {
	CreditorPersonID string `json:"creditor_person_id"`
	DebtorAccountID  string `json:"debtor_account_id"`
	Amount           int64  `json:"amount"`
	CycleTag         string `json:"cycle_tag"`
	Reason           string `json:"reason"`
	DueDate          string `json:"due_date"`
}

type updateDebtRequest struct {
	Repayment *int64  `json:"repayment"`
	Discount  *int64  `json:"debt_discount"`
	Status    *string `json:"status"`
}

func (a *API) handleDebtCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listDebts(w, r)
	case http.MethodPost:
		a.createDebt(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDebtResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/debt/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/movements") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/movements"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "debt ledger not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listDebtMovements(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getDebt(w, r, path)
	case http.MethodPatch:
		a.updateDebt(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) createDebt(w http.ResponseWriter, r *http.Request) {
	var req createDebtRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := finance.CreateDebtInput{
		CreditorPersonID: req.CreditorPersonID,
		DebtorAccountID:  req.DebtorAccountID,
		Amount:           req.Amount,
		CycleTag:         req.CycleTag,
		Reason:           req.Reason,
	}
	if raw := strings.TrimSpace(req.DueDate); raw != "" {
		t, ok := parseTxDate(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "due_date must be RFC3339 or YYYY-MM-DD")
			return
		}
		in.DueDate = &t
	}

	l, err := a.svc.CreateDebt(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "debt.create", map[string]any{
		"debt_ledger_id": l.ID,
		"person_id":      l.CreditorPersonID,
	})
	w.Header().Set("Location", "/v1/debt/"+l.ID)
	writeJSON(w, http.StatusCreated, l)
}

func (a *API) listDebts(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	f := finance.DebtFilter{
		AccountID: strings.TrimSpace(q.Get("account_id")),
		PersonID:  strings.TrimSpace(q.Get("person_id")),
		Status:    finance.DebtStatus(strings.TrimSpace(q.Get("status"))),
		Page:      page,
	}

	debts, total, err := a.svc.ListDebts(r.Context(), f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if debts == nil {
		debts = []finance.DebtLedger{}
	}
	writeList(w, debts, page, total)
}

func (a *API) getDebt(w http.ResponseWriter, r *http.Request, id string) {
	l, err := a.svc.GetDebt(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) updateDebt(w http.ResponseWriter, r *http.Request, id string) {
	var req updateDebtRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Repayment == nil && req.Discount == nil && req.Status == nil {
		writeError(w, r, http.StatusBadRequest, "no fields to update")
		return
	}

	in := finance.UpdateDebtInput{
		Repayment: req.Repayment,
		Discount:  req.Discount,
	}
	if req.Status != nil {
		s := finance.DebtStatus(*req.Status)
		in.Status = &s
	}

	l, err := a.svc.UpdateDebt(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "debt.update", map[string]any{
		"debt_ledger_id": id,
		"status":         string(l.Status),
		"net_debt":       l.NetDebt,
	})
	writeJSON(w, http.StatusOK, l)
}

func (a *API) listDebtMovements(w http.ResponseWriter, r *http.Request, id string) {
	movements, err := a.svc.ListDebtMovements(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if movements == nil {
		movements = []finance.DebtMovement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  movements,
		"as_of": time.Now().UTC(),
	})
}
