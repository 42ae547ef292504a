package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"finbook.org/internal/audit"
	"finbook.org/internal/finance"
	"finbook.org/internal/obs"
)

type createAccountRequest struct {
	Name           string `json:"account_name"`
	Type           string `json:"account_type"`
	Currency       string `json:"currency"`
	OpeningBalance int64  `json:"opening_balance"`
}

type updateAccountRequest struct {
	Name     *string `json:"account_name"`
	Type     *string `json:"account_type"`
	Currency *string `json:"currency"`
	Status   *string `json:"status"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAccounts(w, r)
	case http.MethodPost:
		a.createAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/balance") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/balance"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "account not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAccountBalance(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAccount(w, r, path)
	case http.MethodPatch:
		a.updateAccount(w, r, path)
	case http.MethodDelete:
		a.closeAccount(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := a.svc.CreateAccount(r.Context(), finance.CreateAccountInput{
		Name:           req.Name,
		Type:           finance.AccountType(req.Type),
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "account.create", map[string]any{
		"account_id":      acc.ID,
		"account_type":    string(acc.Type),
		"opening_balance": strconv.FormatInt(acc.OpeningBalance, 10),
	})

	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	accounts, total, err := a.svc.ListAccounts(r.Context(), page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []finance.Account{}
	}
	writeList(w, accounts, page, total)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	acc, err := a.svc.GetAccount(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request, id string) {
	var req updateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := finance.UpdateAccountInput{
		Name:     req.Name,
		Currency: req.Currency,
	}
	if req.Type != nil {
		t := finance.AccountType(*req.Type)
		in.Type = &t
	}
	if req.Status != nil {
		s := finance.AccountStatus(*req.Status)
		in.Status = &s
	}

	acc, err := a.svc.UpdateAccount(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.update", map[string]any{"account_id": id})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) closeAccount(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.svc.CloseAccount(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.close", map[string]any{"account_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// getAccountBalance returns the replayed statement for an account. An
// optional as_of query bound limits the replay window.
func (a *API) getAccountBalance(w http.ResponseWriter, r *http.Request, id string) {
	asOf := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("as_of")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			t, err = time.Parse("2006-01-02", raw)
		}
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "as_of must be RFC3339 or YYYY-MM-DD")
			return
		}
		asOf = t
	}

	st, err := a.svc.AccountStatement(r.Context(), id, asOf)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	result := "clean"
	if st.Drift != 0 {
		result = "drift"
	}
	obs.CountDriftCheck(result)

	writeJSON(w, http.StatusOK, st)
}
