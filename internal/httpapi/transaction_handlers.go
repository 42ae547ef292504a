package httpapi

import (
	"net/http"
	"strings"
	"time"

	"finbook.org/internal/audit"
	"finbook.org/internal/finance"
	"finbook.org/internal/obs"
	"finbook.org/internal/stream"
)

type createTransactionRequest struct {
	AccountID  string `json:"account_id"`
	PersonID   string `json:"person_id"`
	Type       string `json:"type"`
	Amount     int64  `json:"amount"`
	Fee        int64  `json:"fee"`
	Category   string `json:"category"`
	Notes      string `json:"description"`
	Status     string `json:"status"`
	OccurredOn string `json:"transaction_date"`
}

type updateTransactionRequest struct {
	Type     *string `json:"type"`
	Amount   *int64  `json:"amount"`
	Fee      *int64  `json:"fee"`
	Category *string `json:"category"`
	Notes    *string `json:"description"`
	Status   *string `json:"status"`
}

type transactionDetailResponse struct {
	Transaction finance.Transaction    `json:"transaction"`
	History     []finance.HistoryEntry `json:"history"`
}

func (a *API) handleTransactionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTransactions(w, r)
	case http.MethodPost:
		a.createTransaction(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTransactionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getTransaction(w, r, id)
	case http.MethodPatch:
		a.updateTransaction(w, r, id)
	case http.MethodDelete:
		a.voidTransaction(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func parseTxDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	occurred, ok := parseTxDate(req.OccurredOn)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "transaction_date must be RFC3339 or YYYY-MM-DD")
		return
	}

	tx, err := a.svc.CreateTransaction(r.Context(), finance.CreateTransactionInput{
		AccountID:  req.AccountID,
		PersonID:   req.PersonID,
		Type:       finance.TxType(req.Type),
		Amount:     req.Amount,
		Fee:        req.Fee,
		Category:   req.Category,
		Notes:      req.Notes,
		Status:     finance.TxStatus(req.Status),
		OccurredOn: occurred,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.CountTransaction(string(tx.Type))
	a.publish("create", tx)
	_ = audit.LogEvent(r.Context(), "transaction.create", map[string]any{
		"transaction_id": tx.ID,
		"account_id":     tx.AccountID,
		"type":           string(tx.Type),
	})

	w.Header().Set("Location", "/v1/transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	f := finance.TransactionFilter{
		AccountID: strings.TrimSpace(q.Get("account_id")),
		PersonID:  strings.TrimSpace(q.Get("person_id")),
		Type:      finance.TxType(strings.TrimSpace(q.Get("type"))),
		Status:    finance.TxStatus(strings.TrimSpace(q.Get("status"))),
		Category:  strings.TrimSpace(q.Get("category")),
		Page:      page,
	}
	if raw := q.Get("date_from"); raw != "" {
		t, ok := parseTxDate(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "date_from must be RFC3339 or YYYY-MM-DD")
			return
		}
		f.DateFrom = &t
	}
	if raw := q.Get("date_to"); raw != "" {
		t, ok := parseTxDate(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "date_to must be RFC3339 or YYYY-MM-DD")
			return
		}
		f.DateTo = &t
	}

	txs, total, err := a.svc.ListTransactions(r.Context(), f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []finance.Transaction{}
	}
	writeList(w, txs, page, total)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request, id string) {
	tx, history, err := a.svc.GetTransaction(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []finance.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, transactionDetailResponse{Transaction: tx, History: history})
}

func (a *API) updateTransaction(w http.ResponseWriter, r *http.Request, id string) {
	var req updateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := finance.UpdateTransactionInput{
		Amount:   req.Amount,
		Fee:      req.Fee,
		Category: req.Category,
		Notes:    req.Notes,
	}
	if req.Type != nil {
		t := finance.TxType(*req.Type)
		in.Type = &t
	}
	if req.Status != nil {
		s := finance.TxStatus(*req.Status)
		in.Status = &s
	}
	if in.Empty() {
		writeError(w, r, http.StatusBadRequest, "no fields to update")
		return
	}

	tx, err := a.svc.UpdateTransaction(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	kind := "update"
	if tx.Status == finance.TxVoid {
		kind = "void"
	}
	a.publish(kind, tx)
	_ = audit.LogEvent(r.Context(), "transaction.update", map[string]any{
		"transaction_id": id,
		"status":         string(tx.Status),
	})
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) voidTransaction(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.svc.VoidTransaction(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.publish("void", finance.Transaction{ID: id})
	_ = audit.LogEvent(r.Context(), "transaction.void", map[string]any{"transaction_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) publish(kind string, tx finance.Transaction) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.Event{
		Kind:          kind,
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Timestamp:     time.Now().UTC(),
	})
}
