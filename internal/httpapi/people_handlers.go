package httpapi

import (
	"net/http"
	"strings"

	"finbook.org/internal/audit"
	"finbook.org/internal/finance"
)

type createPersonRequest struct {
	FullName string `json:"person_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Note     string `json:"note"`
}

type createAssetRequest struct {
	Name            string `json:"asset_name"`
	Type            string `json:"asset_type"`
	Currency        string `json:"currency"`
	InitialValue    int64  `json:"initial_value"`
	LinkedAccountID string `json:"linked_account_id"`
	AcquiredAt      string `json:"acquired_at"`
	Notes           string `json:"notes"`
}

func (a *API) handlePeople(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listPeople(w, r)
	case http.MethodPost:
		a.createPerson(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createPerson(w http.ResponseWriter, r *http.Request) {
	var req createPersonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.svc.CreatePerson(r.Context(), finance.CreatePersonInput{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Note:     req.Note,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "person.create", map[string]any{"person_id": p.ID})
	w.Header().Set("Location", "/v1/people/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listPeople(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	people, total, err := a.svc.ListPeople(r.Context(), page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if people == nil {
		people = []finance.Person{}
	}
	writeList(w, people, page, total)
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	categories, err := a.svc.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if categories == nil {
		categories = []finance.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": categories})
}

func (a *API) handleAssets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAssets(w, r)
	case http.MethodPost:
		a.createAsset(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := finance.CreateAssetInput{
		Name:            req.Name,
		Type:            finance.AssetType(req.Type),
		Currency:        req.Currency,
		InitialValue:    req.InitialValue,
		LinkedAccountID: req.LinkedAccountID,
		Notes:           req.Notes,
	}
	if raw := strings.TrimSpace(req.AcquiredAt); raw != "" {
		t, ok := parseTxDate(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "acquired_at must be RFC3339 or YYYY-MM-DD")
			return
		}
		in.AcquiredAt = &t
	}

	asset, err := a.svc.CreateAsset(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "asset.create", map[string]any{"asset_id": asset.ID})
	w.Header().Set("Location", "/v1/assets/"+asset.ID)
	writeJSON(w, http.StatusCreated, asset)
}

func (a *API) listAssets(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assets, total, err := a.svc.ListAssets(r.Context(), page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if assets == nil {
		assets = []finance.Asset{}
	}
	writeList(w, assets, page, total)
}
