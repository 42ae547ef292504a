package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finbook.org/internal/audit"
	"finbook.org/internal/finance"
	"finbook.org/internal/obs"
	"finbook.org/internal/stream"
)

// ReadyProbe — readiness check (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the tracker service.
type API struct {
	mux        *http.ServeMux
	svc        finance.Service
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
}

func New(svc finance.Service, rp ReadyProbe, st *stream.Stream, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		stream:     st,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/transactions", a.handleTransactionsCollection)
	a.mux.HandleFunc("/v1/transactions/", a.handleTransactionResource)
	a.mux.HandleFunc("/v1/people", a.handlePeople)
	a.mux.HandleFunc("/v1/categories", a.handleCategories)
	a.mux.HandleFunc("/v1/debt", a.handleDebtCollection)
	a.mux.HandleFunc("/v1/debt/", a.handleDebtResource)
	a.mux.HandleFunc("/v1/cashback", a.handleCashbackCollection)
	a.mux.HandleFunc("/v1/cashback/", a.handleCashbackResource)
	a.mux.HandleFunc("/v1/assets", a.handleAssets)

	a.mux.HandleFunc("/v1/stream/transactions", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wires the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 100, 50)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "finbook-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "finbook-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeList wraps collection responses in the pagination envelope.
func writeList(w http.ResponseWriter, data any, page finance.Page, total int) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"pagination": map[string]any{
			"limit":   page.Limit,
			"offset":  page.Offset,
			"total":   total,
			"hasMore": page.Offset+page.Limit < total,
		},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeValidationError(w http.ResponseWriter, r *http.Request, ve *finance.ValidationError) {
	payload := map[string]any{
		"error":   "validation failed",
		"details": map[string]string{ve.Field: ve.Msg},
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *finance.ValidationError
	switch {
	case errors.As(err, &ve):
		writeValidationError(w, r, ve)
	case errors.Is(err, finance.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, finance.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// pageFromQuery reads limit/offset, clamped to service defaults.
func pageFromQuery(r *http.Request) (finance.Page, error) {
	var page finance.Page
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, errors.New("limit must be a non-negative integer")
		}
		page.Limit = v
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, errors.New("offset must be a non-negative integer")
		}
		page.Offset = v
	}
	return page.Clamp(), nil
}
