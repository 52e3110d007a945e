package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/metrics"
	"konsinyasi/backend/internal/service"
	"konsinyasi/backend/internal/store"
)

const consignmentsPrefix = "/api/v1/consignments/"

type Options struct {
	AllowedOrigin       string
	Logger              *zap.Logger
	Metrics             *metrics.Metrics
	WriteLimitPerMinute int
}

type API struct {
	service       *service.Service
	allowedOrigin string
	writeLimiter  *attemptLimiter
	log           *zap.Logger
	metrics       *metrics.Metrics
}

func New(svc *service.Service, opts Options) *API {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	writeLimit := opts.WriteLimitPerMinute
	if writeLimit < 1 {
		writeLimit = 120
	}
	return &API{
		service:       svc,
		allowedOrigin: opts.AllowedOrigin,
		writeLimiter:  newAttemptLimiter(writeLimit, time.Minute),
		log:           log,
		metrics:       opts.Metrics,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", a.metrics.Handler())

	mux.HandleFunc("/api/v1/clients", a.handleClients)
	mux.HandleFunc("/api/v1/products", a.handleProducts)
	mux.HandleFunc("/api/v1/audit-logs", a.handleAuditLogs)
	mux.HandleFunc("/api/v1/consignments", a.handleConsignments)
	mux.HandleFunc(consignmentsPrefix, a.handleConsignmentActions)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	clients, err := a.service.ListClients(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleConsignments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		filter := domain.ConsignmentFilter{
			Search: strings.TrimSpace(query.Get("q")),
			Status: strings.TrimSpace(query.Get("status")),
			Limit:  parsePositiveLimit(query.Get("limit"), 0, 500),
		}
		consignments, err := a.service.List(r.Context(), filter)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"consignments": consignments})
	case http.MethodPost:
		var req domain.IssueRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.Issue(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"consignment": created})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleConsignmentActions serves /api/v1/consignments/{id}[/action] and the
// summary endpoint.
func (a *API) handleConsignmentActions(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, consignmentsPrefix), "/")
	parts := strings.Split(tail, "/")
	if tail == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}

	id := strings.TrimSpace(parts[0])
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case id == "summary" && action == "":
		a.handleSummary(w, r)
	case action == "":
		a.handleConsignment(w, r, id)
	case action == "settlement-preview":
		a.handleSettlementPreview(w, r, id)
	case action == "settlements":
		a.handleSettlements(w, r, id)
	case action == "return-all":
		a.handleReturnAll(w, r, id)
	default:
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	}
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	summary, err := a.service.Summary(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (a *API) handleConsignment(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	c, err := a.service.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consignment": c})
}

func (a *API) handleSettlementPreview(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SettlementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.Preview(r.Context(), id, req.Items)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (a *API) handleSettlements(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		history, err := a.service.ListSettlements(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settlements": history})
	case http.MethodPost:
		var req domain.SettlementRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.RecordSettlement(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleReturnAll(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.ReturnAll(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConsignmentNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidDelta),
		errors.Is(err, domain.ErrEmptyItemList),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrNothingToSettle):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownClient), errors.Is(err, domain.ErrUnknownProduct):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConsignmentClosed),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides 5xx details from clients; 4xx messages are user-facing.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
