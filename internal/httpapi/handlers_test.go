package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/metrics"
	"konsinyasi/backend/internal/service"
	"konsinyasi/backend/internal/store/memory"
)

// newTestAPI wires the real service over a seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	svc := service.New(memory.NewSeeded())
	return New(svc, Options{AllowedOrigin: "*", Metrics: metrics.New()})
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestIssueConsignment(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/consignments", map[string]any{
		"client_id":      "2",
		"items":          []map[string]any{{"product_id": "3", "quantity": 10}},
		"advance_amount": "500",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Consignment domain.Consignment `json:"consignment"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Consignment.ID != "CON-005" || body.Consignment.TotalValue.StringFixed(2) != "799.90" {
		t.Fatalf("unexpected consignment %+v", body.Consignment)
	}
}

func TestIssueConsignmentErrors(t *testing.T) {
	handler := newTestAPI(t).Handler()

	cases := []struct {
		name    string
		payload map[string]any
		want    int
	}{
		{"empty items", map[string]any{"client_id": "1", "items": []any{}}, http.StatusBadRequest},
		{"unknown client", map[string]any{"client_id": "42", "items": []map[string]any{{"product_id": "1", "quantity": 1}}}, http.StatusUnprocessableEntity},
		{"unknown product", map[string]any{"client_id": "1", "items": []map[string]any{{"product_id": "42", "quantity": 1}}}, http.StatusUnprocessableEntity},
		{"insufficient stock", map[string]any{"client_id": "1", "items": []map[string]any{{"product_id": "5", "quantity": 500}}}, http.StatusConflict},
		{"unknown field", map[string]any{"client_id": "1", "store_id": "x"}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/consignments", tc.payload)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (body: %s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestListAndGetConsignments(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/consignments?status=partially_settled", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Consignments []domain.Consignment `json:"consignments"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Consignments) != 1 || list.Consignments[0].ID != "CON-001" {
		t.Fatalf("unexpected list %+v", list.Consignments)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/consignments/CON-003", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/consignments/CON-999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown consignment, got %d", rec.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/consignments/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Summary domain.ConsignmentSummary `json:"summary"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if body.Summary.ActiveCount != 2 || body.Summary.TotalConsignedValue.StringFixed(2) != "8299.65" {
		t.Fatalf("unexpected summary %+v", body.Summary)
	}
}

func TestSettlementFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	settle := map[string]any{"items": []map[string]any{{"item_id": "item-1", "sold": 3}}}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/consignments/CON-001/settlement-preview", settle)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/consignments/CON-001/settlements", settle)
	if rec.Code != http.StatusOK {
		t.Fatalf("settle expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.SettlementResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode settlement: %v", err)
	}
	if resp.Consignment.Status != domain.StatusPartiallySettled || len(resp.Sales) != 1 {
		t.Fatalf("unexpected settlement response %+v", resp)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/consignments/CON-001/settlements", settle)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for delta beyond remaining, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/consignments/CON-001/settlements", map[string]any{"items": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for nothing to settle, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/consignments/CON-001/settlements", nil)
	var history struct {
		Settlements []domain.Settlement `json:"settlements"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Settlements) != 1 {
		t.Fatalf("expected one settlement in history, got %d", len(history.Settlements))
	}
}

func TestReturnAllThenClosed(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/consignments/CON-002/return-all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.ReturnAllResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode return-all: %v", err)
	}
	if resp.Consignment.Status != domain.StatusReturned || resp.Result.RefundDue.StringFixed(2) != "500.00" {
		t.Fatalf("unexpected return-all response %+v", resp)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/consignments/CON-002/return-all", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on closed consignment, got %d", rec.Code)
	}
}

func TestOperatorHeaderIsAudited(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/consignments/CON-002/return-all", nil)
	req.Header.Set(operatorHeader, "siti")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs?limit=5", nil)
	var body struct {
		Logs []domain.AuditLog `json:"logs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].ActorUsername != "siti" {
		t.Fatalf("unexpected audit logs %+v", body.Logs)
	}
}

func TestCatalogListings(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/clients", nil)
	var clients struct {
		Clients []domain.Client `json:"clients"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&clients); err != nil {
		t.Fatalf("decode clients: %v", err)
	}
	if len(clients.Clients) != 4 {
		t.Fatalf("expected 4 clients, got %d", len(clients.Clients))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", nil)
	var products struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&products); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(products.Products) != 5 {
		t.Fatalf("expected 5 products, got %d", len(products.Products))
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/clients", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestUnknownConsignmentRoute(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/consignments/CON-001/archive", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
