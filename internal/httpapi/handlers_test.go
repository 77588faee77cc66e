package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/events"
	"stockline/backend/internal/ledger"
	"stockline/backend/internal/realtime"
	"stockline/backend/internal/realtime/hub"
	"stockline/backend/internal/service"
	"stockline/backend/internal/stockcount"
	"stockline/backend/internal/store"
	"stockline/backend/internal/store/memory"
)

// newTestAPI wires the in-memory store, the real ledger and a real
// AuthManager so handler tests run the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	api, _ := newTestAPIWithHub(t)
	return api
}

func newTestAPIWithHub(t *testing.T) (*API, *hub.Hub) {
	t.Helper()

	repo := memory.NewSeeded(nil)
	rt := hub.New(nil, func(*http.Request) bool { return true })
	notifier := events.Fanout{events.NewRecorder()}
	l := ledger.New(repo, nil, nil, notifier, ledger.Config{DefaultStoreID: "main-store"}, nil)
	counts := stockcount.New(repo, l, nil, notifier, "main-store", nil)
	svc := service.New(repo, l, counts, nil, notifier, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, rt, "*", nil), rt
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if body["default_store_id"] != "main-store" {
		t.Fatalf("expected default store main-store, got %v", body["default_store_id"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	decodeBody(t, rec, &body)
	if body.AccessToken == "" || body.Role != domain.RoleAdmin {
		t.Fatalf("unexpected login response %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_ListAndGet(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var list struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &list)
	if len(list.Products) != 8 {
		t.Fatalf("expected 8 seeded products, got %d", len(list.Products))
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/sku-helmet-01", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/SKU-NOPE", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateProductForbiddenForStaff(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		SKU: "SKU-NEW", Name: "New", Category: "misc", PriceCents: 100,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRecordTransactionAndReadStock(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/inventory/transactions", token, domain.InventoryTransactionRequest{
		SKU: "SKU-GLOVE-L", Type: domain.TransactionOut, Quantity: 5, Reason: "issued to crew",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction domain.InventoryTransaction `json:"transaction"`
	}
	decodeBody(t, rec, &created)
	if created.Transaction.NewStock != 115 || created.Transaction.PerformedBy != "staff" {
		t.Fatalf("unexpected transaction %+v", created.Transaction)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/stock/SKU-GLOVE-L", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var level domain.StockLevel
	decodeBody(t, rec, &level)
	if level.Current != 115 || !level.Consistent {
		t.Fatalf("unexpected stock level %+v", level)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/transactions?sku=sku-glove-l&limit=10", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var list struct {
		Transactions []domain.InventoryTransaction `json:"transactions"`
	}
	decodeBody(t, rec, &list)
	if len(list.Transactions) != 2 {
		t.Fatalf("expected opening balance plus one out, got %d", len(list.Transactions))
	}
}

func TestRecordTransactionOverdrawIs400(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/inventory/transactions", token, domain.InventoryTransactionRequest{
		SKU: "SKU-GLOVE-L", Type: domain.TransactionOut, Quantity: 500,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestListTransactionsRejectsBadDate(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/inventory/transactions?from=yesterday", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStaffApprovesPendingWithManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/inventory/transactions", token, domain.InventoryTransactionRequest{
		SKU: "SKU-TAPE-50", Type: domain.TransactionOut, Quantity: 3, Pending: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction domain.InventoryTransaction `json:"transaction"`
	}
	decodeBody(t, rec, &created)

	path := "/api/v1/inventory/transactions/" + created.Transaction.ID + "/status"
	rec = doJSON(t, api, http.MethodPatch, path, token, domain.TransactionStatusRequest{Status: domain.StatusApproved, ManagerPIN: "999999"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPatch, path, token, domain.TransactionStatusRequest{Status: domain.StatusApproved, ManagerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPatch, path, token, domain.TransactionStatusRequest{Status: domain.StatusRejected, ManagerPIN: "123456"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for approved -> rejected, got %d", rec.Code)
	}
}

func TestStockCountLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	manager := login(t, api, "manager", "manager123")
	staff := login(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/stock-counts", manager, domain.StockCountCreateRequest{SKUs: []string{"SKU-PALLET-01"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		StockCount domain.StockCount `json:"stock_count"`
	}
	decodeBody(t, rec, &created)
	base := "/api/v1/stock-counts/" + created.StockCount.ID

	rec = doJSON(t, api, http.MethodPost, base+"/finalize", manager, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for incomplete count, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, base+"/items", staff, domain.StockCountRecordRequest{SKU: "SKU-PALLET-01", ActualQuantity: 117})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, base+"/finalize", staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected staff finalize to be 403, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, base+"/finalize", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var done struct {
		StockCount domain.StockCount `json:"stock_count"`
	}
	decodeBody(t, rec, &done)
	if done.StockCount.Status != domain.CountCompleted || done.StockCount.TotalVariance != -3 {
		t.Fatalf("unexpected finalized count %+v", done.StockCount)
	}

	rec = doJSON(t, api, http.MethodPost, base+"/finalize", manager, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second finalize, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, base, staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStaffEndpointsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	manager := login(t, api, "manager", "manager123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/users/staff", manager, domain.StaffCreateRequest{Username: "picker01", Password: "pass1234"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/users/staff", admin, domain.StaffCreateRequest{Username: "picker01", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	if token := login(t, api, "picker01", "pass1234"); token == "" {
		t.Fatalf("expected new staff to log in")
	}
}

func TestReorderSuggestionsForManagers(t *testing.T) {
	api := newTestAPI(t)
	staff := login(t, api, "staff", "staff123")
	manager := login(t, api, "manager", "manager123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/inventory/reorder-suggestions", staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/reorder-suggestions?lead_time_days=10", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var report domain.ReorderReport
	decodeBody(t, rec, &report)
	if report.LeadTimeDays != 10 || report.StoreID != "main-store" {
		t.Fatalf("unexpected report header %+v", report)
	}
	// Seeded bolts and nuts sit at 120 against a reorder point of 200.
	if len(report.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %+v", report.Suggestions)
	}
	for _, s := range report.Suggestions {
		if s.SKU != "SKU-BOLT-M8" && s.SKU != "SKU-NUT-M8" {
			t.Fatalf("unexpected suggestion %+v", s)
		}
	}
}

func TestRealtimeRequiresToken(t *testing.T) {
	api, rt := newTestAPIWithHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	srv := httptest.NewServer(api.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/realtime/ws"

	cfg := realtime.DefaultConfig()
	cfg.AutoReconnect = false

	anonymous := realtime.NewConnection(wsURL, cfg)
	if err := anonymous.Connect(context.Background()); err == nil {
		anonymous.Disconnect()
		t.Fatalf("expected handshake without token to fail")
	}

	token := loginAsAdmin(t, api)
	conn := realtime.NewConnection(wsURL+"?access_token="+token, cfg)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect with token: %v", err)
	}
	defer conn.Disconnect()

	if _, err := conn.Ping(context.Background()); err != nil {
		t.Fatalf("ping through api: %v", err)
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&ledger.ValidationError{Field: "quantity", Message: "must be positive"}, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", service.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("product: %w", store.ErrNotFound), http.StatusNotFound},
		{&ledger.ConcurrencyConflictError{StoreID: "s", SKU: "k", Attempts: 3}, http.StatusConflict},
		{&stockcount.IncompleteCountError{ID: "c", Counted: 1, Total: 2}, http.StatusConflict},
		{&stockcount.AlreadyFinalizedError{ID: "c"}, http.StatusConflict},
		{&stockcount.InvalidStateError{ID: "c", Status: domain.CountCancelled, Action: "finalize"}, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// TestMustHashPassword keeps the bcrypt helper honest.
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
