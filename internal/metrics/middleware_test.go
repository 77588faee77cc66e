package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEndpointCollapsesIdentifiers(t *testing.T) {
	cases := map[string]string{
		"/healthz":                                    "/healthz",
		"/api/v1/products":                            "/api/v1/products",
		"/api/v1/products/SKU-1":                      "/api/v1/products/:id",
		"/api/v1/stock-counts/cnt-1/items":            "/api/v1/stock-counts/:id/items",
		"/api/v1/inventory/transactions":              "/api/v1/inventory/transactions",
		"/api/v1/inventory/transactions/itx-9/status": "/api/v1/inventory/transactions/:id/status",
	}
	for in, want := range cases {
		if got := Endpoint(in); got != want {
			t.Fatalf("Endpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareCountsErrors(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(HTTPErrorsTotal.WithLabelValues("/teapot", "418", http.MethodGet))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
	after := testutil.ToFloat64(HTTPErrorsTotal.WithLabelValues("/teapot", "418", http.MethodGet))
	if after-before != 1 {
		t.Fatalf("expected one error counted, got %v", after-before)
	}
}
