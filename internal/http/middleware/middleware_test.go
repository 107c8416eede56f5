package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/physio-messaging/internal/tenancy"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

func TestTenantScopeStoresTenant(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		r.Use(TenantScope)
		r.Get("/inbound", func(w http.ResponseWriter, req *http.Request) {
			got, _ = tenancy.TenantIDFromContext(req.Context())
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tenants/clinic-a/inbound", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got != "clinic-a" {
		t.Fatalf("expected clinic-a in context, got %q", got)
	}
}

func TestTenantScopeRejectsMissingTenant(t *testing.T) {
	called := false
	rec := httptest.NewRecorder()
	TenantScope(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if called {
		t.Fatalf("handler should not run without a tenant")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"status":202`, `"request_id":"req-123"`, `"path":"/webhooks/whatsapp"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output: %s", want, out)
		}
	}
}
