package tenant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newAdminServer(t *testing.T) (*echo.Echo, *Store) {
	t.Helper()

	store := setupTestStore(t)
	h := NewHandler(store, nil)

	e := echo.New()
	h.RegisterRoutes(e.Group("/admin"))
	return e, store
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreate_ReturnsSecret(t *testing.T) {
	e, _ := newAdminServer(t)

	rec := doJSON(e, http.MethodPost, "/admin/tenants/tenant-a/keys", `{"name":"ci"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}

	var resp keyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp.TenantID != "tenant-a" || resp.Name != "ci" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Secret == "" {
		t.Error("create response must include the plaintext secret")
	}
}

func TestHandlerCreate_RequiresName(t *testing.T) {
	e, _ := newAdminServer(t)

	rec := doJSON(e, http.MethodPost, "/admin/tenants/tenant-a/keys", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandlerList_OmitsSecrets(t *testing.T) {
	e, _ := newAdminServer(t)

	if rec := doJSON(e, http.MethodPost, "/admin/tenants/tenant-a/keys", `{"name":"ci"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec := doJSON(e, http.MethodGet, "/admin/tenants/tenant-a/keys", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.Contains(rec.Body.String(), `"secret"`) {
		t.Error("list response must not carry secrets")
	}
	if strings.Contains(rec.Body.String(), `"secret_hash"`) {
		t.Error("list response must not carry hashes")
	}
}

func TestHandlerRevoke(t *testing.T) {
	e, store := newAdminServer(t)

	rec := doJSON(e, http.MethodPost, "/admin/tenants/tenant-a/keys", `{"name":"ci"}`)
	var resp keyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}

	if rec := doJSON(e, http.MethodDelete, "/admin/keys/"+resp.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if _, err := store.GetByID(context.Background(), resp.ID); err == nil {
		t.Error("key still present after revoke")
	}

	if rec := doJSON(e, http.MethodDelete, "/admin/keys/key_missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("revoke missing key status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
