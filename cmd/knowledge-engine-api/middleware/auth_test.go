package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func operatorEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(OperatorFromContext(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth(AuthConfig{Enabled: true, APIKeys: []string{"secret-1", " secret-2 "}})(operatorEcho())

	tests := []struct {
		name   string
		header map[string]string
		status int
	}{
		{"bearer", map[string]string{"Authorization": "Bearer secret-1"}, http.StatusOK},
		{"x-api-key", map[string]string{"X-API-Key": "secret-2"}, http.StatusOK},
		{"lowercase scheme", map[string]string{"Authorization": "bearer secret-2"}, http.StatusOK},
		{"missing", nil, http.StatusUnauthorized},
		{"wrong key", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"basic scheme", map[string]string{"Authorization": "Basic secret-1"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/kb", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), "key:")
			}
		})
	}
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	handler := APIKeyAuth(AuthConfig{})(operatorEcho())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())
}

func TestCORS_Preflight(t *testing.T) {
	handler := CORS([]string{"https://admin.example.com"})(operatorEcho())
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/kb", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
