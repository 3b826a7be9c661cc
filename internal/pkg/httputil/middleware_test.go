package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator map[string]domain.Role

func (s stubValidator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	role, ok := s[token]
	if !ok {
		return "", "", errors.New("bad token")
	}
	return "user-" + token, role, nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestAuthMiddleware(t *testing.T) {
	validator := stubValidator{"admin-token": domain.RoleAdmin, "user-token": domain.RoleUser}
	handler := AuthMiddleware(validator)(RequireRole(domain.RoleAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Text(w, http.StatusOK, GetUserID(r.Context()))
		}),
	))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantCode: CodeUnauthorized},
		{name: "wrong scheme", header: "Basic admin-token", wantStatus: http.StatusUnauthorized, wantCode: CodeUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantCode: CodeUnauthorized},
		{name: "unknown token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantCode: CodeUnauthorized},
		{name: "insufficient role", header: "Bearer user-token", wantStatus: http.StatusForbidden, wantCode: CodeForbidden},
		{name: "admin", header: "Bearer admin-token", wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer admin-token", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, rec))
			} else {
				assert.Equal(t, "user-admin-token", rec.Body.String())
			}
		})
	}
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	handler := RequireRole(domain.RoleUser)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://console.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/broadcasts", nil)
		req.Header.Set("Origin", "https://console.example")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://console.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHandleError(t *testing.T) {
	errKnown := errors.New("known")
	mappings := []ErrorMapping{
		{Error: errKnown, Status: http.StatusServiceUnavailable, Code: "known_down", Message: "try later"},
	}

	rec := httptest.NewRecorder()
	HandleError(context.Background(), rec, errors.Join(errKnown, errors.New("dial tcp")), mappings)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "known_down", errorCode(t, rec))

	rec = httptest.NewRecorder()
	HandleError(context.Background(), rec, errors.New("boom"), mappings)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, errorCode(t, rec))
}
