package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peoplecounter/internal/auth"
)

func protected(t *testing.T, cfg auth.Config) (http.Handler, *auth.Authenticator) {
	t.Helper()
	a, err := auth.NewAuthenticator(cfg)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Write([]byte(claims.Username))
			return
		}
		w.Write([]byte("anonymous"))
	})
	return AuthMiddleware(a)(next), a
}

func TestAuthMiddleware(t *testing.T) {
	h, a := protected(t, auth.Config{Enabled: true, Username: "ops", Password: "pw", JWTSecret: "k"})
	token, _, err := a.Authenticate("ops", "pw")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		code   int
		body   string
	}{
		{name: "missing", code: http.StatusUnauthorized, body: "missing authorization header"},
		{name: "bad format", header: "Token abc", code: http.StatusUnauthorized, body: "invalid authorization header format"},
		{name: "bad token", header: "Bearer abc", code: http.StatusUnauthorized, body: "invalid token"},
		{name: "valid", header: "Bearer " + token, code: http.StatusOK, body: "ops"},
		{name: "query token", query: "?token=" + token, code: http.StatusOK, body: "ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/occupancy"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	h, _ := protected(t, auth.Config{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "ops", Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)
	token, _, err := a.Authenticate("ops", "pw")
	require.NoError(t, err)

	h := OptionalAuth(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Write([]byte(claims.Username))
			return
		}
		w.Write([]byte("anonymous"))
	}))

	for header, want := range map[string]string{
		"":                "anonymous",
		"Bearer garbage":  "anonymous",
		"Bearer " + token: "ops",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, rec.Body.String())
	}
}
