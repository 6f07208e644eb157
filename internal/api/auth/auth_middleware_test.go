package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactbook/contactbook/config"
	"github.com/contactbook/contactbook/internal/types"
)

func protectedEcho(t *testing.T) (http.Handler, *string, *[]string) {
	t.Helper()
	var gotUserID string
	var gotRoles []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = GetUserIDFromContext(r.Context())
		gotRoles, _ = GetUserRolesFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return next, &gotUserID, &gotRoles
}

func TestAuthenticate(t *testing.T) {
	jwtCfg := config.JWTConfig{
		SecretKey: "test-secret-key",
		Issuer:    "test-issuer",
		Audience:  "test-audience",
	}
	middleware := Authenticate(slog.Default(), jwtCfg)

	t.Run("ValidToken", func(t *testing.T) {
		user := testUser("bearer@example.com")
		token, err := generateSessionToken(user, []string{"Admin"}, jwtCfg)
		require.NoError(t, err)

		next, gotUserID, gotRoles := protectedEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account-data", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		middleware(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, user.ID.String(), *gotUserID)
		assert.Equal(t, []string{"Admin"}, *gotRoles)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		next, _, _ := protectedEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account-data", nil)
		rr := httptest.NewRecorder()
		middleware(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		next, _, _ := protectedEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account-data", nil)
		req.Header.Set("Authorization", "Token abc")
		rr := httptest.NewRecorder()
		middleware(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("WrongSignature", func(t *testing.T) {
		otherCfg := config.JWTConfig{SecretKey: "different-secret", Issuer: "test-issuer", Audience: "test-audience"}
		user := testUser("forged@example.com")
		token, err := generateSessionToken(user, nil, otherCfg)
		require.NoError(t, err)

		next, _, _ := protectedEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account-data", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		middleware(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		otherCfg := config.JWTConfig{SecretKey: "test-secret-key", Issuer: "someone-else", Audience: "test-audience"}
		user := testUser("issuer@example.com")
		token, err := generateSessionToken(user, nil, otherCfg)
		require.NoError(t, err)

		next, _, _ := protectedEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account-data", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		middleware(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRequireRole(t *testing.T) {
	jwtCfg := config.JWTConfig{
		SecretKey: "test-secret-key",
		Issuer:    "test-issuer",
		Audience:  "test-audience",
	}
	authn := Authenticate(slog.Default(), jwtCfg)
	admin := RequireRole(slog.Default(), "Admin")

	run := func(t *testing.T, roles []string) *httptest.ResponseRecorder {
		t.Helper()
		user := &types.UserIdentity{ID: testUser("roles@example.com").ID}
		token, err := generateSessionToken(user, roles, jwtCfg)
		require.NoError(t, err)

		next, _, _ := protectedEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account-data", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		authn(admin(next)).ServeHTTP(rr, req)
		return rr
	}

	t.Run("HasRole", func(t *testing.T) {
		rr := run(t, []string{"Admin"})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("LacksRole", func(t *testing.T) {
		rr := run(t, []string{"Viewer"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}
