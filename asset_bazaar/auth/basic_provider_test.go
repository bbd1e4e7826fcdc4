package auth_test

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/schema"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.AllModels()...))
	return db
}

// protectedRouter mounts the provider routes under /auth next to a route that
// requires a session and echoes the session user.
func protectedRouter(provider auth.IdentityProvider) chi.Router {
	r := chi.NewRouter()
	r.Mount("/auth", provider.Routes())

	whoami := func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.UserFromContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": user.Id, "roles": user.Roles})
	}
	r.With(provider.AuthMiddleware()...).Get("/me", whoami)
	r.With(provider.AuthMiddleware()...).Post("/me", whoami)
	r.With(provider.OptionalAuthMiddleware()...).Get("/maybe", func(w http.ResponseWriter, r *http.Request) {
		if user := auth.OptionalUserFromContext(r); user != nil {
			_, _ = w.Write([]byte(user.Id))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	})
	return r
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type whoamiResponse struct {
	Id    string            `json:"id"`
	Roles []schema.UserRole `json:"roles"`
}

func TestBasicProviderLogin(t *testing.T) {
	db := setupDb(t)
	audit := &bytes.Buffer{}

	provider, err := auth.NewBasicIdentityProvider(db, auth.NewAuditLogger(audit), auth.BasicProviderArgs{
		Secret: []byte("test-secret"), AdminUsername: "admin", AdminPassword: "admin-password",
	})
	require.NoError(t, err)
	router := protectedRouter(provider)

	signup := func(username, password string) *httptest.ResponseRecorder {
		body := strings.NewReader(`{"username":"` + username + `","password":"` + password + `"}`)
		return serve(router, httptest.NewRequest(http.MethodPost, "/auth/signup", body))
	}

	res := signup("mapper", "password123")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var signupRes struct {
		UserId string `json:"user_id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&signupRes))
	assert.NotEmpty(t, signupRes.UserId)

	assert.Equal(t, http.StatusConflict, signup("mapper", "password456").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, signup("other", "short").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, signup("", "password123").Code)

	login := func(username, password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		req.SetBasicAuth(username, password)
		return serve(router, req)
	}

	assert.Equal(t, http.StatusUnauthorized, login("mapper", "wrong-password").Code)
	assert.Equal(t, http.StatusUnauthorized, login("nobody", "password123").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, httptest.NewRequest(http.MethodGet, "/auth/login", nil)).Code)

	res = login("mapper", "password123")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var loginRes struct {
		UserId      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&loginRes))
	assert.Equal(t, signupRes.UserId, loginRes.UserId)

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.SessionCookieName, cookies[0].Name)
	assert.Equal(t, loginRes.AccessToken, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// Bearer token.
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+loginRes.AccessToken)
	res = serve(router, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var me whoamiResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&me))
	assert.Equal(t, signupRes.UserId, me.Id)
	assert.Empty(t, me.Roles)

	// Session cookie.
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, http.StatusOK, serve(router, req).Code)

	assert.Equal(t, http.StatusUnauthorized, serve(router, httptest.NewRequest(http.MethodGet, "/me", nil)).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code)

	res = serve(router, httptest.NewRequest(http.MethodGet, "/maybe", nil))
	assert.Equal(t, "anonymous", res.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.Header.Set("Authorization", "Bearer "+loginRes.AccessToken)
	assert.Equal(t, signupRes.UserId, serve(router, req).Body.String())

	// Only mutating requests are audited.
	assert.NotContains(t, audit.String(), signupRes.UserId)
	req = httptest.NewRequest(http.MethodPost, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+loginRes.AccessToken)
	assert.Equal(t, http.StatusOK, serve(router, req).Code)
	assert.Contains(t, audit.String(), signupRes.UserId)
}

func TestBasicProviderInitialAdmin(t *testing.T) {
	db := setupDb(t)
	args := auth.BasicProviderArgs{Secret: []byte("test-secret"), AdminUsername: "admin", AdminPassword: "admin-password"}

	provider, err := auth.NewBasicIdentityProvider(db, auth.NewAuditLogger(io.Discard), args)
	require.NoError(t, err)

	// Restarting with the same admin does not create a second account.
	_, err = auth.NewBasicIdentityProvider(db, auth.NewAuditLogger(io.Discard), args)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&schema.User{}).Where("username = ?", "admin").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	login, err := provider.LoginWithPassword("admin", "admin-password")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	res := serve(protectedRouter(provider), req)
	require.Equal(t, http.StatusOK, res.Code)
	var me whoamiResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&me))
	assert.Equal(t, []schema.UserRole{schema.RoleAdmin}, me.Roles)
}

func TestSessionForDeletedUser(t *testing.T) {
	db := setupDb(t)
	provider, err := auth.NewBasicIdentityProvider(db, auth.NewAuditLogger(io.Discard), auth.BasicProviderArgs{
		Secret: []byte("test-secret"), AdminUsername: "admin", AdminPassword: "admin-password",
	})
	require.NoError(t, err)

	userId, err := provider.CreateUser("mapper", "password123")
	require.NoError(t, err)
	login, err := provider.LoginWithPassword("mapper", "password123")
	require.NoError(t, err)

	require.NoError(t, db.Delete(&schema.User{}, "id = ?", userId).Error)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, serve(protectedRouter(provider), req).Code)

	_, err = provider.LoginWithPassword("mapper", "password123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// Deleted usernames stay reserved.
	_, err = provider.CreateUser("mapper", "password123")
	assert.ErrorIs(t, err, auth.ErrUsernameAlreadyInUse)
}
