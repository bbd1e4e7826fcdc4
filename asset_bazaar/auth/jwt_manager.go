package auth

import (
	"bms_platform/asset_bazaar/schema"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
)

const (
	SessionCookieName = "bms_session"

	userIdKey = "user_id"
)

type JwtManager struct {
	auth   *jwtauth.JWTAuth
	expiry time.Duration
}

const defaultSessionExpiry = 7 * 24 * time.Hour

func NewJwtManager(secret []byte, expiry time.Duration) *JwtManager {
	if expiry <= 0 {
		expiry = defaultSessionExpiry
	}
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil), expiry: expiry}
}

// Verifier reads the token from the Authorization header or the session cookie.
func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verify(m.auth, jwtauth.TokenFromHeader, jwtauth.TokenFromCookie, tokenFromSessionCookie)
}

func (m *JwtManager) Authenticator() func(http.Handler) http.Handler {
	return jwtauth.Authenticator(m.auth)
}

func tokenFromSessionCookie(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (m *JwtManager) CreateUserJwt(userId string) (string, error) {
	claims := map[string]interface{}{
		userIdKey: userId,
		"exp":     time.Now().Add(m.expiry),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}

func (m *JwtManager) SessionCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.expiry.Seconds()),
	}
}

func ValueFromContext(r *http.Request, key string) (string, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return "", fmt.Errorf("error retrieving auth claims: %w", err)
	}

	valueUncasted, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("invalid token: unable to locate key %v in claims", key)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return "", fmt.Errorf("invalid token: value for key %v has invalid type", key)
	}

	return value, nil
}

func UserFromContext(r *http.Request) (schema.User, error) {
	userUntyped := r.Context().Value(userRequestContextKey)
	if userUntyped == nil {
		return schema.User{}, fmt.Errorf("user field not found in request context")
	}
	user, ok := userUntyped.(schema.User)
	if !ok {
		return schema.User{}, fmt.Errorf("invalid value for user field")
	}
	return user, nil
}

// OptionalUserFromContext returns nil for anonymous requests.
func OptionalUserFromContext(r *http.Request) *schema.User {
	user, err := UserFromContext(r)
	if err != nil {
		return nil
	}
	return &user
}
