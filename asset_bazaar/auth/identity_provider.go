package auth

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials   = errors.New("invalid login credentials")
	ErrGeneratingJwt        = errors.New("error generating jwt")
	ErrUsernameAlreadyInUse = errors.New("username is already in use")
)

type LoginResult struct {
	UserId      string
	AccessToken string
}

type IdentityProvider interface {
	// AuthMiddleware rejects requests without a valid session.
	AuthMiddleware() chi.Middlewares

	// OptionalAuthMiddleware adds the user to the context when a valid session
	// is present and lets anonymous requests through otherwise.
	OptionalAuthMiddleware() chi.Middlewares

	// Routes are the provider specific login endpoints, mounted under /auth.
	Routes() chi.Router
}

type requestContextKey string

const userRequestContextKey requestContextKey = "user"

// WithUser is used by tests and internal callers that resolve the user
// themselves.
func WithUser(ctx context.Context, user schema.User) context.Context {
	return context.WithValue(ctx, userRequestContextKey, user)
}

type sessionAuth struct {
	jwtManager *JwtManager
	db         *gorm.DB
	auditLog   AuditLogger
}

func (auth *sessionAuth) addUserToContext(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			userId, err := ValueFromContext(r, userIdKey)
			if err != nil {
				if required {
					http.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			user, err := schema.GetUser(userId, auth.db)
			if err != nil {
				if errors.Is(err, schema.ErrUserNotFound) {
					if required {
						http.Error(w, fmt.Sprintf("session user %v no longer exists", userId), http.StatusUnauthorized)
						return
					}
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, fmt.Sprintf("unable to find user %v: %v", userId, err), http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		}

		return http.HandlerFunc(handler)
	}
}

func (auth *sessionAuth) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.jwtManager.Authenticator(), auth.addUserToContext(true), auth.auditLog.Middleware}
}

func (auth *sessionAuth) OptionalAuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.addUserToContext(false)}
}

func (auth *sessionAuth) Logout(w http.ResponseWriter, r *http.Request) {
	cookie := auth.jwtManager.SessionCookie("", false)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	utils.WriteSuccess(w)
}

// addInitialAdminToDb creates the user if no user with the same id or
// username exists yet, and makes sure it holds the admin role.
func addInitialAdminToDb(db *gorm.DB, admin schema.User) error {
	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or username = ?", admin.Id, admin.Username)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			if !existingUser.AddRole(schema.RoleAdmin) {
				return nil
			}
			result := txn.Model(&existingUser).Update("roles", existingUser.Roles)
			if result.Error != nil {
				slog.Error("sql error granting admin role to initial admin", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			return nil
		}

		admin.AddRole(schema.RoleAdmin)
		if admin.AvatarUrl == "" {
			admin.AvatarUrl = schema.DefaultAvatarUrl(admin.Id)
		}
		result = txn.Create(&admin)
		if result.Error != nil {
			slog.Error("sql error creating initial admin user", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}
